package model

import (
	"strings"
	"time"
)

// DeviceType is the client platform a registration belongs to.
type DeviceType string

const (
	DeviceTypeWeb     DeviceType = "web"
	DeviceTypeAndroid DeviceType = "android"
	DeviceTypeIOS     DeviceType = "ios"
)

// ParseDeviceType normalises a platform string.
func ParseDeviceType(raw string) (DeviceType, bool) {
	switch DeviceType(strings.ToLower(strings.TrimSpace(raw))) {
	case DeviceTypeWeb:
		return DeviceTypeWeb, true
	case DeviceTypeAndroid:
		return DeviceTypeAndroid, true
	case DeviceTypeIOS:
		return DeviceTypeIOS, true
	default:
		return "", false
	}
}

// DeviceToken is one gateway registration bound to a user/device pair.
type DeviceToken struct {
	Token       string     `json:"token"`
	OwnerUserID string     `json:"ownerUserId"`
	DeviceType  DeviceType `json:"deviceType"`
	IsActive    bool       `json:"isActive"`
	// LastUsedAt is the last time the client registered or refreshed the token.
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// User carries the attributes role and department targeting join against.
type User struct {
	ID         string    `json:"id"`
	Role       int       `json:"role"`
	Department string    `json:"department"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
