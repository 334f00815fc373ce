package model

import (
	"strings"
	"time"
)

// DeviceView hides the registration token when listing devices to clients.
type DeviceView struct {
	Token       string     `json:"token"`
	OwnerUserID string     `json:"ownerUserId"`
	DeviceType  DeviceType `json:"deviceType"`
	IsActive    bool       `json:"isActive"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
}

// ToView masks everything but the first four characters of the token.
func ToView(device *DeviceToken) *DeviceView {
	if device == nil {
		return nil
	}
	return &DeviceView{
		Token:       MaskValue(device.Token),
		OwnerUserID: device.OwnerUserID,
		DeviceType:  device.DeviceType,
		IsActive:    device.IsActive,
		LastUsedAt:  device.LastUsedAt,
	}
}

func MaskValue(value string) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= 4 {
		return value
	}
	return string(runes[:4]) + strings.Repeat("*", len(runes)-4)
}
