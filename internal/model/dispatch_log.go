package model

import "time"

// DispatchLogEntry is the append-only audit row written once per invocation.
type DispatchLogEntry struct {
	ID             uint64            `json:"id"`
	InvocationID   string            `json:"invocationId"`
	Target         TargetSpec        `json:"target"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	Image          string            `json:"image,omitempty"`
	Data           map[string]string `json:"data,omitempty"`
	Priority       Priority          `json:"priority"`
	RequestedCount int               `json:"requestedCount"`
	SuccessCount   int               `json:"successCount"`
	FailureCount   int               `json:"failureCount"`
	Errors         []string          `json:"errors,omitempty"`
	CompletedAt    time.Time         `json:"completedAt"`
}

// DispatchLogFilter describes query parameters for audit browsing.
type DispatchLogFilter struct {
	InvocationID string
	OnlyFailures bool
	BeginTime    *time.Time
	EndTime      *time.Time
	Page         int
	PageSize     int
}
