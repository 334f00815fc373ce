package storage

import (
	"context"

	"github.com/bark-labs/pushdispatch/internal/model"
)

// TokenFilter selects active registrations by exactly one criterion.
type TokenFilter struct {
	Tokens      []string
	UserIDs     []string
	Roles       []int
	Departments []string
	All         bool
}

// RegistrationStore abstracts device registration persistence.
type RegistrationStore interface {
	// ActiveTokens returns the tokens of active registrations matching filter.
	ActiveTokens(ctx context.Context, filter TokenFilter) ([]string, error)
	// DeactivateTokens marks the given registrations inactive in one batch and
	// returns how many rows flipped from active to inactive.
	DeactivateTokens(ctx context.Context, tokens []string) (int, error)
	UpsertDevice(ctx context.Context, device *model.DeviceToken) error
	GetDevice(ctx context.Context, token string) (*model.DeviceToken, error)
	ListDevices(ctx context.Context) ([]*model.DeviceToken, error)
	UpsertUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
}

// AuditStore is the append-only dispatch log.
type AuditStore interface {
	AppendDispatchLog(ctx context.Context, entry *model.DispatchLogEntry) error
	ListDispatchLogs(ctx context.Context) ([]*model.DispatchLogEntry, error)
}

// Store combines both persistence concerns behind one backend.
type Store interface {
	RegistrationStore
	AuditStore
	Close() error
}
