package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bark-labs/pushdispatch/internal/metrics"
	"github.com/bark-labs/pushdispatch/internal/model"
	"github.com/bark-labs/pushdispatch/internal/storage"
)

// TokenLifecycleManager retires registrations the gateway reported as dead.
type TokenLifecycleManager struct {
	store   storage.RegistrationStore
	metrics *metrics.Registry
	logger  *slog.Logger
}

func NewTokenLifecycleManager(store storage.RegistrationStore, reg *metrics.Registry, logger *slog.Logger) *TokenLifecycleManager {
	return &TokenLifecycleManager{store: store, metrics: reg, logger: logger}
}

// ReconcileFailures deactivates, in one batch, every token whose outcome was
// invalid_registration or not_registered. Quota, network and unknown failures
// leave the registration untouched. It returns how many rows flipped.
func (m *TokenLifecycleManager) ReconcileFailures(ctx context.Context, res model.DispatchResult) (int, error) {
	dead := PermanentFailures(res)
	if len(dead) == 0 {
		return 0, nil
	}
	n, err := m.store.DeactivateTokens(ctx, dead)
	if err != nil {
		return 0, fmt.Errorf("deactivate %d tokens: %w", len(dead), err)
	}
	m.metrics.AddDeactivated(n)
	m.logger.Info("registrations deactivated", slog.Int("count", n), slog.Int("candidates", len(dead)))
	return n, nil
}

// PermanentFailures lists the distinct tokens with a permanent error kind.
func PermanentFailures(res model.DispatchResult) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, o := range res.Outcomes {
		if o.Success || !o.ErrorKind.Permanent() {
			continue
		}
		if _, dup := seen[o.Token]; dup {
			continue
		}
		seen[o.Token] = struct{}{}
		out = append(out, o.Token)
	}
	return out
}
