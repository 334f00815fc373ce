package service

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/bark-labs/pushdispatch/internal/model"
	"github.com/bark-labs/pushdispatch/internal/storage"
)

// RecipientResolver expands targeting criteria into the set of active tokens.
type RecipientResolver struct {
	store  storage.RegistrationStore
	logger *slog.Logger
}

// NewRecipientResolver builds a resolver over the registration store.
func NewRecipientResolver(store storage.RegistrationStore, logger *slog.Logger) *RecipientResolver {
	return &RecipientResolver{store: store, logger: logger}
}

// Resolve issues one store query per populated criterion and returns the
// union, deduplicated by token in first-seen order. An empty result is not an
// error.
func (r *RecipientResolver) Resolve(ctx context.Context, target model.TargetSpec) ([]string, error) {
	filters := filtersFor(target)
	if len(filters) == 0 {
		return nil, nil
	}

	results := make([][]string, len(filters))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range filters {
		g.Go(func() error {
			tokens, err := r.store.ActiveTokens(gctx, f)
			if err != nil {
				return err
			}
			results[i] = tokens
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResolution, err)
	}

	seen := make(map[string]struct{})
	var out []string
	for _, tokens := range results {
		for _, t := range tokens {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	r.logger.Debug("recipients resolved", slog.Int("criteria", len(filters)), slog.Int("count", len(out)))
	return out, nil
}

func filtersFor(target model.TargetSpec) []storage.TokenFilter {
	// broadcast already covers every other criterion
	if target.Broadcast {
		return []storage.TokenFilter{{All: true}}
	}
	var filters []storage.TokenFilter
	if len(target.Tokens) > 0 {
		filters = append(filters, storage.TokenFilter{Tokens: target.Tokens})
	}
	if len(target.UserIDs) > 0 {
		filters = append(filters, storage.TokenFilter{UserIDs: target.UserIDs})
	}
	if len(target.Roles) > 0 {
		filters = append(filters, storage.TokenFilter{Roles: target.Roles})
	}
	if len(target.Departments) > 0 {
		filters = append(filters, storage.TokenFilter{Departments: target.Departments})
	}
	return filters
}
