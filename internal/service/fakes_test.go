package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bark-labs/pushdispatch/internal/credential"
	"github.com/bark-labs/pushdispatch/internal/fcm"
	"github.com/bark-labs/pushdispatch/internal/model"
	"github.com/bark-labs/pushdispatch/internal/storage"
)

// memStore is an in-memory storage.Store that records every call.
type memStore struct {
	mu      sync.Mutex
	devices map[string]*model.DeviceToken
	users   map[string]*model.User
	logs    []*model.DispatchLogEntry

	queries       []storage.TokenFilter
	deactivations [][]string
	queryErr      error
	deactivateErr error
	appendErr     error
}

func newMemStore() *memStore {
	return &memStore{devices: map[string]*model.DeviceToken{}, users: map[string]*model.User{}}
}

func (s *memStore) seed(token, owner string, active bool) {
	s.devices[token] = &model.DeviceToken{Token: token, OwnerUserID: owner, DeviceType: model.DeviceTypeWeb, IsActive: active}
}

func (s *memStore) ActiveTokens(_ context.Context, f storage.TokenFilter) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, f)
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	var out []string
	keys := make([]string, 0, len(s.devices))
	for k := range s.devices {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		d := s.devices[k]
		if !d.IsActive {
			continue
		}
		u := s.users[d.OwnerUserID]
		switch {
		case f.All,
			slices.Contains(f.Tokens, d.Token),
			slices.Contains(f.UserIDs, d.OwnerUserID),
			u != nil && slices.Contains(f.Roles, u.Role),
			u != nil && slices.Contains(f.Departments, u.Department):
			out = append(out, d.Token)
		}
	}
	return out, nil
}

func (s *memStore) DeactivateTokens(_ context.Context, tokens []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivations = append(s.deactivations, slices.Clone(tokens))
	if s.deactivateErr != nil {
		return 0, s.deactivateErr
	}
	n := 0
	for _, t := range tokens {
		if d, ok := s.devices[t]; ok && d.IsActive {
			d.IsActive = false
			n++
		}
	}
	return n, nil
}

func (s *memStore) UpsertDevice(_ context.Context, d *model.DeviceToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.devices[d.Token] = &cp
	return nil
}

func (s *memStore) GetDevice(_ context.Context, token string) (*model.DeviceToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[token]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *memStore) ListDevices(context.Context) ([]*model.DeviceToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.DeviceToken, 0, len(s.devices))
	for _, d := range s.devices {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) UpsertUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *memStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) AppendDispatchLog(_ context.Context, e *model.DispatchLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	e.ID = uint64(len(s.logs) + 1)
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now().UTC()
	}
	s.logs = append(s.logs, e)
	return nil
}

func (s *memStore) ListDispatchLogs(context.Context) ([]*model.DispatchLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.logs), nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deactivations)
}

// fakeGateway answers per token; unknown tokens succeed.
type fakeGateway struct {
	mu       sync.Mutex
	errs     map[string]error
	delay    time.Duration
	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	tokens   []string
}

func (g *fakeGateway) Send(ctx context.Context, accessToken string, msg *fcm.Message) (string, error) {
	g.calls.Add(1)
	cur := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		old := g.peak.Load()
		if cur <= old || g.peak.CompareAndSwap(old, cur) {
			break
		}
	}
	g.mu.Lock()
	g.tokens = append(g.tokens, msg.Token)
	err := g.errs[msg.Token]
	g.mu.Unlock()

	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if accessToken == "" {
		return "", errors.New("missing bearer")
	}
	if err != nil {
		return "", err
	}
	return "projects/plant-ops/messages/" + msg.Token, nil
}

// fakeCredentials counts lookups.
type fakeCredentials struct {
	calls atomic.Int32
	err   error
}

func (f *fakeCredentials) GetCredential(context.Context) (credential.Credential, error) {
	f.calls.Add(1)
	if f.err != nil {
		return credential.Credential{}, f.err
	}
	return credential.Credential{AccessToken: "ya29.test", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func unregistered() error {
	return &fcm.Error{HTTPStatus: 404, Status: "NOT_FOUND", Code: "UNREGISTERED", Message: "Requested entity was not found."}
}
