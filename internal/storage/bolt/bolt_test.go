package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/bark-labs/pushdispatch/internal/model"
	"github.com/bark-labs/pushdispatch/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "data", "push.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	users := []*model.User{
		{ID: "u1", Role: 1, Department: "ops"},
		{ID: "u2", Role: 2, Department: "ops"},
		{ID: "u3", Role: 2, Department: "qa"},
	}
	for _, u := range users {
		if err := s.UpsertUser(ctx, u); err != nil {
			t.Fatalf("upsert user: %v", err)
		}
	}
	devices := []*model.DeviceToken{
		{Token: "t1", OwnerUserID: "u1", DeviceType: model.DeviceTypeWeb},
		{Token: "t2", OwnerUserID: "u2", DeviceType: model.DeviceTypeAndroid},
		{Token: "t3", OwnerUserID: "u3", DeviceType: model.DeviceTypeIOS},
	}
	for _, d := range devices {
		if err := s.UpsertDevice(ctx, d); err != nil {
			t.Fatalf("upsert device: %v", err)
		}
	}
}

func sorted(tokens []string) []string {
	out := slices.Clone(tokens)
	slices.Sort(out)
	return out
}

func TestActiveTokensByCriterion(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	if _, err := s.DeactivateTokens(context.Background(), []string{"t3"}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	tests := []struct {
		name   string
		filter storage.TokenFilter
		want   []string
	}{
		{"all", storage.TokenFilter{All: true}, []string{"t1", "t2"}},
		{"tokens", storage.TokenFilter{Tokens: []string{"t1", "t3", "missing"}}, []string{"t1"}},
		{"users", storage.TokenFilter{UserIDs: []string{"u2", "u3"}}, []string{"t2"}},
		{"roles", storage.TokenFilter{Roles: []int{2}}, []string{"t2"}},
		{"departments", storage.TokenFilter{Departments: []string{"ops"}}, []string{"t1", "t2"}},
		{"empty", storage.TokenFilter{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ActiveTokens(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("ActiveTokens: %v", err)
			}
			if !slices.Equal(sorted(got), tt.want) {
				t.Errorf("tokens = %v, want %v", sorted(got), tt.want)
			}
		})
	}
}

func TestDeactivateTokensCountsOnlyFlips(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	n, err := s.DeactivateTokens(ctx, []string{"t1", "t2", "unknown"})
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if n != 2 {
		t.Errorf("deactivated = %d, want 2", n)
	}
	n, err = s.DeactivateTokens(ctx, []string{"t1"})
	if err != nil {
		t.Fatalf("deactivate again: %v", err)
	}
	if n != 0 {
		t.Errorf("second deactivation = %d, want 0", n)
	}
	d, err := s.GetDevice(ctx, "t3")
	if err != nil {
		t.Fatalf("get t3: %v", err)
	}
	if !d.IsActive {
		t.Error("t3 should remain active")
	}
}

func TestUpsertDeviceReplacesOwnerTypePair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpsertDevice(ctx, &model.DeviceToken{Token: "old", OwnerUserID: "u1", DeviceType: model.DeviceTypeWeb}); err != nil {
		t.Fatalf("upsert old: %v", err)
	}
	if err := s.UpsertDevice(ctx, &model.DeviceToken{Token: "phone", OwnerUserID: "u1", DeviceType: model.DeviceTypeAndroid}); err != nil {
		t.Fatalf("upsert phone: %v", err)
	}
	if err := s.UpsertDevice(ctx, &model.DeviceToken{Token: "new", OwnerUserID: "u1", DeviceType: model.DeviceTypeWeb}); err != nil {
		t.Fatalf("upsert new: %v", err)
	}
	if _, err := s.GetDevice(ctx, "old"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("old token err = %v, want ErrNotFound", err)
	}
	devices, err := s.ListDevices(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(devices) != 2 {
		t.Errorf("devices = %d, want 2", len(devices))
	}
}

func TestUpsertDeviceRequiresKeys(t *testing.T) {
	s := newTestStore(t)
	err := s.UpsertDevice(context.Background(), &model.DeviceToken{Token: "t"})
	if !errors.Is(err, storage.ErrInvalidRecord) {
		t.Errorf("err = %v, want ErrInvalidRecord", err)
	}
}

func TestDispatchLogAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		entry := &model.DispatchLogEntry{
			InvocationID: "inv",
			Title:        "t",
			Body:         "b",
			SuccessCount: i,
			Errors:       []string{"boom"},
		}
		if err := s.AppendDispatchLog(ctx, entry); err != nil {
			t.Fatalf("append: %v", err)
		}
		if entry.ID != uint64(i+1) {
			t.Errorf("id = %d, want %d", entry.ID, i+1)
		}
		if entry.CompletedAt.IsZero() {
			t.Error("completedAt not stamped")
		}
	}
	logs, err := s.ListDispatchLogs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 3 || logs[2].SuccessCount != 2 || logs[0].Errors[0] != "boom" {
		t.Errorf("unexpected logs: %+v", logs)
	}
}

func TestCancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.ActiveTokens(ctx, storage.TokenFilter{All: true}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
