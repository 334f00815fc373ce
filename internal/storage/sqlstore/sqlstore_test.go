package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/bark-labs/pushdispatch/internal/model"
	"github.com/bark-labs/pushdispatch/internal/storage"
	"gorm.io/driver/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	for _, u := range []*model.User{
		{ID: "u1", Role: 1, Department: "ops"},
		{ID: "u2", Role: 2, Department: "ops"},
		{ID: "u3", Role: 2, Department: "qa"},
	} {
		if err := s.UpsertUser(ctx, u); err != nil {
			t.Fatalf("upsert user: %v", err)
		}
	}
	for _, d := range []*model.DeviceToken{
		{Token: "t1", OwnerUserID: "u1", DeviceType: model.DeviceTypeWeb},
		{Token: "t2", OwnerUserID: "u2", DeviceType: model.DeviceTypeAndroid},
		{Token: "t3", OwnerUserID: "u3", DeviceType: model.DeviceTypeIOS},
	} {
		if err := s.UpsertDevice(ctx, d); err != nil {
			t.Fatalf("upsert device: %v", err)
		}
	}
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
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ActiveTokens(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("ActiveTokens: %v", err)
			}
			slices.Sort(got)
			if !slices.Equal(got, tt.want) {
				t.Errorf("tokens = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeactivateTokensBatch(t *testing.T) {
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
	d, err := s.GetDevice(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d.IsActive {
		t.Error("t1 still active")
	}
	if n, _ := s.DeactivateTokens(ctx, []string{"t1"}); n != 0 {
		t.Errorf("repeat deactivation = %d, want 0", n)
	}
}

func TestUpsertDeviceReplacesOwnerTypePair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, d := range []*model.DeviceToken{
		{Token: "old", OwnerUserID: "u1", DeviceType: model.DeviceTypeWeb},
		{Token: "phone", OwnerUserID: "u1", DeviceType: model.DeviceTypeAndroid},
		{Token: "new", OwnerUserID: "u1", DeviceType: model.DeviceTypeWeb},
	} {
		if err := s.UpsertDevice(ctx, d); err != nil {
			t.Fatalf("upsert %s: %v", d.Token, err)
		}
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

func TestDispatchLogRoundTripsJSONColumns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	entry := &model.DispatchLogEntry{
		InvocationID: "inv-1",
		Target:       model.TargetSpec{Roles: []int{3}, Broadcast: true},
		Title:        "Pump 4 overdue",
		Body:         "Inspection is late",
		Data:         map[string]string{"url": "/work-orders/4"},
		Priority:     model.PriorityHigh,
		FailureCount: 1,
		Errors:       []string{"UNREGISTERED"},
	}
	if err := s.AppendDispatchLog(ctx, entry); err != nil {
		t.Fatalf("append: %v", err)
	}
	if entry.ID == 0 {
		t.Fatal("id not assigned")
	}
	logs, err := s.ListDispatchLogs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(logs))
	}
	got := logs[0]
	if !got.Target.Broadcast || got.Target.Roles[0] != 3 || got.Data["url"] != "/work-orders/4" || got.Errors[0] != "UNREGISTERED" {
		t.Errorf("unexpected entry: %+v", got)
	}
}

func TestGetUserNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetUser(context.Background(), "nobody"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
