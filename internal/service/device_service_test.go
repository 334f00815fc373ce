package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bark-labs/pushdispatch/internal/model"
)

func TestRegisterDevice(t *testing.T) {
	store := newMemStore()
	store.seed("old", "u1", false)
	svc := NewDeviceService(store)
	refreshed := time.Date(2026, 3, 1, 7, 45, 0, 0, time.UTC)
	svc.now = func() time.Time { return refreshed }
	ctx := context.Background()

	dev, err := svc.Register(ctx, DeviceRequest{Token: "old", OwnerUserID: "u1", DeviceType: "Android"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !dev.IsActive || dev.DeviceType != model.DeviceTypeAndroid {
		t.Errorf("device = %+v", dev)
	}
	if dev.LastUsedAt == nil || !dev.LastUsedAt.Equal(refreshed) {
		t.Errorf("lastUsedAt = %v, want %v", dev.LastUsedAt, refreshed)
	}
	stored, err := store.GetDevice(ctx, "old")
	if err != nil || stored.LastUsedAt == nil || !stored.LastUsedAt.Equal(refreshed) {
		t.Errorf("stored lastUsedAt = %+v, err = %v", stored, err)
	}

	dev, err = svc.Register(ctx, DeviceRequest{Token: "new", OwnerUserID: "u2"})
	if err != nil || dev.DeviceType != model.DeviceTypeWeb {
		t.Fatalf("default type: %+v, %v", dev, err)
	}

	for _, req := range []DeviceRequest{
		{OwnerUserID: "u1"},
		{Token: "x"},
		{Token: "x", OwnerUserID: "u1", DeviceType: "blackberry"},
	} {
		if _, err := svc.Register(ctx, req); !errors.Is(err, ErrValidation) {
			t.Errorf("Register(%+v) err = %v", req, err)
		}
	}

	status, err := svc.Status(ctx)
	if err != nil || status.AllDeviceNum != 2 || status.ActiveDeviceNum != 2 {
		t.Errorf("status = %+v, err = %v", status, err)
	}

	views, err := svc.ListViews(ctx)
	if err != nil || len(views) != 2 {
		t.Fatalf("views = %v, err = %v", views, err)
	}
	for _, v := range views {
		if v.OwnerUserID == "" || !v.IsActive {
			t.Errorf("view = %+v", v)
		}
	}
}

func TestSaveUser(t *testing.T) {
	store := newMemStore()
	svc := NewDeviceService(store)
	if _, err := svc.SaveUser(context.Background(), UserRequest{}); !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v", err)
	}
	user, err := svc.SaveUser(context.Background(), UserRequest{ID: "u1", Role: 3, Department: " maintenance "})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if user.Department != "maintenance" || store.users["u1"].Role != 3 {
		t.Errorf("user = %+v", user)
	}
}
