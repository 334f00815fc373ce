package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bark-labs/pushdispatch/internal/model"
	"github.com/bark-labs/pushdispatch/internal/storage"
)

// DeviceService manages registrations and the users they belong to. It is the
// external registration path; the dispatch pipeline only ever deactivates.
type DeviceService struct {
	store storage.RegistrationStore
	now   func() time.Time
}

// DeviceRequest describes upsert payload.
type DeviceRequest struct {
	Token       string `json:"token"`
	OwnerUserID string `json:"ownerUserId"`
	DeviceType  string `json:"deviceType"`
}

// UserRequest describes the targeting attributes of a user.
type UserRequest struct {
	ID         string `json:"id"`
	Role       int    `json:"role"`
	Department string `json:"department"`
}

// NewDeviceService constructs DeviceService.
func NewDeviceService(store storage.RegistrationStore) *DeviceService {
	return &DeviceService{store: store, now: time.Now}
}

// Register stores the token as the active registration of its owner's device
// type, replacing whatever token that pair held before. LastUsedAt records the
// latest registration or refresh reported by the client.
func (s *DeviceService) Register(ctx context.Context, req DeviceRequest) (*model.DeviceToken, error) {
	token := strings.TrimSpace(req.Token)
	owner := strings.TrimSpace(req.OwnerUserID)
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", ErrValidation)
	}
	if owner == "" {
		return nil, fmt.Errorf("%w: ownerUserId is required", ErrValidation)
	}
	deviceType, ok := model.ParseDeviceType(firstNonEmpty(req.DeviceType, string(model.DeviceTypeWeb)))
	if !ok {
		return nil, fmt.Errorf("%w: deviceType must be web, android or ios", ErrValidation)
	}

	device, err := s.store.GetDevice(ctx, token)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		device = &model.DeviceToken{Token: token}
	}
	device.OwnerUserID = owner
	device.DeviceType = deviceType
	device.IsActive = true
	seen := s.now().UTC()
	device.LastUsedAt = &seen

	if err := s.store.UpsertDevice(ctx, device); err != nil {
		return nil, err
	}
	return device, nil
}

// SaveUser creates or updates a user's role and department.
func (s *DeviceService) SaveUser(ctx context.Context, req UserRequest) (*model.User, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrValidation)
	}
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		user = &model.User{ID: id}
	}
	user.Role = req.Role
	user.Department = strings.TrimSpace(req.Department)
	if err := s.store.UpsertUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// List returns all devices.
func (s *DeviceService) List(ctx context.Context) ([]*model.DeviceToken, error) {
	return s.store.ListDevices(ctx)
}

// ListViews returns masked device views.
func (s *DeviceService) ListViews(ctx context.Context) ([]*model.DeviceView, error) {
	devices, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]*model.DeviceView, 0, len(devices))
	for _, device := range devices {
		views = append(views, model.ToView(device))
	}
	return views, nil
}

// Get returns device by token.
func (s *DeviceService) Get(ctx context.Context, token string) (*model.DeviceToken, error) {
	return s.store.GetDevice(ctx, token)
}

// Status counts active and total registrations.
func (s *DeviceService) Status(ctx context.Context) (model.StatusRes, error) {
	devices, err := s.List(ctx)
	if err != nil {
		return model.StatusRes{}, err
	}
	res := model.StatusRes{Status: "UP", AllDeviceNum: len(devices)}
	for _, d := range devices {
		if d.IsActive {
			res.ActiveDeviceNum++
		}
	}
	return res, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
