// Package sqlstore implements the registration store and dispatch log on top
// of gorm, so the same schema runs on Postgres in production and SQLite in tests.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bark-labs/pushdispatch/internal/model"
	"github.com/bark-labs/pushdispatch/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ storage.Store = (*Store)(nil)

type deviceRow struct {
	Token       string `gorm:"primaryKey"`
	OwnerUserID string `gorm:"index:idx_owner_type;not null"`
	DeviceType  string `gorm:"index:idx_owner_type;not null"`
	IsActive    bool   `gorm:"index;not null"`
	LastUsedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (deviceRow) TableName() string { return "device_tokens" }

type userRow struct {
	ID         string `gorm:"primaryKey"`
	Role       int    `gorm:"index"`
	Department string `gorm:"index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (userRow) TableName() string { return "users" }

type dispatchLogRow struct {
	ID             uint64           `gorm:"primaryKey;autoIncrement"`
	InvocationID   string           `gorm:"index"`
	Target         model.TargetSpec `gorm:"serializer:json"`
	Title          string
	Body           string
	Image          string
	Data           map[string]string `gorm:"serializer:json"`
	Priority       string
	RequestedCount int
	SuccessCount   int
	FailureCount   int
	Errors         []string  `gorm:"serializer:json"`
	CompletedAt    time.Time `gorm:"index"`
}

func (dispatchLogRow) TableName() string { return "dispatch_logs" }

// Store is a gorm-backed Store implementation.
type Store struct {
	db *gorm.DB
}

// Open connects through the given dialector and migrates the schema.
func Open(dialector gorm.Dialector) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&deviceRow{}, &userRow{}, &dispatchLogRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ActiveTokens runs one query for the single criterion held by filter.
func (s *Store) ActiveTokens(ctx context.Context, filter storage.TokenFilter) ([]string, error) {
	q := s.db.WithContext(ctx).Model(&deviceRow{}).Where("device_tokens.is_active = ?", true)
	switch {
	case filter.All:
	case len(filter.Tokens) > 0:
		q = q.Where("device_tokens.token IN ?", filter.Tokens)
	case len(filter.UserIDs) > 0:
		q = q.Where("device_tokens.owner_user_id IN ?", filter.UserIDs)
	case len(filter.Roles) > 0 || len(filter.Departments) > 0:
		q = q.Joins("JOIN users ON users.id = device_tokens.owner_user_id")
		switch {
		case len(filter.Roles) > 0 && len(filter.Departments) > 0:
			q = q.Where("(users.role IN ? OR users.department IN ?)", filter.Roles, filter.Departments)
		case len(filter.Roles) > 0:
			q = q.Where("users.role IN ?", filter.Roles)
		default:
			q = q.Where("users.department IN ?", filter.Departments)
		}
	default:
		return nil, nil
	}
	var tokens []string
	if err := q.Pluck("device_tokens.token", &tokens).Error; err != nil {
		return nil, err
	}
	return tokens, nil
}

// DeactivateTokens flips active registrations to inactive with one UPDATE.
func (s *Store) DeactivateTokens(ctx context.Context, tokens []string) (int, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&deviceRow{}).
		Where("token IN ? AND is_active = ?", tokens, true).
		Updates(map[string]any{"is_active": false, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

// UpsertDevice stores a registration as active, replacing any other token
// held by the same owner and device type.
func (s *Store) UpsertDevice(ctx context.Context, device *model.DeviceToken) error {
	if device.Token == "" || device.OwnerUserID == "" {
		return fmt.Errorf("%w: device token and owner are required", storage.ErrInvalidRecord)
	}
	now := time.Now().UTC()
	device.IsActive = true
	device.UpdatedAt = now
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	row := deviceRow{
		Token:       device.Token,
		OwnerUserID: device.OwnerUserID,
		DeviceType:  string(device.DeviceType),
		IsActive:    true,
		LastUsedAt:  device.LastUsedAt,
		CreatedAt:   device.CreatedAt,
		UpdatedAt:   now,
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_user_id = ? AND device_type = ? AND token <> ?",
			row.OwnerUserID, row.DeviceType, row.Token).
			Delete(&deviceRow{}).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token"}},
			DoUpdates: clause.AssignmentColumns([]string{"owner_user_id", "device_type", "is_active", "last_used_at", "updated_at"}),
		}).Create(&row).Error
	})
}

// GetDevice fetches a registration by token.
func (s *Store) GetDevice(ctx context.Context, token string) (*model.DeviceToken, error) {
	var row deviceRow
	if err := s.db.WithContext(ctx).Where("token = ?", token).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return row.toModel(), nil
}

// ListDevices returns all registrations.
func (s *Store) ListDevices(ctx context.Context) ([]*model.DeviceToken, error) {
	var rows []deviceRow
	if err := s.db.WithContext(ctx).Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	devices := make([]*model.DeviceToken, 0, len(rows))
	for i := range rows {
		devices = append(devices, rows[i].toModel())
	}
	return devices, nil
}

// UpsertUser stores the role/department profile of a user.
func (s *Store) UpsertUser(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		return fmt.Errorf("%w: user id is required", storage.ErrInvalidRecord)
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	row := userRow{
		ID:         user.ID,
		Role:       user.Role,
		Department: user.Department,
		CreatedAt:  user.CreatedAt,
		UpdatedAt:  now,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "department", "updated_at"}),
	}).Create(&row).Error
}

// GetUser fetches a user profile by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &model.User{
		ID:         row.ID,
		Role:       row.Role,
		Department: row.Department,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}, nil
}

// AppendDispatchLog inserts one audit row. Rows are never updated.
func (s *Store) AppendDispatchLog(ctx context.Context, entry *model.DispatchLogEntry) error {
	if entry.CompletedAt.IsZero() {
		entry.CompletedAt = time.Now().UTC()
	}
	row := dispatchLogRow{
		InvocationID:   entry.InvocationID,
		Target:         entry.Target,
		Title:          entry.Title,
		Body:           entry.Body,
		Image:          entry.Image,
		Data:           entry.Data,
		Priority:       string(entry.Priority),
		RequestedCount: entry.RequestedCount,
		SuccessCount:   entry.SuccessCount,
		FailureCount:   entry.FailureCount,
		Errors:         entry.Errors,
		CompletedAt:    entry.CompletedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	entry.ID = row.ID
	return nil
}

// ListDispatchLogs returns all audit rows in insertion order.
func (s *Store) ListDispatchLogs(ctx context.Context) ([]*model.DispatchLogEntry, error) {
	var rows []dispatchLogRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	logs := make([]*model.DispatchLogEntry, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, &model.DispatchLogEntry{
			ID:             row.ID,
			InvocationID:   row.InvocationID,
			Target:         row.Target,
			Title:          row.Title,
			Body:           row.Body,
			Image:          row.Image,
			Data:           row.Data,
			Priority:       model.Priority(row.Priority),
			RequestedCount: row.RequestedCount,
			SuccessCount:   row.SuccessCount,
			FailureCount:   row.FailureCount,
			Errors:         row.Errors,
			CompletedAt:    row.CompletedAt,
		})
	}
	return logs, nil
}

func (r *deviceRow) toModel() *model.DeviceToken {
	return &model.DeviceToken{
		Token:       r.Token,
		OwnerUserID: r.OwnerUserID,
		DeviceType:  model.DeviceType(r.DeviceType),
		IsActive:    r.IsActive,
		LastUsedAt:  r.LastUsedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}
