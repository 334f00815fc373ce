package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/bark-labs/pushdispatch/internal/model"
	"github.com/bark-labs/pushdispatch/internal/storage"
	bolt "go.etcd.io/bbolt"
)

var _ storage.Store = (*Store)(nil)

var (
	bucketDevices      = []byte("devices")
	bucketUsers        = []byte("users")
	bucketDispatchLogs = []byte("dispatch_logs")
)

// Store is a BoltDB-backed Store implementation. Devices are keyed by token,
// users by ID and dispatch logs by a big-endian sequence number.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// New initialises the Bolt store.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketDevices, bucketUsers, bucketDispatchLogs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes underlying Bolt DB.
func (s *Store) Close() error {
	return s.db.Close()
}

// ActiveTokens scans the device bucket for active registrations matching the
// filter. Role and department criteria resolve the owning user first.
func (s *Store) ActiveTokens(ctx context.Context, filter storage.TokenFilter) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var tokens []string
	err := s.db.View(func(tx *bolt.Tx) error {
		owners, err := matchingOwners(tx, filter)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDevices).ForEach(func(_, v []byte) error {
			var device model.DeviceToken
			if err := json.Unmarshal(v, &device); err != nil {
				return err
			}
			if device.IsActive && matches(&device, filter, owners) {
				tokens = append(tokens, device.Token)
			}
			return nil
		})
	})
	return tokens, err
}

// matchingOwners returns the user IDs selected by role/department criteria, or
// nil when the filter does not involve users.
func matchingOwners(tx *bolt.Tx, filter storage.TokenFilter) (map[string]struct{}, error) {
	if len(filter.Roles) == 0 && len(filter.Departments) == 0 {
		return nil, nil
	}
	owners := make(map[string]struct{})
	err := tx.Bucket(bucketUsers).ForEach(func(_, v []byte) error {
		var user model.User
		if err := json.Unmarshal(v, &user); err != nil {
			return err
		}
		if slices.Contains(filter.Roles, user.Role) || slices.Contains(filter.Departments, user.Department) {
			owners[user.ID] = struct{}{}
		}
		return nil
	})
	return owners, err
}

func matches(device *model.DeviceToken, filter storage.TokenFilter, owners map[string]struct{}) bool {
	switch {
	case filter.All:
		return true
	case len(filter.Tokens) > 0:
		return slices.Contains(filter.Tokens, device.Token)
	case len(filter.UserIDs) > 0:
		return slices.Contains(filter.UserIDs, device.OwnerUserID)
	case owners != nil:
		_, ok := owners[device.OwnerUserID]
		return ok
	default:
		return false
	}
}

// DeactivateTokens flips the given registrations to inactive inside a single
// write transaction. Unknown or already inactive tokens are skipped.
func (s *Store) DeactivateTokens(ctx context.Context, tokens []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(tokens) == 0 {
		return 0, nil
	}
	now := s.now()
	changed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketDevices)
		for _, token := range tokens {
			raw := bkt.Get([]byte(token))
			if raw == nil {
				continue
			}
			var device model.DeviceToken
			if err := json.Unmarshal(raw, &device); err != nil {
				return err
			}
			if !device.IsActive {
				continue
			}
			device.IsActive = false
			device.UpdatedAt = now
			payload, err := json.Marshal(&device)
			if err != nil {
				return err
			}
			if err := bkt.Put([]byte(token), payload); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// UpsertDevice stores a registration as active. A previous token registered
// for the same owner and device type is replaced.
func (s *Store) UpsertDevice(ctx context.Context, device *model.DeviceToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if device.Token == "" || device.OwnerUserID == "" {
		return fmt.Errorf("%w: device token and owner are required", storage.ErrInvalidRecord)
	}
	now := s.now()
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketDevices)
		var stale [][]byte
		if err := bkt.ForEach(func(k, v []byte) error {
			var existing model.DeviceToken
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.Token == device.Token {
				device.CreatedAt = existing.CreatedAt
				return nil
			}
			if existing.OwnerUserID == device.OwnerUserID && existing.DeviceType == device.DeviceType {
				stale = append(stale, slices.Clone(k))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := bkt.Delete(k); err != nil {
				return err
			}
		}
		if device.CreatedAt.IsZero() {
			device.CreatedAt = now
		}
		device.UpdatedAt = now
		device.IsActive = true
		payload, err := json.Marshal(device)
		if err != nil {
			return err
		}
		return bkt.Put([]byte(device.Token), payload)
	})
}

// GetDevice fetches a registration by token.
func (s *Store) GetDevice(ctx context.Context, token string) (*model.DeviceToken, error) {
	var device model.DeviceToken
	if err := s.get(ctx, bucketDevices, token, &device); err != nil {
		return nil, err
	}
	return &device, nil
}

// ListDevices returns all registrations, active or not.
func (s *Store) ListDevices(ctx context.Context) ([]*model.DeviceToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var devices []*model.DeviceToken
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevices).ForEach(func(_, v []byte) error {
			var device model.DeviceToken
			if err := json.Unmarshal(v, &device); err != nil {
				return err
			}
			devices = append(devices, &device)
			return nil
		})
	})
	return devices, err
}

// UpsertUser stores the role/department profile of a user.
func (s *Store) UpsertUser(ctx context.Context, user *model.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if user.ID == "" {
		return fmt.Errorf("%w: user id is required", storage.ErrInvalidRecord)
	}
	now := s.now()
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketUsers)
		if raw := bkt.Get([]byte(user.ID)); raw != nil {
			var existing model.User
			if err := json.Unmarshal(raw, &existing); err != nil {
				return err
			}
			user.CreatedAt = existing.CreatedAt
		}
		if user.CreatedAt.IsZero() {
			user.CreatedAt = now
		}
		user.UpdatedAt = now
		payload, err := json.Marshal(user)
		if err != nil {
			return err
		}
		return bkt.Put([]byte(user.ID), payload)
	})
}

// GetUser fetches a user profile by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := s.get(ctx, bucketUsers, id, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) get(ctx context.Context, bucket []byte, key string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucket).Get([]byte(key))
		if raw == nil {
			return storage.ErrNotFound
		}
		return json.Unmarshal(raw, out)
	})
}

// AppendDispatchLog stores an audit entry under the next sequence number.
func (s *Store) AppendDispatchLog(ctx context.Context, entry *model.DispatchLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.CompletedAt.IsZero() {
		entry.CompletedAt = s.now()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketDispatchLogs)
		id, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		entry.ID = id
		payload, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, id)
		return bkt.Put(key, payload)
	})
}

// ListDispatchLogs returns all audit entries in insertion order.
func (s *Store) ListDispatchLogs(ctx context.Context) ([]*model.DispatchLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var logs []*model.DispatchLogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDispatchLogs).ForEach(func(_, v []byte) error {
			var entry model.DispatchLogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			logs = append(logs, &entry)
			return nil
		})
	})
	return logs, err
}
