package storage

import (
	"context"
	"errors"
	"fmt"
)

// Key prefixes of the collections persisted in the substrate.
const (
	EventsKeyPrefix  = "weather_ai_calendar_events_"
	ProfileKeyPrefix = "weather_ai_profile_"
)

// ErrVersionConflict is returned by Put when the stored version differs from
// the version the writer read.
var ErrVersionConflict = errors.New("version conflict")

// KV is a versioned key-value substrate. Every Put is a compare-and-swap on
// the version returned by the preceding Get; a missing key has version 0.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, int64, error)
	Put(ctx context.Context, key string, value []byte, expectVersion int64) (int64, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// EventsKey returns the storage key of a user's event collection
func EventsKey(userID string) string {
	return EventsKeyPrefix + orAnonymous(userID)
}

// ProfileKey returns the storage key of a user's planning profile
func ProfileKey(userID string) string {
	return ProfileKeyPrefix + orAnonymous(userID)
}

func orAnonymous(userID string) string {
	if userID == "" {
		return "anonymous"
	}
	return userID
}

// Open creates the substrate selected by driver.
func Open(ctx context.Context, driver, path, dsn string) (KV, error) {
	switch driver {
	case "sqlite":
		return NewSQLite(path)
	case "postgres":
		return NewPostgres(ctx, dsn)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
