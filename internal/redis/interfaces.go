package redis

import (
	"context"
	"time"

	"ridesync/internal/domain"
	"ridesync/internal/repository"
	"ridesync/internal/store"
)

// LocationStoreInterface defines the interface for ride position operations.
type LocationStoreInterface interface {
	UpdateLocation(ctx context.Context, kind domain.Kind, rideID string, role domain.Role, lat, lng float64) error
	LastLocations(ctx context.Context, kind domain.Kind, rideID string) ([]PartyLocation, error)
}

// LockStoreInterface defines the interface for the per-passenger request lock.
// An empty token means the lock is held elsewhere.
type LockStoreInterface interface {
	AcquireRequestLock(ctx context.Context, userID string, ttl time.Duration) (token string, err error)
	ReleaseRequestLock(ctx context.Context, userID, token string) error
}

// Ensure concrete types implement interfaces.
var (
	_ LocationStoreInterface   = (*LocationStore)(nil)
	_ LockStoreInterface       = (*LockStore)(nil)
	_ repository.AuthInfoCache = (*CacheStore)(nil)
	_ store.Presence           = (*PresenceBridge)(nil)
)
