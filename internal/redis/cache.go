package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"ridesync/internal/domain"
	"ridesync/internal/repository"
)

// CacheStore handles entity caching in Redis.
type CacheStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCacheStore creates a new CacheStore. A zero ttl uses AuthInfoCacheTTL.
func NewCacheStore(client *redis.Client, ttl time.Duration) *CacheStore {
	if ttl <= 0 {
		ttl = AuthInfoCacheTTL
	}
	return &CacheStore{client: client, ttl: ttl}
}

// Cache TTL constants
const (
	AuthInfoCacheTTL = 6 * time.Hour // Proof material lives as long as a ride waits for pickup
)

// Key prefixes
const (
	authInfoCachePrefix = "cache:ride-auth:"
)

func authInfoKey(kind domain.Kind, rideID string) string {
	return authInfoCachePrefix + string(kind) + ":" + rideID
}

// GetAuthInfo retrieves the start proof of a ride from cache.
// A miss returns nil, nil.
func (s *CacheStore) GetAuthInfo(ctx context.Context, kind domain.Kind, rideID string) (*repository.AuthInfo, error) {
	data, err := s.client.Get(ctx, authInfoKey(kind, rideID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, err
	}

	var info repository.AuthInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SetAuthInfo stores the start proof of a ride.
func (s *CacheStore) SetAuthInfo(ctx context.Context, kind domain.Kind, rideID string, info *repository.AuthInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, authInfoKey(kind, rideID), data, s.ttl).Err()
}

// InvalidateAuthInfo removes the start proof of a ride from cache.
func (s *CacheStore) InvalidateAuthInfo(ctx context.Context, kind domain.Kind, rideID string) error {
	return s.client.Del(ctx, authInfoKey(kind, rideID)).Err()
}
