package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const requestLockPrefix = "lock:ride-request:"

// releaseScript deletes a lock only while it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func requestLockKey(userID string) string {
	return requestLockPrefix + userID
}

// LockStore serializes ride requests of a passenger across server instances.
type LockStore struct {
	client *redis.Client
}

// NewLockStore creates a new LockStore.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client}
}

// AcquireRequestLock takes the ride-request lock of a passenger for ttl.
// It returns the holder token, or "" when another request holds the lock.
func (s *LockStore) AcquireRequestLock(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, requestLockKey(userID), token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// ReleaseRequestLock drops the lock if token still holds it. A lock that
// expired and was taken by another request is left alone.
func (s *LockStore) ReleaseRequestLock(ctx context.Context, userID, token string) error {
	if token == "" {
		return nil
	}
	return releaseScript.Run(ctx, s.client, []string{requestLockKey(userID)}, token).Err()
}
