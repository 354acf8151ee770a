package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Compare-and-delete so an expired holder cannot drop a lease taken over by
// another replica.
const releaseLeaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var ErrLeaseHeld = errors.New("lease_held")

// Locker hands out short redis leases keyed by name.
type Locker struct {
	client  *redis.Client
	release *redis.Script
}

// Lease is one acquired lock. Release is safe on a nil lease.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client, release: redis.NewScript(releaseLeaseScript)}
}

func (l *Locker) Enabled() bool {
	return l != nil && l.client != nil
}

// Acquire takes the lease at key for ttl. It returns ErrLeaseHeld when another
// holder owns it.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if !l.Enabled() {
		return nil, ErrNotConfigured
	}
	if key == "" || ttl <= 0 {
		return nil, errors.New("lease needs a key and a positive ttl")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	return &Lease{locker: l, key: key, token: token}, nil
}

func (le *Lease) Release(ctx context.Context) error {
	if le == nil || !le.locker.Enabled() {
		return nil
	}
	return le.locker.release.Run(ctx, le.locker.client, []string{le.key}, le.token).Err()
}
