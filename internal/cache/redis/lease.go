package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// acquireLua takes the lease when free and extends it when we already hold it.
const acquireLua = `
local cur = redis.call('GET', KEYS[1])
if cur == ARGV[1] then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
    return 1
end
if cur == false then
    redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
    return 1
end
return 0
`

// releaseLua deletes the key only if it still carries our token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// PollLease makes sure only one replica polls at a time. The holder renews it
// at the start of every cycle; a crashed holder loses it after ttl.
type PollLease struct {
	rdb       *redis.Client
	key       string
	ttl       time.Duration
	token     string
	acquireSc *redis.Script
	releaseSc *redis.Script
}

func NewPollLease(c *Client, key string, ttl time.Duration) *PollLease {
	return &PollLease{
		rdb:       c.rdb,
		key:       key,
		ttl:       ttl,
		token:     uuid.NewString(),
		acquireSc: redis.NewScript(acquireLua),
		releaseSc: redis.NewScript(releaseLua),
	}
}

// Acquire reports whether this replica holds the lease for the next ttl.
func (l *PollLease) Acquire(ctx context.Context) (bool, error) {
	n, err := l.acquireSc.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis: acquire lease %s: %w", l.key, err)
	}
	return n == 1, nil
}

// Release gives the lease up if we still hold it.
func (l *PollLease) Release(ctx context.Context) error {
	if err := l.releaseSc.Run(ctx, l.rdb, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("redis: release lease %s: %w", l.key, err)
	}
	return nil
}

func (l *PollLease) Token() string { return l.token }
