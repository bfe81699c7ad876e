// Package lock provides a redis-backed mutual exclusion used to keep a
// single replica running a periodic job.
package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var ErrNotConfigured = errors.New("lock client not configured")

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker hands out SETNX leases. A nil *Locker is valid and reports
// ErrNotConfigured from TryLock.
type Locker struct {
	client *redis.Client
	script *redis.Script
	prefix string
}

func NewLocker(client *redis.Client, prefix string) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(releaseScript),
		prefix: strings.TrimSpace(prefix),
	}
}

// Lease is a held lock. Release is safe to call more than once.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// TryLock acquires key for ttl. It returns (nil, nil) when another holder
// owns the key.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, ErrNotConfigured
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}

	full := l.prefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Lease{locker: l, key: full, token: token}, nil
}

// Release deletes the key only if it still carries this lease's token.
func (s *Lease) Release(ctx context.Context) error {
	if s == nil || s.locker == nil || s.token == "" {
		return nil
	}
	token := s.token
	s.token = ""
	return s.locker.script.Run(ctx, s.locker.client, []string{s.key}, token).Err()
}
