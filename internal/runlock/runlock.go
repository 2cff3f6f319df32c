// Package runlock keeps two ingestion cycles from running at the same time
// across processes, using a Redis key set with NX and a TTL.
package runlock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"brokerage-mail-ingestor/internal/logging"
)

const (
	DefaultKey = "ingest:imap:run"
	DefaultTTL = 10 * time.Minute

	// releaseTimeout bounds the unlock call, which may run after the cycle context is done
	releaseTimeout = 5 * time.Second
)

// releaseScript deletes the key only while it still holds our token
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Client is the subset of the Redis API the lock uses. *redis.Client implements it.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Lock is a best effort distributed mutex
type Lock struct {
	rdb Client
	key string
	ttl time.Duration
}

// New creates a lock. Empty key and zero ttl fall back to the defaults.
func New(rdb Client, key string, ttl time.Duration) *Lock {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Lock{rdb: rdb, key: key, ttl: ttl}
}

// Dial connects to the Redis server at url
func Dial(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

// Acquire tries to take the lock. ok is false only when another holder owns it.
// A Redis failure fails open: ok is true, err carries the cause and release is a no-op.
func (l *Lock) Acquire(ctx context.Context) (release func(), ok bool, err error) {
	token := uuid.NewString()

	set, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		logging.Log.WithField("lock_key", l.key).Warnf("Run lock unavailable, continuing without it: %v", err)
		return func() {}, true, fmt.Errorf("acquiring run lock: %w", err)
	}
	if !set {
		return func() {}, false, nil
	}

	return func() { l.release(ctx, token) }, true, nil
}

func (l *Lock) release(ctx context.Context, token string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	deleted, err := l.rdb.Eval(rctx, releaseScript, []string{l.key}, token).Int64()
	if err != nil {
		logging.Log.WithField("lock_key", l.key).Warnf("Failed to release run lock: %v", err)
		return
	}
	if deleted == 0 {
		logging.Log.WithField("lock_key", l.key).Warn("Run lock expired before release")
	}
}
