package export

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/anfrage-erp/anfrage/internal/shared"
)

// Guard makes exports non-reentrant per subject. Acquire fails with
// ErrExportInFlight while another export of the same subject runs.
type Guard interface {
	Acquire(ctx context.Context, subject string) (release func(), err error)
}

// LocalGuard serialises exports within one process.
type LocalGuard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewLocalGuard constructs a LocalGuard.
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{active: make(map[string]struct{})}
}

// Acquire implements Guard.
func (g *LocalGuard) Acquire(_ context.Context, subject string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[subject]; busy {
		return nil, ErrExportInFlight
	}
	g.active[subject] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, subject)
			g.mu.Unlock()
		})
	}, nil
}

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisGuard shares the in-flight state between server and worker processes. The TTL
// bounds how long a crashed exporter can block a subject.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard constructs a RedisGuard.
func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisGuard{client: client, ttl: ttl}
}

// Acquire implements Guard.
func (g *RedisGuard) Acquire(ctx context.Context, subject string) (func(), error) {
	key := shared.ExportLockKey(subject)
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("export: acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrExportInFlight
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, g.client, []string{key}, token).Err()
		})
	}, nil
}
