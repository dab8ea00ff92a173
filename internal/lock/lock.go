// Package lock provides a redis backed mutual exclusion used by the
// scheduler to claim a job across processes.
package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/poolbilling/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrNotConfigured = errors.New("lock_not_configured")
	ErrEmptyKey      = errors.New("lock_key_empty")
	ErrInvalidTTL    = errors.New("lock_ttl_invalid")
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker hands out tokens for keys. A nil Locker is valid and never locks.
type Locker struct {
	client redis.Cmdable
	script *redis.Script
	prefix string
}

func NewLocker(client redis.Cmdable, prefix string) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(releaseScript),
		prefix: prefix,
	}
}

// Enabled reports whether locks are backed by redis.
func (l *Locker) Enabled() bool {
	return l != nil && l.client != nil
}

// TryLock sets key when absent. It returns the owner token and whether the
// lock was acquired.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if !l.Enabled() {
		return "", false, ErrNotConfigured
	}
	if strings.TrimSpace(key) == "" {
		return "", false, ErrEmptyKey
	}
	if ttl <= 0 {
		return "", false, ErrInvalidTTL
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release deletes key only while token still owns it.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if !l.Enabled() || key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{l.prefix + key}, token).Err()
}

type ClientParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
}

// ProvideClient connects to REDIS_ADDR. Without an address it returns nil
// and every redis backed feature is disabled.
func ProvideClient(p ClientParams) redis.UniversalClient {
	addr := strings.TrimSpace(p.Config.RedisAddr)
	if addr == "" {
		p.Log.Info("redis not configured, locks and trigger limits disabled")
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(p.Config.RedisPassword),
		DB:       p.Config.RedisDB,
	})
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

// Provide returns a nil Locker without redis; jobs then rely on database
// row claims alone.
func Provide(client redis.UniversalClient) *Locker {
	if client == nil {
		return nil
	}
	return NewLocker(client, "poolbilling:lock:")
}

var Module = fx.Module("lock", fx.Provide(ProvideClient, Provide))
