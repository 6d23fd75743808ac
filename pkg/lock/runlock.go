package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotHeld 锁已过期或被其他持有者拿走
var ErrNotHeld = errors.New("lock not held")

// 只有 token 匹配时才删除，避免释放别人的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// 同样只在 token 匹配时续期
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker 获取一个带 TTL 的互斥锁
type Locker interface {
	// TryAcquire 锁已被占用时返回 (nil, nil)
	TryAcquire(ctx context.Context, name string) (Handle, error)
}

// Handle 已持有的锁
type Handle interface {
	Release(ctx context.Context) error
}

// RunLock 基于 Redis SETNX 的运行锁：同一时刻只允许一个持有者。
// 持有期间每 ttl/3 续期一次，直到 Release。
type RunLock struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRunLock(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RunLock {
	return &RunLock{rdb: rdb, ttl: ttl, logger: logger}
}

// Key 锁在 Redis 中的 key
func Key(name string) string {
	return fmt.Sprintf("lock:%s", name)
}

// TryAcquire 尝试获取锁。Redis 不可用时返回错误，不放行。
func (l *RunLock) TryAcquire(ctx context.Context, name string) (Handle, error) {
	key := Key(name)
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		l.logger.Info("Run lock held by another runner, skipping",
			zap.String("lock_key", key),
		)
		return nil, nil
	}
	h := &redisHandle{rdb: l.rdb, key: key, token: token, done: make(chan struct{})}
	renewCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.stop = cancel
	go func() {
		defer close(h.done)
		keepAlive(renewCtx, l.ttl/3, func(ctx context.Context) error {
			return h.extend(ctx, l.ttl)
		}, l.logger.With(zap.String("lock_key", key)))
	}()
	return h, nil
}

// keepAlive 按 interval 调用 extend，直到 ctx 结束或锁已丢失
func keepAlive(ctx context.Context, interval time.Duration, extend func(ctx context.Context) error, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := extend(ctx)
			switch {
			case err == nil:
			case errors.Is(err, ErrNotHeld):
				logger.Warn("Run lock lost before release")
				return
			case ctx.Err() != nil:
				return
			default:
				// Redis 短暂不可用时下一轮再试，锁仍可能在 TTL 内有效
				logger.Warn("Failed to extend run lock", zap.Error(err))
			}
		}
	}
}

type redisHandle struct {
	rdb   *redis.Client
	key   string
	token string
	stop  context.CancelFunc
	done  chan struct{}
}

func (h *redisHandle) extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, h.rdb, []string{h.key}, h.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend %s: %w", h.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (h *redisHandle) Release(ctx context.Context) error {
	h.stop()
	<-h.done
	n, err := releaseScript.Run(ctx, h.rdb, []string{h.key}, h.token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", h.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
