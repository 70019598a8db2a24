package limiter

import (
	"context"
	"errors"
	"fmt"

	"smartmeet/app/config"
	"smartmeet/app/logger"

	"github.com/redis/go-redis/v9"
)

// ErrLimitExceeded 并发槽位已满
var ErrLimitExceeded = errors.New("资源并发数已达上限")

// ConcurrencyLimiter 分布式计数信号量，限制对某个命名资源的同时调用数。
// 每个持有者对应一个带 TTL 的槽位键，键的存在本身就是计数，
// 持有者崩溃后槽位自动过期，不会永久占用。
type ConcurrencyLimiter struct {
	rdb      *redis.Client
	log      *logger.Logger
	prefix   string
	resource string
	max      int
	cfg      config.ConcurrencyConfig
}

// NewConcurrencyLimiter 为指定资源创建并发限制器
func NewConcurrencyLimiter(rdb *redis.Client, prefix, resource string, cfg config.ConcurrencyConfig, log *logger.Logger) *ConcurrencyLimiter {
	return &ConcurrencyLimiter{
		rdb:      rdb,
		log:      log,
		prefix:   prefix,
		resource: resource,
		max:      cfg.MaxConcurrent,
		cfg:      cfg,
	}
}

func (l *ConcurrencyLimiter) slotKey(requestID string) string {
	return fmt.Sprintf("%s:slot:%s:%s", l.prefix, l.resource, requestID)
}

func (l *ConcurrencyLimiter) slotPattern() string {
	return fmt.Sprintf("%s:slot:%s:*", l.prefix, l.resource)
}

// countSlots 统计当前未过期的槽位数
func (l *ConcurrencyLimiter) countSlots(ctx context.Context) (int, error) {
	var count int
	var cursor uint64
	for {
		keys, next, err := l.rdb.Scan(ctx, cursor, l.slotPattern(), 100).Result()
		if err != nil {
			return 0, err
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

// Acquire 尝试获取一个槽位。返回的 release 在所有退出路径上都必须调用。
// 槽位已满时返回 ok=false，调用方应视为"并发超限"而不是立即重试。
// 存储不可用且配置了 fail_open 时返回空操作的 release 并放行，
// 可用性优先于严格的并发控制。
func (l *ConcurrencyLimiter) Acquire(ctx context.Context, requestID string) (release func(), ok bool) {
	noop := func() {}

	count, err := l.countSlots(ctx)
	if err != nil {
		l.log.Warnf("并发限制器存储不可用: 资源=%s, 错误: %v", l.resource, err)
		if l.cfg.FailOpen {
			return noop, true
		}
		return noop, false
	}

	if count >= l.max {
		l.log.Debugf("资源并发已满: 资源=%s, 当前=%d, 上限=%d", l.resource, count, l.max)
		return noop, false
	}

	key := l.slotKey(requestID)
	if err := l.rdb.Set(ctx, key, "1", l.cfg.SlotTTL).Err(); err != nil {
		l.log.Warnf("创建并发槽位失败: 资源=%s, 错误: %v", l.resource, err)
		if l.cfg.FailOpen {
			return noop, true
		}
		return noop, false
	}

	return func() {
		// 提前释放槽位；失败也无妨，TTL 会兜底
		if err := l.rdb.Del(context.Background(), key).Err(); err != nil {
			l.log.Warnf("释放并发槽位失败: %s, 错误: %v", key, err)
		}
	}, true
}

// Run 在槽位保护下执行 fn，无论成功、失败还是 panic 都会释放槽位
func (l *ConcurrencyLimiter) Run(ctx context.Context, requestID string, fn func() error) error {
	release, ok := l.Acquire(ctx, requestID)
	if !ok {
		return ErrLimitExceeded
	}
	defer release()

	return fn()
}
