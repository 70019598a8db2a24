package breaker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"smartmeet/app/config"
	"smartmeet/app/logger"

	"github.com/redis/go-redis/v9"
)

// State 熔断器状态
type State string

const (
	StateClosed   State = "CLOSED"    // 正常放行
	StateOpen     State = "OPEN"      // 熔断中，直接拒绝
	StateHalfOpen State = "HALF_OPEN" // 冷却结束，放行一次试探调用
)

// ErrBreakerOpen 熔断器处于打开状态，调用被直接拒绝
var ErrBreakerOpen = errors.New("服务暂时不可用")

// breakerState 熔断器的可持久化状态
type breakerState struct {
	State    State
	Failures int
	OpenedAt time.Time
}

// CircuitBreaker 按服务商隔离故障的熔断器。
// 状态持久化在 Redis 哈希中，多个工作进程共享同一份判断；
// Redis 不可用时退化到本进程内的副本，保证调用仍能继续。
type CircuitBreaker struct {
	rdb      *redis.Client
	log      *logger.Logger
	provider string
	key      string
	cfg      config.BreakerConfig

	mu       sync.Mutex
	local    breakerState
	trialing bool             // 本地的试探调用占用标记
	now      func() time.Time // 测试时可替换
}

// NewCircuitBreaker 为指定服务商创建熔断器
func NewCircuitBreaker(rdb *redis.Client, prefix, provider string, cfg config.BreakerConfig, log *logger.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		rdb:      rdb,
		log:      log,
		provider: provider,
		key:      fmt.Sprintf("%s:breaker:%s", prefix, provider),
		cfg:      cfg,
		local:    breakerState{State: StateClosed},
		now:      time.Now,
	}
}

// Provider 返回熔断器所属的服务商名称
func (b *CircuitBreaker) Provider() string {
	return b.provider
}

// loadState 读取共享状态，失败时返回本地副本
func (b *CircuitBreaker) loadState(ctx context.Context) breakerState {
	fields, err := b.rdb.HGetAll(ctx, b.key).Result()
	if err != nil {
		b.log.Warnf("读取熔断器状态失败，使用本地副本: 服务商=%s, 错误: %v", b.provider, err)
		return b.local
	}
	if len(fields) == 0 {
		return breakerState{State: StateClosed}
	}

	st := breakerState{State: State(fields["state"])}
	st.Failures, _ = strconv.Atoi(fields["failures"])
	if ms, err := strconv.ParseInt(fields["opened_at"], 10, 64); err == nil && ms > 0 {
		st.OpenedAt = time.UnixMilli(ms)
	}
	return st
}

// saveState 写回共享状态并更新本地副本
func (b *CircuitBreaker) saveState(ctx context.Context, st breakerState) {
	b.local = st

	var openedAt int64
	if !st.OpenedAt.IsZero() {
		openedAt = st.OpenedAt.UnixMilli()
	}
	err := b.rdb.HSet(ctx, b.key, map[string]interface{}{
		"state":     string(st.State),
		"failures":  st.Failures,
		"opened_at": openedAt,
	}).Err()
	if err != nil {
		b.log.Warnf("写入熔断器状态失败: 服务商=%s, 错误: %v", b.provider, err)
	}
}

// GetState 返回当前状态，仅用于观测与错误归因
func (b *CircuitBreaker) GetState(ctx context.Context) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loadState(ctx).State
}

// Execute 在熔断器保护下调用 fn。
// OPEN 状态下冷却期内直接返回 ErrBreakerOpen，不触发 fn；
// 冷却结束后转入 HALF_OPEN，只放行一次试探调用，
// 成功则闭合并清零失败计数，失败则重新打开并刷新 openedAt。
func (b *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	b.mu.Lock()
	st := b.loadState(ctx)

	switch st.State {
	case StateOpen:
		if b.now().Sub(st.OpenedAt) < b.cfg.CoolDown {
			b.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrBreakerOpen, b.provider)
		}
		// 冷却结束，进入半开试探
		st.State = StateHalfOpen
		b.saveState(ctx, st)
		fallthrough
	case StateHalfOpen:
		if b.trialing {
			b.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrBreakerOpen, b.provider)
		}
		b.trialing = true
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialing = false

	st = b.loadState(ctx)
	if err == nil {
		if st.State != StateClosed || st.Failures != 0 {
			b.saveState(ctx, breakerState{State: StateClosed})
			if st.State != StateClosed {
				b.log.Infof("熔断器已闭合: 服务商=%s", b.provider)
			}
		}
		return nil
	}

	st.Failures++
	if st.State == StateHalfOpen {
		// 试探失败，重新打开
		st.State = StateOpen
		st.OpenedAt = b.now()
		b.log.Warnf("熔断器试探失败，重新打开: 服务商=%s", b.provider)
	} else if st.Failures >= b.cfg.FailureThreshold {
		st.State = StateOpen
		st.OpenedAt = b.now()
		b.log.Warnf("熔断器打开: 服务商=%s, 连续失败 %d 次", b.provider, st.Failures)
	}
	b.saveState(ctx, st)

	return err
}
