package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"smartmeet/app/config"
	"smartmeet/app/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var errProvider = errors.New("转写服务 500")

func newTestBreaker(t *testing.T) *CircuitBreaker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := config.BreakerConfig{FailureThreshold: 3, CoolDown: time.Minute}
	log := logger.New(config.LogConfig{Level: "error", Output: "stdout"})
	return NewCircuitBreaker(rdb, "test", "openai", cfg, log)
}

func failTimes(t *testing.T, b *CircuitBreaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := b.Execute(context.Background(), func() error { return errProvider }); !errors.Is(err, errProvider) {
			t.Fatalf("第 %d 次失败调用应返回原始错误，实际: %v", i+1, err)
		}
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := newTestBreaker(t)
	ctx := context.Background()

	if b.GetState(ctx) != StateClosed {
		t.Fatal("初始状态应为 CLOSED")
	}

	// 连续失败达到阈值后打开
	failTimes(t, b, 3)
	if b.GetState(ctx) != StateOpen {
		t.Fatalf("连续失败后状态应为 OPEN，实际: %s", b.GetState(ctx))
	}

	// OPEN 状态下直接拒绝，不触发被包裹的函数
	invoked := false
	err := b.Execute(ctx, func() error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("OPEN 状态应返回 ErrBreakerOpen，实际: %v", err)
	}
	if invoked {
		t.Fatal("OPEN 状态下不应触发被包裹的函数")
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := newTestBreaker(t)
	ctx := context.Background()

	failTimes(t, b, 3)

	// 冷却结束后放行试探调用，成功则闭合
	b.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if err := b.Execute(ctx, func() error { return nil }); err != nil {
		t.Fatalf("冷却后的试探调用应放行，实际: %v", err)
	}
	if b.GetState(ctx) != StateClosed {
		t.Fatalf("试探成功后状态应为 CLOSED，实际: %s", b.GetState(ctx))
	}

	// 闭合后失败计数已清零，单次失败不会立即重新打开
	failTimes(t, b, 1)
	if b.GetState(ctx) != StateClosed {
		t.Fatal("单次失败不应重新打开熔断器")
	}
}

func TestBreakerHalfOpenReopens(t *testing.T) {
	b := newTestBreaker(t)
	ctx := context.Background()

	failTimes(t, b, 3)

	// 试探调用失败则重新打开并刷新 openedAt
	b.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	failTimes(t, b, 1)

	if b.GetState(ctx) != StateOpen {
		t.Fatalf("试探失败后状态应为 OPEN，实际: %s", b.GetState(ctx))
	}

	// 新一轮冷却期内仍然拒绝
	b.now = func() time.Time { return time.Now().Add(2*time.Minute + 30*time.Second) }
	if err := b.Execute(ctx, func() error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("新冷却期内应拒绝调用，实际: %v", err)
	}
}

func TestRegistryScopesPerProvider(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := config.BreakerConfig{FailureThreshold: 3, CoolDown: time.Minute}
	log := logger.New(config.LogConfig{Level: "error", Output: "stdout"})
	reg := NewRegistry(rdb, "test", cfg, log)

	openai := reg.Get("openai")
	deepgram := reg.Get("deepgram")
	if openai == deepgram {
		t.Fatal("不同服务商应有各自的熔断器实例")
	}
	if reg.Get("openai") != openai {
		t.Fatal("同一服务商应复用同一个实例")
	}

	// openai 熔断不影响 deepgram
	failTimes(t, openai, 3)
	if openai.GetState(context.Background()) != StateOpen {
		t.Fatal("openai 熔断器应打开")
	}
	if deepgram.GetState(context.Background()) != StateClosed {
		t.Fatal("deepgram 熔断器不应受影响")
	}
}
