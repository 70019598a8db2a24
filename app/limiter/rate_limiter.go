package limiter

import (
	"context"
	"fmt"
	"time"

	"smartmeet/app/config"
	"smartmeet/app/logger"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// LimiterType 限流档位名称
const (
	LimiterTypeAPI     = "api"     // 普通 API 请求
	LimiterTypeLogin   = "login"   // 登录尝试
	LimiterTypeGeneral = "general" // 兜底档位
)

// Profile 固定的(点数, 窗口时长)限流档位
type Profile struct {
	Points int
	Window time.Duration
}

// 限流档位定义
var profiles = map[string]Profile{
	LimiterTypeAPI:     {Points: 50, Window: time.Minute},
	LimiterTypeLogin:   {Points: 5, Window: 15 * time.Minute},
	LimiterTypeGeneral: {Points: 100, Window: time.Hour},
}

// Result 单次限流检查的结果
type Result struct {
	Allowed       bool  `json:"allowed"`
	Limit         int   `json:"limit"`
	Remaining     int   `json:"remaining"`
	ResetMs       int64 `json:"reset_ms"`        // 窗口重置的毫秒时间戳
	RetryAfterSec int   `json:"retry_after_sec"` // 被拒绝时建议等待的秒数
}

// RateLimiter 按键限流器。主策略是 Redis 有序集合实现的精确滑动窗口；
// Redis 不可用时逐次调用退化到 go-cache 的本地固定窗口，
// 语义等价(相同点数与窗口)，瞬时故障只是降级而不是拒绝请求。
type RateLimiter struct {
	rdb    *redis.Client
	log    *logger.Logger
	prefix string
	cfg    config.RateLimitConfig
	local  *gocache.Cache
	now    func() time.Time // 测试时可替换
}

// localWindow 本地退化窗口的计数
type localWindow struct {
	Count int
	Reset time.Time
}

// NewRateLimiter 创建限流器
func NewRateLimiter(rdb *redis.Client, prefix string, cfg config.RateLimitConfig, log *logger.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:    rdb,
		log:    log,
		prefix: prefix,
		cfg:    cfg,
		local:  gocache.New(time.Hour, 10*time.Minute),
		now:    time.Now,
	}
}

func (r *RateLimiter) key(limiterType, key string) string {
	return fmt.Sprintf("%s:%s:%s:%s", r.prefix, r.cfg.Prefix, limiterType, key)
}

// Check 消耗一点并返回当前窗口状态。未知档位按 general 处理。
func (r *RateLimiter) Check(ctx context.Context, limiterType, key string) Result {
	profile, ok := profiles[limiterType]
	if !ok {
		profile = profiles[LimiterTypeGeneral]
	}

	res, err := r.checkSliding(ctx, r.key(limiterType, key), profile)
	if err == nil {
		return res
	}

	r.log.Warnf("限流主后端不可用，退化到本地窗口: type=%s, 错误: %v", limiterType, err)
	if !r.cfg.FailOpen {
		// 不允许退化时按拒绝处理
		return Result{Allowed: false, Limit: profile.Points, RetryAfterSec: 1}
	}
	return r.checkLocal(limiterType, key, profile)
}

// checkSliding Redis 有序集合滑动窗口：成员为请求时间戳，
// 先清掉窗口外的旧成员再计数。
func (r *RateLimiter) checkSliding(ctx context.Context, redisKey string, profile Profile) (Result, error) {
	now := r.now()
	windowStart := now.Add(-profile.Window)

	if err := r.rdb.ZRemRangeByScore(ctx, redisKey,
		"0", fmt.Sprint(windowStart.UnixNano())).Err(); err != nil {
		return Result{}, err
	}

	count, err := r.rdb.ZCard(ctx, redisKey).Result()
	if err != nil {
		return Result{}, err
	}

	if int(count) >= profile.Points {
		// 最早的成员过期后窗口才会腾出空间
		oldest, err := r.rdb.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
		if err != nil {
			return Result{}, err
		}
		resetAt := now.Add(profile.Window)
		if len(oldest) > 0 {
			resetAt = time.Unix(0, int64(oldest[0].Score)).Add(profile.Window)
		}
		retryAfter := int(time.Until(resetAt).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}
		return Result{
			Allowed:       false,
			Limit:         profile.Points,
			Remaining:     0,
			ResetMs:       resetAt.UnixMilli(),
			RetryAfterSec: retryAfter,
		}, nil
	}

	member := fmt.Sprintf("%d", now.UnixNano())
	if err := r.rdb.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member}).Err(); err != nil {
		return Result{}, err
	}
	r.rdb.Expire(ctx, redisKey, profile.Window)

	remaining := profile.Points - int(count) - 1
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   true,
		Limit:     profile.Points,
		Remaining: remaining,
		ResetMs:   now.Add(profile.Window).UnixMilli(),
	}, nil
}

// checkLocal 本地固定窗口退化实现
func (r *RateLimiter) checkLocal(limiterType, key string, profile Profile) Result {
	cacheKey := limiterType + ":" + key
	now := r.now()

	var win *localWindow
	if v, found := r.local.Get(cacheKey); found {
		win = v.(*localWindow)
	}
	if win == nil || now.After(win.Reset) {
		win = &localWindow{Reset: now.Add(profile.Window)}
		r.local.Set(cacheKey, win, profile.Window)
	}

	if win.Count >= profile.Points {
		retryAfter := int(win.Reset.Sub(now).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}
		return Result{
			Allowed:       false,
			Limit:         profile.Points,
			Remaining:     0,
			ResetMs:       win.Reset.UnixMilli(),
			RetryAfterSec: retryAfter,
		}
	}

	win.Count++
	return Result{
		Allowed:   true,
		Limit:     profile.Points,
		Remaining: profile.Points - win.Count,
		ResetMs:   win.Reset.UnixMilli(),
	}
}

// Reset 管理操作：清除某个键的计数，例如登录成功后豁免之前的失败尝试
func (r *RateLimiter) Reset(ctx context.Context, limiterType, key string) {
	if err := r.rdb.Del(ctx, r.key(limiterType, key)).Err(); err != nil {
		r.log.Warnf("清除限流计数失败: type=%s, key=%s, 错误: %v", limiterType, key, err)
	}
	r.local.Delete(limiterType + ":" + key)
}

// CheckLogin 登录组合检查：身份与来源 IP 两个窗口任一耗尽即拒绝，
// 返回二者中更紧的剩余额度。
func (r *RateLimiter) CheckLogin(ctx context.Context, identity, ip string) Result {
	byID := r.Check(ctx, LimiterTypeLogin, "id:"+identity)
	byIP := r.Check(ctx, LimiterTypeLogin, "ip:"+ip)

	tighter := byID
	if byIP.Remaining < tighter.Remaining {
		tighter = byIP
	}
	if !byID.Allowed || !byIP.Allowed {
		tighter.Allowed = false
		if tighter.RetryAfterSec < 1 {
			tighter.RetryAfterSec = 1
		}
	}
	return tighter
}
