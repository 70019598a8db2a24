package breaker

import (
	"sync"

	"smartmeet/app/config"
	"smartmeet/app/logger"

	"github.com/redis/go-redis/v9"
)

// Registry 熔断器注册表：每个服务商一个实例，跨调用复用。
// 由进程级上下文持有并注入使用方，不做包级全局状态。
type Registry struct {
	rdb    *redis.Client
	log    *logger.Logger
	prefix string
	cfg    config.BreakerConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry 创建熔断器注册表
func NewRegistry(rdb *redis.Client, prefix string, cfg config.BreakerConfig, log *logger.Logger) *Registry {
	return &Registry{
		rdb:      rdb,
		log:      log,
		prefix:   prefix,
		cfg:      cfg,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get 获取指定服务商的熔断器，不存在则创建
func (r *Registry) Get(provider string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[provider]; ok {
		return b
	}
	b := NewCircuitBreaker(r.rdb, r.prefix, provider, r.cfg, r.log)
	r.breakers[provider] = b
	return b
}

// Providers 返回已注册的服务商名称，用于状态观测
func (r *Registry) Providers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	return names
}
