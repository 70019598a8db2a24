package middleware

import (
	"fmt"
	"net/http"

	"smartmeet/app/limiter"

	"github.com/gin-gonic/gin"
)

// RateLimit 按调用方限流的中间件。键优先取网关注入的用户标识，
// 匿名请求退化为客户端 IP。响应带标准的 X-RateLimit-* 头。
func RateLimit(rl *limiter.RateLimiter, limiterType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-User-ID")
		if key == "" {
			key = c.ClientIP()
		}

		result := rl.Check(c.Request.Context(), limiterType, key)

		c.Header("X-RateLimit-Limit", fmt.Sprint(result.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprint(result.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprint(result.ResetMs))

		if !result.Allowed {
			c.Header("Retry-After", fmt.Sprint(result.RetryAfterSec))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    429,
				"message": "请求过于频繁，请稍后重试",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
