package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"smartmeet/app/config"

	"github.com/gin-gonic/gin"
)

// WorkerAuth 工作进程内部接口的共享密钥认证
func WorkerAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Server.WorkerSecret == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"code":    503,
				"message": "worker secret 未配置",
			})
			c.Abort()
			return
		}

		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    401,
				"message": "Authorization header format must be Bearer {token}",
			})
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(cfg.Server.WorkerSecret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    401,
				"message": "无效的 worker secret",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
