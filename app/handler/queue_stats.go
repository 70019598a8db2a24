package handler

import (
	"net/http"
	"strconv"

	"smartmeet/app/breaker"
	"smartmeet/app/logger"
	"smartmeet/app/queue"

	"github.com/gin-gonic/gin"
)

// QueueStatsHandler 队列与熔断器的观测接口
type QueueStatsHandler struct {
	logger    *logger.Logger
	taskQueue *queue.TaskQueue
	breakers  *breaker.Registry
	resp      *ResponseHelper
}

// NewQueueStatsHandler 创建 QueueStatsHandler
func NewQueueStatsHandler(log *logger.Logger, taskQueue *queue.TaskQueue, breakers *breaker.Registry) *QueueStatsHandler {
	return &QueueStatsHandler{
		logger:    log,
		taskQueue: taskQueue,
		breakers:  breakers,
		resp:      NewResponseHelper(),
	}
}

// GetStats 队列长度与各服务商熔断器状态
func (h *QueueStatsHandler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	breakerStates := make(map[string]string)
	for _, provider := range h.breakers.Providers() {
		breakerStates[provider] = string(h.breakers.Get(provider).GetState(ctx))
	}

	c.JSON(http.StatusOK, h.resp.Success(gin.H{
		"pending":     h.taskQueue.Length(ctx),
		"dead_letter": h.taskQueue.DeadLetterLength(ctx),
		"breakers":    breakerStates,
	}, "ok"))
}

// RequeueDead 把死信任务移回主队列，人工恢复用
func (h *QueueStatsHandler) RequeueDead(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", "10"))
	if err != nil || count <= 0 {
		c.JSON(http.StatusBadRequest, h.resp.Error(400, "无效的数量参数"))
		return
	}

	moved := h.taskQueue.RequeueDead(c.Request.Context(), count)
	c.JSON(http.StatusOK, h.resp.Success(gin.H{"moved": moved}, "ok"))
}
