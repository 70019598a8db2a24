package handler

import (
	"net/http"
	"time"

	"smartmeet/app/logger"
	"smartmeet/app/service"

	"github.com/gin-gonic/gin"
)

// WorkerHandler 工作进程内部接口
type WorkerHandler struct {
	logger    *logger.Logger
	workerSvc *service.WorkerService
	resp      *ResponseHelper
}

// NewWorkerHandler 创建 WorkerHandler
func NewWorkerHandler(log *logger.Logger, workerSvc *service.WorkerService) *WorkerHandler {
	return &WorkerHandler{
		logger:    log,
		workerSvc: workerSvc,
		resp:      NewResponseHelper(),
	}
}

// triggerRequest 唤醒请求体
type triggerRequest struct {
	TriggeredAt string `json:"triggeredAt"`
}

// Trigger 唤醒消费循环去排空队列。调用方即发即弃，这里只负责尽快返回。
func (h *WorkerHandler) Trigger(c *gin.Context) {
	var req triggerRequest
	if err := c.Bind(&req); err != nil {
		c.JSON(http.StatusBadRequest, h.resp.Error(400, "请求体格式错误"))
		return
	}

	if req.TriggeredAt != "" {
		if at, err := time.Parse(time.RFC3339, req.TriggeredAt); err == nil {
			h.logger.Debugf("收到工作进程唤醒: 触发时间=%v, 延迟=%v", at, time.Since(at))
		}
	}

	h.workerSvc.Wake()
	c.JSON(http.StatusOK, h.resp.Success(nil, "ok"))
}
