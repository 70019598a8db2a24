package handler

import (
	"net/http"
	"strconv"

	"smartmeet/app/database"
	"smartmeet/app/logger"
	"smartmeet/app/model"
	"smartmeet/app/service"

	"github.com/gin-gonic/gin"
)

// MeetingHandler 会议记录处理相关接口
type MeetingHandler struct {
	logger    *logger.Logger
	ingestSvc *service.IngestService
	retrySvc  *service.RetryService
	viewCache *service.ViewCache
	resp      *ResponseHelper
}

// NewMeetingHandler 创建 MeetingHandler
func NewMeetingHandler(log *logger.Logger, ingestSvc *service.IngestService, retrySvc *service.RetryService, viewCache *service.ViewCache) *MeetingHandler {
	return &MeetingHandler{
		logger:    log,
		ingestSvc: ingestSvc,
		retrySvc:  retrySvc,
		viewCache: viewCache,
		resp:      NewResponseHelper(),
	}
}

// parseID 解析路径中的会议 ID
func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "无效的会议ID"})
		return 0, false
	}
	return uint(id), true
}

// ProcessMeeting 把会议记录送入处理流水线
func (h *MeetingHandler) ProcessMeeting(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.ingestSvc.EnqueueMeeting(id); err != nil {
		h.logger.Warnf("会议记录入队失败: MeetingID=%d, 错误: %v", id, err)
		c.JSON(http.StatusBadRequest, h.resp.Error(400, err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, h.resp.Success(nil, "已加入处理队列"))
}

// RetryMeeting 手动重试失败或卡住的会议记录
func (h *MeetingHandler) RetryMeeting(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.retrySvc.RetryMeeting(id); err != nil {
		h.logger.Warnf("会议记录重试失败: MeetingID=%d, 错误: %v", id, err)
		c.JSON(http.StatusBadRequest, h.resp.Error(400, err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, h.resp.Success(nil, "已重新加入处理队列"))
}

// GetStatus 查询会议记录的处理状态
func (h *MeetingHandler) GetStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var meeting model.Meeting
	if err := database.DB.Preload("Transcripts").First(&meeting, id).Error; err != nil {
		c.JSON(http.StatusNotFound, h.resp.Error(404, "会议记录不存在"))
		return
	}

	c.JSON(http.StatusOK, h.resp.Success(meeting, "ok"))
}

// ListMeetings 查询用户的会议列表，带进程内视图缓存
func (h *MeetingHandler) ListMeetings(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Query("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, h.resp.Error(400, "无效的用户ID"))
		return
	}

	if cached, found := h.viewCache.GetMeetingList(uint(userID)); found {
		c.JSON(http.StatusOK, h.resp.Success(cached, "ok"))
		return
	}

	var meetings []model.Meeting
	if err := database.DB.Where("user_id = ?", userID).
		Order("created_at DESC").Limit(100).Find(&meetings).Error; err != nil {
		h.logger.Errorf("查询会议列表失败: 用户=%d, 错误: %v", userID, err)
		c.JSON(http.StatusInternalServerError, h.resp.Error(500, "查询会议列表失败"))
		return
	}

	h.viewCache.SetMeetingList(uint(userID), meetings)
	c.JSON(http.StatusOK, h.resp.Success(meetings, "ok"))
}
