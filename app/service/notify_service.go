package service

import (
	"smartmeet/app/config"
	"smartmeet/app/logger"

	"resty.dev/v3"
)

// 通知类型
const (
	NotifyKindSuccess = "success" // 处理成功
	NotifyKindFailure = "failure" // 处理失败
)

// Notification 发给用户的站内通知
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Kind    string `json:"kind"`
	Link    string `json:"link,omitempty"`
}

// NotifyService 把处理结果推送到通知服务。
// 推送失败只记录日志，绝不影响流水线本身。
type NotifyService struct {
	http *resty.Client
	cfg  config.NotifyConfig
	log  *logger.Logger
}

// NewNotifyService 创建通知服务
func NewNotifyService(cfg config.NotifyConfig, log *logger.Logger) *NotifyService {
	client := resty.New()
	client.SetTimeout(cfg.Timeout)

	return &NotifyService{
		http: client,
		cfg:  cfg,
		log:  log,
	}
}

// Notify 向指定用户推送一条通知
func (s *NotifyService) Notify(userID uint, n Notification) {
	if s.cfg.WebhookURL == "" {
		s.log.Debugf("未配置通知地址，跳过推送: 用户=%d, 标题=%s", userID, n.Title)
		return
	}

	resp, err := s.http.R().
		SetBody(map[string]interface{}{
			"user_id":      userID,
			"notification": n,
		}).
		Post(s.cfg.WebhookURL)

	if err != nil {
		s.log.Warnf("推送通知失败: 用户=%d, 错误: %v", userID, err)
		return
	}
	if resp.StatusCode() >= 300 {
		s.log.Warnf("通知服务返回错误: 用户=%d, 状态码: %d", userID, resp.StatusCode())
	}
}
