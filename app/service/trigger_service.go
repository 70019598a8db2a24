package service

import (
	"time"

	"smartmeet/app/config"
	"smartmeet/app/logger"

	"resty.dev/v3"
)

// TriggerService 唤醒工作进程的即发即弃 HTTP 通知。
// 调用方不等待结果，投递可靠性由任务队列保证，不依赖这次唤醒；
// 唤醒失败会记录日志，便于排查但不阻塞入队方。
type TriggerService struct {
	http *resty.Client
	cfg  config.ServerConfig
	log  *logger.Logger
}

// NewTriggerService 创建唤醒服务
func NewTriggerService(cfg config.ServerConfig, log *logger.Logger) *TriggerService {
	client := resty.New()
	client.SetTimeout(10 * time.Second)

	return &TriggerService{
		http: client,
		cfg:  cfg,
		log:  log,
	}
}

// TriggerWorker 异步唤醒工作进程，立即返回
func (s *TriggerService) TriggerWorker() {
	if s.cfg.TriggerURL == "" {
		return
	}

	go func() {
		resp, err := s.http.R().
			SetAuthToken(s.cfg.WorkerSecret).
			SetBody(map[string]string{
				"triggeredAt": time.Now().UTC().Format(time.RFC3339),
			}).
			Post(s.cfg.TriggerURL)

		if err != nil {
			s.log.Warnf("唤醒工作进程失败: %v", err)
			return
		}
		if resp.StatusCode() >= 300 {
			s.log.Warnf("唤醒工作进程返回错误，状态码: %d", resp.StatusCode())
		}
	}()
}
