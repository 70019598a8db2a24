package service

import (
	"context"
	"fmt"
	"time"

	"smartmeet/app/config"
	"smartmeet/app/logger"
	"smartmeet/app/model"
	"smartmeet/app/queue"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// RetryService 失败与卡住任务的恢复服务。
// 定时扫描卡在处理中的会议记录(出队后进程崩溃的任务会表现为这种状态)，
// 重置后重新入队；同时提供手动重试入口。
type RetryService struct {
	db        *gorm.DB
	taskQueue *queue.TaskQueue
	trigger   *TriggerService
	cfg       *config.Config
	log       *logger.Logger
	cron      *cron.Cron
}

// NewRetryService 创建恢复服务
func NewRetryService(db *gorm.DB, taskQueue *queue.TaskQueue, trigger *TriggerService, cfg *config.Config, log *logger.Logger) *RetryService {
	return &RetryService{
		db:        db,
		taskQueue: taskQueue,
		trigger:   trigger,
		cfg:       cfg,
		log:       log,
		cron:      cron.New(),
	}
}

// Start 注册定时任务并启动调度器
func (s *RetryService) Start() error {
	if _, err := s.cron.AddFunc("@every 1m", s.sweepStuck); err != nil {
		return fmt.Errorf("注册卡住任务扫描失败: %w", err)
	}
	if _, err := s.cron.AddFunc("@every 5m", s.logQueueStats); err != nil {
		return fmt.Errorf("注册队列统计失败: %w", err)
	}
	if _, err := s.cron.AddFunc("@hourly", s.cleanupDeadLetters); err != nil {
		return fmt.Errorf("注册死信清理失败: %w", err)
	}

	s.cron.Start()
	s.log.Info("恢复服务已启动")
	return nil
}

// Stop 停止调度器，等待进行中的扫描结束
func (s *RetryService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("恢复服务已停止")
}

// sweepStuck 扫描卡住的会议记录并重新入队。
// 阈值高于单次处理的时间预算，不会与仍在执行的任务赛跑。
func (s *RetryService) sweepStuck() {
	cutoff := time.Now().Add(-s.cfg.Worker.StuckThreshold)

	var stuck []model.Meeting
	err := s.db.Where("status = ? AND updated_at < ?", model.MeetingStatusProcessing, cutoff).
		Find(&stuck).Error
	if err != nil {
		s.log.Errorf("扫描卡住任务失败: %v", err)
		return
	}

	for _, meeting := range stuck {
		s.log.Warnf("检测到卡住的会议记录，重新入队: MeetingID=%d, 阶段=%s, 最后更新: %v",
			meeting.ID, meeting.ProcessingStep, meeting.UpdatedAt)
		if err := s.requeueResume(&meeting); err != nil {
			s.log.Errorf("卡住任务重新入队失败: MeetingID=%d, 错误: %v", meeting.ID, err)
		}
	}

	if len(stuck) > 0 {
		s.trigger.TriggerWorker()
	}
}

// RetryMeeting 手动重试。只有失败的、或卡在处理中超过阈值的记录才可重试。
func (s *RetryService) RetryMeeting(meetingID uint) error {
	var meeting model.Meeting
	if err := s.db.First(&meeting, meetingID).Error; err != nil {
		return fmt.Errorf("会议记录不存在: %w", err)
	}

	if !meeting.CanRetry(s.cfg.Worker.StuckThreshold) {
		return fmt.Errorf("当前状态不允许重试: status=%s", meeting.Status)
	}

	if err := s.requeue(&meeting); err != nil {
		return err
	}

	s.trigger.TriggerWorker()
	s.log.Infof("会议记录已手动重试: MeetingID=%d", meetingID)
	return nil
}

// requeueResume 卡住恢复：保留已持久化的处理阶段后重新投递，
// 已完成转写的记录可以直接从摘要阶段继续
func (s *RetryService) requeueResume(meeting *model.Meeting) error {
	err := s.db.Model(&model.Meeting{}).Where("id = ?", meeting.ID).
		Update("status", model.MeetingStatusPending).Error
	if err != nil {
		return fmt.Errorf("重置会议记录状态失败: %w", err)
	}

	task := queue.NewTask(queue.TaskTypeProcessMeeting, map[string]string{
		"meeting_id": fmt.Sprint(meeting.ID),
	})
	if !s.taskQueue.Enqueue(context.Background(), task) {
		return fmt.Errorf("任务入队失败")
	}
	return nil
}

// requeue 重置记录状态并投递新任务
func (s *RetryService) requeue(meeting *model.Meeting) error {
	meeting.ResetForRetry()
	err := s.db.Model(&model.Meeting{}).Where("id = ?", meeting.ID).Updates(map[string]interface{}{
		"status":          meeting.Status,
		"processing_step": meeting.ProcessingStep,
		"error_msg":       "",
	}).Error
	if err != nil {
		return fmt.Errorf("重置会议记录状态失败: %w", err)
	}

	task := queue.NewTask(queue.TaskTypeProcessMeeting, map[string]string{
		"meeting_id": fmt.Sprint(meeting.ID),
	})
	if !s.taskQueue.Enqueue(context.Background(), task) {
		return fmt.Errorf("任务入队失败")
	}
	return nil
}

// maxDeadLetters 死信队列保留的任务数上限
const maxDeadLetters = 1000

// cleanupDeadLetters 定期裁剪死信队列，防止无限堆积
func (s *RetryService) cleanupDeadLetters() {
	s.taskQueue.TrimDeadLetter(context.Background(), maxDeadLetters)
}

// logQueueStats 周期性输出队列水位，仅用于观测
func (s *RetryService) logQueueStats() {
	ctx := context.Background()
	s.log.Infof("队列水位: 待处理=%d, 死信=%d",
		s.taskQueue.Length(ctx), s.taskQueue.DeadLetterLength(ctx))
}
