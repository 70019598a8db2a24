package service

import (
	"context"
	"fmt"
	"strings"

	"smartmeet/app/config"
	"smartmeet/app/logger"
	"smartmeet/app/model"
	"smartmeet/app/queue"
	"smartmeet/app/rules"

	"gorm.io/gorm"
)

// IngestService 处理请求的入口：对会议记录做治理决策(优先级、标签、
// 套餐限制)后投递处理任务并唤醒工作进程。
type IngestService struct {
	db        *gorm.DB
	taskQueue *queue.TaskQueue
	engine    *rules.Engine
	ruleList  []rules.Rule
	trigger   *TriggerService
	cfg       *config.Config
	log       *logger.Logger
}

// NewIngestService 创建入口服务，规则集在进程启动时加载一次
func NewIngestService(db *gorm.DB, taskQueue *queue.TaskQueue, engine *rules.Engine, ruleList []rules.Rule, trigger *TriggerService, cfg *config.Config, log *logger.Logger) *IngestService {
	return &IngestService{
		db:        db,
		taskQueue: taskQueue,
		engine:    engine,
		ruleList:  ruleList,
		trigger:   trigger,
		cfg:       cfg,
		log:       log,
	}
}

// EnqueueMeeting 把一条会议记录送入处理流水线。
// 治理规则的 deny 动作会阻止入队(例如免费套餐超出时长限制)。
func (s *IngestService) EnqueueMeeting(meetingID uint) error {
	var meeting model.Meeting
	if err := s.db.First(&meeting, meetingID).Error; err != nil {
		return fmt.Errorf("会议记录不存在: %w", err)
	}

	if meeting.Status == model.MeetingStatusProcessing {
		return fmt.Errorf("会议记录正在处理中")
	}

	var aiCfg model.UserAIConfig
	plan := model.PlanFree
	if err := s.db.Where("user_id = ?", meeting.UserID).First(&aiCfg).Error; err == nil {
		plan = aiCfg.Plan
	}

	// 治理决策
	report := s.engine.Execute(s.ruleList, map[string]interface{}{
		"user": map[string]interface{}{
			"id":   int(meeting.UserID),
			"plan": plan,
		},
		"meeting": map[string]interface{}{
			"content_type": meeting.ContentType,
			"title":        meeting.Title,
		},
	})

	if err := s.applyActions(&meeting, report); err != nil {
		return err
	}

	// 状态置为待处理后投递任务
	err := s.db.Model(&model.Meeting{}).Where("id = ?", meeting.ID).Updates(map[string]interface{}{
		"status":          model.MeetingStatusPending,
		"processing_step": model.StepIdle,
		"priority":        meeting.Priority,
		"tags":            meeting.Tags,
		"error_msg":       "",
	}).Error
	if err != nil {
		return fmt.Errorf("更新会议记录状态失败: %w", err)
	}

	task := queue.NewTask(queue.TaskTypeProcessMeeting, map[string]string{
		"meeting_id": fmt.Sprint(meeting.ID),
	})
	if !s.taskQueue.Enqueue(context.Background(), task) {
		return fmt.Errorf("任务入队失败，请稍后重试")
	}

	s.trigger.TriggerWorker()
	s.log.Infof("会议记录已进入处理队列: MeetingID=%d, 优先级=%d", meeting.ID, meeting.Priority)
	return nil
}

// applyActions 派发规则引擎报告的动作。引擎只记录意图，落实在这里。
func (s *IngestService) applyActions(meeting *model.Meeting, report rules.Report) error {
	for _, result := range report.Results {
		if !result.Triggered {
			continue
		}

		switch result.Action.Type {
		case rules.ActionDeny:
			reason := "当前套餐不支持该操作"
			if r, ok := result.Action.Params["reason"].(string); ok && r != "" {
				reason = r
			}
			return fmt.Errorf("%s", reason)
		case rules.ActionSetPriority:
			if v, ok := result.Action.Params["value"].(float64); ok {
				meeting.Priority = int(v)
			}
		case rules.ActionAddTag:
			if tag, ok := result.Action.Params["tag"].(string); ok && tag != "" {
				if meeting.Tags == "" {
					meeting.Tags = tag
				} else if !strings.Contains(","+meeting.Tags+",", ","+tag+",") {
					meeting.Tags += "," + tag
				}
			}
		default:
			s.log.Warnf("未知的规则动作类型: 规则=%s, 动作=%s", result.RuleID, result.Action.Type)
		}
	}
	return nil
}
