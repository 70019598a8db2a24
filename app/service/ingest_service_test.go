package service

import (
	"context"
	"strings"
	"testing"

	"smartmeet/app/config"
	"smartmeet/app/model"
	"smartmeet/app/queue"
	"smartmeet/app/rules"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// 测试用治理规则集：专业版提升优先级并停止评估，视频打标签，
// 免费版不允许处理文档类内容
func testRules() []rules.Rule {
	return []rules.Rule{
		{
			Metadata: rules.Metadata{ID: "pro-priority", Status: rules.RuleStatusActive, Priority: 100},
			Conditions: rules.ConditionSet{All: []rules.Condition{
				{Field: "user.plan", Operator: "eq", Value: "pro"},
			}},
			Action: rules.Action{Type: rules.ActionSetPriority, Params: map[string]interface{}{
				"value": float64(10),
			}},
			ConflictStrategy: rules.ConflictContinue,
		},
		{
			Metadata: rules.Metadata{ID: "tag-video", Status: rules.RuleStatusActive, Priority: 50},
			Conditions: rules.ConditionSet{All: []rules.Condition{
				{Field: "meeting.content_type", Operator: "eq", Value: "video"},
			}},
			Action: rules.Action{Type: rules.ActionAddTag, Params: map[string]interface{}{
				"tag": "video",
			}},
		},
		{
			Metadata: rules.Metadata{ID: "free-no-document", Status: rules.RuleStatusActive, Priority: 10},
			Conditions: rules.ConditionSet{All: []rules.Condition{
				{Field: "user.plan", Operator: "eq", Value: "free"},
				{Field: "meeting.content_type", Operator: "eq", Value: "document"},
			}},
			Action: rules.Action{Type: rules.ActionDeny, Params: map[string]interface{}{
				"reason": "免费套餐不支持文档处理",
			}},
		},
	}
}

func newIngestHarness(t *testing.T) (*pipelineHarness, *IngestService, *queue.TaskQueue) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	db := testDB(t)
	cfg := testConfig()
	log := testLogger()

	taskQueue := queue.NewTaskQueue(rdb, cfg.Redis.Prefix, log)
	trigger := NewTriggerService(config.ServerConfig{}, log)
	svc := NewIngestService(db, taskQueue, rules.NewEngine(log), testRules(), trigger, cfg, log)

	h := &pipelineHarness{db: db}
	return h, svc, taskQueue
}

func TestEnqueueMeetingAppliesGovernance(t *testing.T) {
	h, svc, taskQueue := newIngestHarness(t)

	meeting := h.seedMeeting(t, model.ContentTypeVideo, true) // pro 套餐
	if err := svc.EnqueueMeeting(meeting.ID); err != nil {
		t.Fatalf("入队应当成功，实际错误: %v", err)
	}

	got := h.reload(t, meeting.ID)
	if got.Priority != 10 {
		t.Errorf("专业版优先级应提升到 10，实际 %d", got.Priority)
	}
	if !strings.Contains(got.Tags, "video") {
		t.Errorf("视频内容应打上 video 标签，实际 %q", got.Tags)
	}
	if got.Status != model.MeetingStatusPending || got.ProcessingStep != model.StepIdle {
		t.Errorf("入队后应为 pending/idle，实际 %s/%s", got.Status, got.ProcessingStep)
	}

	if got := taskQueue.Length(context.Background()); got != 1 {
		t.Errorf("主队列应有 1 个任务，实际 %d", got)
	}
}

func TestEnqueueMeetingDeniedByPlan(t *testing.T) {
	h, svc, taskQueue := newIngestHarness(t)

	// 免费套餐(无 AI 配置时默认 free)上传文档
	meeting := h.seedMeeting(t, model.ContentTypeDocument, false)
	err := svc.EnqueueMeeting(meeting.ID)
	if err == nil {
		t.Fatal("免费套餐的文档处理应被治理规则拒绝")
	}
	if !strings.Contains(err.Error(), "免费套餐") {
		t.Errorf("拒绝原因应来自规则参数，实际 %q", err.Error())
	}

	if got := taskQueue.Length(context.Background()); got != 0 {
		t.Errorf("被拒绝的请求不应产生任务，实际 %d", got)
	}
}

func TestEnqueueMeetingRejectsProcessing(t *testing.T) {
	h, svc, _ := newIngestHarness(t)

	meeting := h.seedMeeting(t, model.ContentTypeAudio, true)
	if err := h.db.Model(meeting).Update("status", model.MeetingStatusProcessing).Error; err != nil {
		t.Fatalf("预置处理中状态失败: %v", err)
	}

	if err := svc.EnqueueMeeting(meeting.ID); err == nil {
		t.Fatal("处理中的会议记录不应重复入队")
	}
}

func TestEnqueueMeetingTagDeduplicated(t *testing.T) {
	h, svc, _ := newIngestHarness(t)

	meeting := h.seedMeeting(t, model.ContentTypeVideo, true)
	if err := h.db.Model(meeting).Update("tags", "video,urgent").Error; err != nil {
		t.Fatalf("预置标签失败: %v", err)
	}

	if err := svc.EnqueueMeeting(meeting.ID); err != nil {
		t.Fatalf("入队应当成功，实际错误: %v", err)
	}

	got := h.reload(t, meeting.ID)
	if got.Tags != "video,urgent" {
		t.Errorf("已存在的标签不应重复追加，实际 %q", got.Tags)
	}
}
