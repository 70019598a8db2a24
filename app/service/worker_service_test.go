package service

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"smartmeet/app/breaker"
	"smartmeet/app/limiter"
	"smartmeet/app/model"
	"smartmeet/app/queue"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// workerHarness 消费者测试装配：队列与编排器共用同一个 miniredis
type workerHarness struct {
	*pipelineHarness
	taskQueue *queue.TaskQueue
	worker    *WorkerService
}

func newWorkerHarness(t *testing.T, maxRetries int) *workerHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	db := testDB(t)
	cfg := testConfig()
	cfg.Worker.MaxRetries = maxRetries
	log := testLogger()

	transcriber := &fakeTranscriber{}
	summarizer := &fakeSummarizer{}
	artifacts := &fakeArtifacts{objects: make(map[string][]byte)}
	notifier := &fakeNotifier{}

	svc := NewProcessingService(
		db, rdb, cfg, log,
		breaker.NewRegistry(rdb, cfg.Redis.Prefix, cfg.Breaker, log),
		limiter.NewRateLimiter(rdb, cfg.Redis.Prefix, cfg.RateLimit, log),
		transcriber, summarizer, artifacts, notifier,
		NewViewCache(),
	)
	taskQueue := queue.NewTaskQueue(rdb, cfg.Redis.Prefix, log)

	return &workerHarness{
		pipelineHarness: &pipelineHarness{
			db:          db,
			svc:         svc,
			transcriber: transcriber,
			summarizer:  summarizer,
			artifacts:   artifacts,
			notifier:    notifier,
		},
		taskQueue: taskQueue,
		worker:    NewWorkerService(taskQueue, svc, cfg, log),
	}
}

func TestWorkerRetriesThenDeadLetters(t *testing.T) {
	h := newWorkerHarness(t, 2)
	ctx := context.Background()

	meeting := h.seedMeeting(t, model.ContentTypeAudio, true)
	h.artifacts.objects[meeting.StorageKey] = []byte{0x00}
	h.transcriber.err = errors.New("服务商超时")

	task := taskFor(meeting.ID)
	if !h.taskQueue.Enqueue(ctx, task) {
		t.Fatal("入队失败")
	}

	// 第一次处理失败，任务应带着错误信息回到主队列。
	// 批量设为 1，避免重新入队的任务在同一次批量里被再次取出。
	h.worker.cfg.Worker.MaxBatch = 1
	h.worker.drain()
	if got := h.taskQueue.Length(ctx); got != 1 {
		t.Fatalf("首次失败后主队列应有 1 个任务，实际 %d", got)
	}

	requeued := h.taskQueue.Dequeue(ctx)
	if requeued == nil {
		t.Fatal("重新入队的任务应可取出")
	}
	if requeued.Retries != 1 {
		t.Errorf("重试计数应为 1，实际 %d", requeued.Retries)
	}
	if requeued.Error == "" {
		t.Error("重新入队的任务应携带最后一次错误信息")
	}

	// 达到重试上限后进入死信队列
	h.worker.handle(ctx, requeued)
	if got := h.taskQueue.Length(ctx); got != 0 {
		t.Errorf("达到重试上限后主队列应为空，实际 %d", got)
	}
	if got := h.taskQueue.DeadLetterLength(ctx); got != 1 {
		t.Errorf("死信队列应有 1 个任务，实际 %d", got)
	}
}

func TestWorkerSuccessDropsTask(t *testing.T) {
	h := newWorkerHarness(t, 3)
	ctx := context.Background()

	meeting := h.seedMeeting(t, model.ContentTypeText, true)
	h.artifacts.objects[meeting.StorageKey] = []byte("会议内容")

	if !h.taskQueue.Enqueue(ctx, taskFor(meeting.ID)) {
		t.Fatal("入队失败")
	}

	h.worker.drain()

	if got := h.taskQueue.Length(ctx); got != 0 {
		t.Errorf("处理成功后主队列应为空，实际 %d", got)
	}
	if got := h.taskQueue.DeadLetterLength(ctx); got != 0 {
		t.Errorf("处理成功后死信队列应为空，实际 %d", got)
	}
	if h.reload(t, meeting.ID).Status != model.MeetingStatusCompleted {
		t.Error("会议记录应已完成")
	}
}

func TestWorkerDropsUnknownTaskType(t *testing.T) {
	h := newWorkerHarness(t, 3)
	ctx := context.Background()

	task := queue.NewTask("UNKNOWN_TYPE", map[string]string{"meeting_id": "1"})
	if !h.taskQueue.Enqueue(ctx, task) {
		t.Fatal("入队失败")
	}

	h.worker.drain()

	// 未知类型直接丢弃，不重试也不进死信
	if got := h.taskQueue.Length(ctx); got != 0 {
		t.Errorf("主队列应为空，实际 %d", got)
	}
	if got := h.taskQueue.DeadLetterLength(ctx); got != 0 {
		t.Errorf("死信队列应为空，实际 %d", got)
	}
}

func TestWorkerDrainRespectsBatchLimit(t *testing.T) {
	h := newWorkerHarness(t, 3)
	ctx := context.Background()

	meeting := h.seedMeeting(t, model.ContentTypeText, true)
	h.artifacts.objects[meeting.StorageKey] = []byte("会议内容")

	h.worker.cfg.Worker.MaxBatch = 2
	for i := 0; i < 5; i++ {
		if !h.taskQueue.Enqueue(ctx, queue.NewTask(queue.TaskTypeProcessMeeting, map[string]string{
			"meeting_id": strconv.FormatUint(uint64(meeting.ID), 10),
		})) {
			t.Fatal("入队失败")
		}
	}

	h.worker.drain()
	if got := h.taskQueue.Length(ctx); got != 3 {
		t.Errorf("单次批量只应处理 2 个任务，队列剩余应为 3，实际 %d", got)
	}
}
