package queue

import (
	"context"
	"fmt"
	"testing"

	"smartmeet/app/config"
	"smartmeet/app/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*TaskQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := logger.New(config.LogConfig{Level: "error", Output: "stdout"})
	return NewTaskQueue(rdb, "test", log), mr
}

func TestTaskQueueFIFO(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	// 依次入队三个任务
	var ids []string
	for i := 0; i < 3; i++ {
		task := NewTask(TaskTypeProcessMeeting, map[string]string{"meeting_id": fmt.Sprint(i)})
		ids = append(ids, task.ID)
		if !q.Enqueue(ctx, task) {
			t.Fatalf("第 %d 个任务入队失败", i)
		}
	}

	if n := q.Length(ctx); n != 3 {
		t.Errorf("队列长度应为 3，实际为 %d", n)
	}

	// 出队顺序必须与入队顺序一致
	for i := 0; i < 3; i++ {
		task := q.Dequeue(ctx)
		if task == nil {
			t.Fatalf("第 %d 次出队不应为空", i)
		}
		if task.ID != ids[i] {
			t.Errorf("出队顺序错误: 期望 %s，实际 %s", ids[i], task.ID)
		}
	}

	// 空队列出队返回 nil
	if task := q.Dequeue(ctx); task != nil {
		t.Errorf("空队列出队应返回 nil，实际返回 %+v", task)
	}
}

func TestTaskQueueDeadLetter(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	task := NewTask(TaskTypeProcessMeeting, map[string]string{"meeting_id": "42"})

	if !q.DeadLetter(ctx, task, "转写服务调用失败") {
		t.Fatal("写入死信队列失败")
	}
	if task.Retries != 1 {
		t.Errorf("重试次数应为 1，实际为 %d", task.Retries)
	}
	if task.Error != "转写服务调用失败" {
		t.Errorf("错误信息未正确记录: %s", task.Error)
	}

	// 重复进入死信队列时重试次数单调递增
	q.DeadLetter(ctx, task, "再次失败")
	if task.Retries != 2 {
		t.Errorf("重试次数应为 2，实际为 %d", task.Retries)
	}
	if n := q.DeadLetterLength(ctx); n != 2 {
		t.Errorf("死信队列长度应为 2，实际为 %d", n)
	}
}

func TestTaskQueueRequeueDead(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	task := NewTask(TaskTypeProcessMeeting, map[string]string{"meeting_id": "7"})
	q.DeadLetter(ctx, task, "失败")

	if moved := q.RequeueDead(ctx, 10); moved != 1 {
		t.Fatalf("应回迁 1 条死信任务，实际 %d", moved)
	}
	if n := q.DeadLetterLength(ctx); n != 0 {
		t.Errorf("死信队列应为空，实际长度 %d", n)
	}

	got := q.Dequeue(ctx)
	if got == nil || got.ID != task.ID {
		t.Errorf("回迁后应能从主队列取回任务")
	}
}

func TestTaskQueueTrimDeadLetter(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		q.DeadLetter(ctx, NewTask(TaskTypeProcessMeeting, map[string]string{"meeting_id": fmt.Sprint(i)}), "失败")
	}

	// 裁剪后只保留最新的 3 条
	q.TrimDeadLetter(ctx, 3)
	if n := q.DeadLetterLength(ctx); n != 3 {
		t.Fatalf("裁剪后死信队列长度应为 3，实际 %d", n)
	}

	// 未超上限时不做任何事
	q.TrimDeadLetter(ctx, 10)
	if n := q.DeadLetterLength(ctx); n != 3 {
		t.Errorf("未超上限时不应裁剪，实际长度 %d", n)
	}
}

func TestTaskQueueStoreUnavailable(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()
	mr.Close()

	// 存储不可用时入队返回 false，出队返回 nil，都不抛出错误
	if q.Enqueue(ctx, NewTask(TaskTypeProcessMeeting, nil)) {
		t.Error("存储不可用时入队应返回 false")
	}
	if task := q.Dequeue(ctx); task != nil {
		t.Error("存储不可用时出队应返回 nil")
	}
}
