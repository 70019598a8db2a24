package queue

import (
	"context"
	"encoding/json"
	"time"

	"smartmeet/app/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TaskType 任务类型
const (
	TaskTypeProcessMeeting = "PROCESS_MEETING" // 处理一条会议记录
)

// Task 队列中的任务封装，入队后除 Retries/Error 外不可变
type Task struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Data      map[string]string `json:"data"`
	CreatedAt int64             `json:"createdAt"` // 毫秒时间戳
	Retries   int               `json:"retries"`
	Error     string            `json:"error,omitempty"`
}

// NewTask 创建一个新任务
func NewTask(taskType string, data map[string]string) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Type:      taskType,
		Data:      data,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// TaskQueue 基于 Redis 列表的持久化 FIFO 任务队列，附带死信队列。
// 多个工作进程共享同一个队列，出队依赖 LPOP 的原子性。
// 交付语义为至少一次：出队后处理崩溃的任务依靠卡住检测重新入队。
type TaskQueue struct {
	rdb    *redis.Client
	log    *logger.Logger
	prefix string
}

// NewTaskQueue 创建任务队列
func NewTaskQueue(rdb *redis.Client, prefix string, log *logger.Logger) *TaskQueue {
	return &TaskQueue{
		rdb:    rdb,
		log:    log,
		prefix: prefix,
	}
}

func (q *TaskQueue) mainKey() string {
	return q.prefix + ":queue:tasks"
}

func (q *TaskQueue) deadKey() string {
	return q.prefix + ":queue:dead"
}

// Enqueue 将任务追加到队列尾部。存储不可用时返回 false，不抛出错误，
// 调用方应视为"不保证已投递"。
func (q *TaskQueue) Enqueue(ctx context.Context, task *Task) bool {
	if task.CreatedAt == 0 {
		task.CreatedAt = time.Now().UnixMilli()
	}

	data, err := json.Marshal(task)
	if err != nil {
		q.log.Errorf("序列化任务失败: TaskID=%s, 错误: %v", task.ID, err)
		return false
	}

	if err := q.rdb.RPush(ctx, q.mainKey(), data).Err(); err != nil {
		q.log.Errorf("任务入队失败: TaskID=%s, 错误: %v", task.ID, err)
		return false
	}

	q.log.Infof("任务已入队: TaskID=%s, Type=%s", task.ID, task.Type)
	return true
}

// Dequeue 从队列头部弹出一个任务。队列为空或存储不可用都返回 nil，
// 对调用方而言两者等价：当前没有可处理的任务。
func (q *TaskQueue) Dequeue(ctx context.Context) *Task {
	data, err := q.rdb.LPop(ctx, q.mainKey()).Bytes()
	if err != nil {
		if err != redis.Nil {
			q.log.Errorf("任务出队失败: %v", err)
		}
		return nil
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		// 无法解析的队列元素直接丢弃，避免阻塞后续任务
		q.log.Errorf("解析队列任务失败，已丢弃: %v", err)
		return nil
	}

	return &task
}

// DeadLetter 将任务移入死信队列，重试次数加一并记录最后错误。
// 记录失败不阻塞调用方。
func (q *TaskQueue) DeadLetter(ctx context.Context, task *Task, errMsg string) bool {
	task.Retries++
	task.Error = errMsg

	data, err := json.Marshal(task)
	if err != nil {
		q.log.Errorf("序列化死信任务失败: TaskID=%s, 错误: %v", task.ID, err)
		return false
	}

	if err := q.rdb.RPush(ctx, q.deadKey(), data).Err(); err != nil {
		q.log.Errorf("写入死信队列失败: TaskID=%s, 错误: %v", task.ID, err)
		return false
	}

	q.log.Warnf("任务已进入死信队列: TaskID=%s, 重试次数: %d, 错误: %s", task.ID, task.Retries, errMsg)
	return true
}

// Length 主队列长度，仅用于观测
func (q *TaskQueue) Length(ctx context.Context) int64 {
	n, err := q.rdb.LLen(ctx, q.mainKey()).Result()
	if err != nil {
		q.log.Errorf("获取队列长度失败: %v", err)
		return 0
	}
	return n
}

// DeadLetterLength 死信队列长度，仅用于观测
func (q *TaskQueue) DeadLetterLength(ctx context.Context) int64 {
	n, err := q.rdb.LLen(ctx, q.deadKey()).Result()
	if err != nil {
		q.log.Errorf("获取死信队列长度失败: %v", err)
		return 0
	}
	return n
}

// TrimDeadLetter 把死信队列裁剪到最多 max 条，丢弃最旧的条目。
// 死信任务只等待人工处理，无限堆积只会淹没真正值得看的失败。
func (q *TaskQueue) TrimDeadLetter(ctx context.Context, max int64) {
	n, err := q.rdb.LLen(ctx, q.deadKey()).Result()
	if err != nil {
		q.log.Errorf("获取死信队列长度失败: %v", err)
		return
	}
	if n <= max {
		return
	}

	if err := q.rdb.LTrim(ctx, q.deadKey(), n-max, -1).Err(); err != nil {
		q.log.Errorf("裁剪死信队列失败: %v", err)
		return
	}
	q.log.Warnf("死信队列超出上限，已丢弃最旧的 %d 条任务", n-max)
}

// RequeueDead 将最多 n 条死信任务移回主队列，用于人工恢复
func (q *TaskQueue) RequeueDead(ctx context.Context, n int) int {
	moved := 0
	for i := 0; i < n; i++ {
		data, err := q.rdb.LPop(ctx, q.deadKey()).Bytes()
		if err != nil {
			if err != redis.Nil {
				q.log.Errorf("读取死信队列失败: %v", err)
			}
			break
		}
		if err := q.rdb.RPush(ctx, q.mainKey(), data).Err(); err != nil {
			q.log.Errorf("死信任务回迁失败: %v", err)
			// 放回死信队列头部，避免丢失
			q.rdb.LPush(ctx, q.deadKey(), data)
			break
		}
		moved++
	}

	if moved > 0 {
		q.log.Infof("已将 %d 条死信任务移回主队列", moved)
	}
	return moved
}
