package service

import (
	"context"
	"sync"
	"time"

	"smartmeet/app/config"
	"smartmeet/app/logger"
	"smartmeet/app/queue"
)

// WorkerService 队列消费者：被唤醒或定时轮询时批量取出任务交给编排器。
// 多个进程可以同时运行各自的 WorkerService，出队的原子性由队列保证。
type WorkerService struct {
	taskQueue *queue.TaskQueue
	processor *ProcessingService
	cfg       *config.Config
	log       *logger.Logger

	stopCh  chan struct{}
	wakeCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewWorkerService 创建队列消费者
func NewWorkerService(taskQueue *queue.TaskQueue, processor *ProcessingService, cfg *config.Config, log *logger.Logger) *WorkerService {
	return &WorkerService{
		taskQueue: taskQueue,
		processor: processor,
		cfg:       cfg,
		log:       log,
		stopCh:    make(chan struct{}),
		wakeCh:    make(chan struct{}, 1),
	}
}

// Start 启动消费循环
func (s *WorkerService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true

	s.wg.Add(1)
	go s.worker()

	s.log.Info("队列消费者已启动")
}

// Stop 停止消费循环，等待当前任务处理完
func (s *WorkerService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	s.wg.Wait()

	s.log.Info("队列消费者已停止")
}

// Wake 唤醒消费循环，重复唤醒会被合并
func (s *WorkerService) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// worker 消费循环：唤醒信号或空闲轮询触发一次批量处理
func (s *WorkerService) worker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Worker.IdleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-s.wakeCh:
			s.drain()
		case <-ticker.C:
			s.drain()
		}
	}
}

// drain 批量取任务处理，单次最多 max_batch 个
func (s *WorkerService) drain() {
	ctx := context.Background()

	for i := 0; i < s.cfg.Worker.MaxBatch; i++ {
		select {
		case <-s.stopCh:
			return
		default:
		}

		task := s.taskQueue.Dequeue(ctx)
		if task == nil {
			return
		}
		s.handle(ctx, task)
	}
}

// handle 处理单个任务并决定失败后的去向：
// 未到重试上限则带着错误信息重新入队，否则进入死信队列
func (s *WorkerService) handle(ctx context.Context, task *queue.Task) {
	if task.Type != queue.TaskTypeProcessMeeting {
		s.log.Warnf("未知的任务类型，已丢弃: TaskID=%s, Type=%s", task.ID, task.Type)
		return
	}

	start := time.Now()
	err := s.processor.ProcessMeeting(ctx, task)
	elapsed := time.Since(start)

	if err == nil {
		s.log.Infof("任务处理结束: TaskID=%s, 耗时: %v", task.ID, elapsed)
		return
	}

	s.log.Warnf("任务处理失败: TaskID=%s, 重试次数: %d, 耗时: %v, 错误: %v",
		task.ID, task.Retries, elapsed, err)

	if task.Retries+1 >= s.cfg.Worker.MaxRetries {
		s.taskQueue.DeadLetter(ctx, task, err.Error())
		return
	}

	task.Retries++
	task.Error = err.Error()
	if !s.taskQueue.Enqueue(ctx, task) {
		// 入队失败时转入死信队列，尽量不丢任务
		s.taskQueue.DeadLetter(ctx, task, err.Error())
	}
}
