package server

import (
	"context"
	"net/http"
	"os"

	"smartmeet/app/aiclient"
	"smartmeet/app/breaker"
	"smartmeet/app/config"
	"smartmeet/app/database"
	"smartmeet/app/filewatcher"
	"smartmeet/app/handler"
	"smartmeet/app/limiter"
	"smartmeet/app/logger"
	"smartmeet/app/middleware"
	"smartmeet/app/queue"
	"smartmeet/app/rules"
	"smartmeet/app/service"
	"smartmeet/app/storage"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Server 表示 HTTP 服务器及其背后的处理流水线
type Server struct {
	Config *config.Config
	Logger *logger.Logger
	gin    *gin.Engine
	http   *http.Server

	rdb          *redis.Client
	taskQueue    *queue.TaskQueue
	breakers     *breaker.Registry
	rateLimiter  *limiter.RateLimiter
	workerSvc    *service.WorkerService
	retrySvc     *service.RetryService
	ingestSvc    *service.IngestService
	viewCache    *service.ViewCache
	inboxWatcher *filewatcher.InboxWatcher
}

// New 创建一个新的 Server 实例并装配整条处理流水线
func New(cfg *config.Config, log *logger.Logger) (*Server, error) {
	router := gin.Default()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	taskQueue := queue.NewTaskQueue(rdb, cfg.Redis.Prefix, log)
	breakers := breaker.NewRegistry(rdb, cfg.Redis.Prefix, cfg.Breaker, log)
	rateLimiter := limiter.NewRateLimiter(rdb, cfg.Redis.Prefix, cfg.RateLimit, log)

	aiClient := aiclient.NewClient(cfg.AI, log)
	artifacts := storage.NewObjectStorage(cfg.Storage, log)
	notifier := service.NewNotifyService(cfg.Notify, log)
	trigger := service.NewTriggerService(cfg.Server, log)
	viewCache := service.NewViewCache()

	processor := service.NewProcessingService(
		database.DB, rdb, cfg, log,
		breakers, rateLimiter,
		aiClient, aiClient, artifacts, notifier, viewCache,
	)
	workerSvc := service.NewWorkerService(taskQueue, processor, cfg, log)
	retrySvc := service.NewRetryService(database.DB, taskQueue, trigger, cfg, log)

	// 治理规则在启动时加载，规则文件缺失按空规则集运行
	ruleList, err := rules.LoadFromFile(cfg.Rules.Path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warnf("治理规则文件不存在，按空规则集运行: %s", cfg.Rules.Path)
		} else {
			return nil, err
		}
	}
	engine := rules.NewEngine(log)
	ingestSvc := service.NewIngestService(database.DB, taskQueue, engine, ruleList, trigger, cfg, log)

	inboxWatcher, err := filewatcher.NewInboxWatcher(database.DB, ingestSvc, cfg.Watcher, log)
	if err != nil {
		return nil, err
	}

	s := &Server{
		gin: router,
		http: &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: router,
		},
		Config:       cfg,
		Logger:       log,
		rdb:          rdb,
		taskQueue:    taskQueue,
		breakers:     breakers,
		rateLimiter:  rateLimiter,
		workerSvc:    workerSvc,
		retrySvc:     retrySvc,
		ingestSvc:    ingestSvc,
		viewCache:    viewCache,
		inboxWatcher: inboxWatcher,
	}

	// 设置路由
	s.setupRoutes()

	return s, nil
}

// Start 启动服务器与后台服务
func (s *Server) Start() error {
	s.Logger.Infof("在端口 %s 启动服务器", s.http.Addr)

	// 启动队列消费与定时兜底服务
	s.workerSvc.Start()
	if err := s.retrySvc.Start(); err != nil {
		return err
	}

	if err := s.inboxWatcher.Start(); err != nil {
		return err
	}

	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// 先停收件监控，不再产生新任务
	if err := s.inboxWatcher.Stop(); err != nil {
		s.Logger.Errorf("停止收件目录监控失败: %v", err)
	}

	// 停止队列消费与定时兜底服务
	s.workerSvc.Stop()
	s.retrySvc.Stop()

	// 关闭 Redis 连接
	if err := s.rdb.Close(); err != nil {
		s.Logger.Errorf("关闭 Redis 连接失败: %v", err)
	}

	// 关闭数据库连接
	if err := database.Close(); err != nil {
		s.Logger.Errorf("关闭数据库连接失败: %v", err)
	}
	return s.http.Shutdown(ctx)
}

// setupRoutes 设置API路由
func (s *Server) setupRoutes() {
	// 创建处理器实例
	meetingHandler := handler.NewMeetingHandler(s.Logger, s.ingestSvc, s.retrySvc, s.viewCache)
	workerHandler := handler.NewWorkerHandler(s.Logger, s.workerSvc)
	queueStatsHandler := handler.NewQueueStatsHandler(s.Logger, s.taskQueue, s.breakers)

	// API路由组，统一挂 API 限流
	api := s.gin.Group("/api")
	api.Use(middleware.RateLimit(s.rateLimiter, limiter.LimiterTypeAPI))
	{
		// 会议记录处理相关路由
		meetings := api.Group("/meetings")
		{
			meetings.POST("/:id/process", meetingHandler.ProcessMeeting)
			meetings.POST("/:id/retry", meetingHandler.RetryMeeting)
			meetings.GET("/:id/status", meetingHandler.GetStatus)
			meetings.GET("/", meetingHandler.ListMeetings)
		}

		// 队列观测与人工恢复
		queueGroup := api.Group("/queue")
		{
			queueGroup.GET("/stats", queueStatsHandler.GetStats)
			queueGroup.POST("/requeue-dead", queueStatsHandler.RequeueDead)
		}

		// 工作进程内部接口，共享密钥认证
		internal := api.Group("/internal")
		internal.Use(middleware.WorkerAuth(s.Config))
		{
			internal.POST("/worker/trigger", workerHandler.Trigger)
		}
	}
}
