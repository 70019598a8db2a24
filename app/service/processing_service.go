package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"smartmeet/app/aiclient"
	"smartmeet/app/breaker"
	"smartmeet/app/config"
	"smartmeet/app/limiter"
	"smartmeet/app/logger"
	"smartmeet/app/model"
	"smartmeet/app/queue"
	"smartmeet/app/utils/crypto"
	"smartmeet/app/utils/langhelper"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// TranscriptionProvider 转写调用接口
type TranscriptionProvider interface {
	Transcribe(ctx context.Context, provider, apiKey string, artifact []byte, contentType, language string) (*aiclient.TranscribeResult, error)
}

// SummarizationProvider 摘要调用接口
type SummarizationProvider interface {
	Summarize(ctx context.Context, apiKey, text string, opts aiclient.SummarizeOptions) (*aiclient.SummarizeResult, error)
}

// ArtifactStore 源文件下载接口
type ArtifactStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

// NotificationSink 通知推送接口
type NotificationSink interface {
	Notify(userID uint, n Notification)
}

// ErrNoContent 转写结果为空，属于内容问题而不是服务商故障，需要用户重新上传
var ErrNoContent = errors.New("未检测到有效内容")

// ProcessingService 单条会议记录的处理编排器：
// IDLE → TRANSCRIPTION → SUMMARIZATION → COMPLETED，任何非终态都可能进入 FAILED。
// 每一步完成后立即持久化进度，崩溃后的重试可以从已持久化的阶段继续。
type ProcessingService struct {
	db          *gorm.DB
	rdb         *redis.Client
	cfg         *config.Config
	log         *logger.Logger
	breakers    *breaker.Registry
	rateLimiter *limiter.RateLimiter
	transcriber TranscriptionProvider
	summarizer  SummarizationProvider
	artifacts   ArtifactStore
	notifier    NotificationSink
	viewCache   *ViewCache

	mu       sync.Mutex
	limiters map[string]*limiter.ConcurrencyLimiter
}

// NewProcessingService 创建处理编排器，全部依赖显式注入
func NewProcessingService(
	db *gorm.DB,
	rdb *redis.Client,
	cfg *config.Config,
	log *logger.Logger,
	breakers *breaker.Registry,
	rateLimiter *limiter.RateLimiter,
	transcriber TranscriptionProvider,
	summarizer SummarizationProvider,
	artifacts ArtifactStore,
	notifier NotificationSink,
	viewCache *ViewCache,
) *ProcessingService {
	return &ProcessingService{
		db:          db,
		rdb:         rdb,
		cfg:         cfg,
		log:         log,
		breakers:    breakers,
		rateLimiter: rateLimiter,
		transcriber: transcriber,
		summarizer:  summarizer,
		artifacts:   artifacts,
		notifier:    notifier,
		viewCache:   viewCache,
		limiters:    make(map[string]*limiter.ConcurrencyLimiter),
	}
}

// limiterFor 获取某个服务商资源的并发限制器，按资源名复用
func (s *ProcessingService) limiterFor(provider string) *limiter.ConcurrencyLimiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	resource := "provider:" + provider
	if l, ok := s.limiters[resource]; ok {
		return l
	}
	l := limiter.NewConcurrencyLimiter(s.rdb, s.cfg.Redis.Prefix, resource, s.cfg.Concurrency, s.log)
	s.limiters[resource] = l
	return l
}

// ProcessMeeting 处理一个队列任务指向的会议记录。
// 返回非 nil 错误表示瞬时失败，调用方可以重新入队；
// 返回 nil 表示处理结束(成功或已按终态落库)，任务可以丢弃。
func (s *ProcessingService) ProcessMeeting(ctx context.Context, task *queue.Task) (err error) {
	// 最外层兜底：即使失败恢复本身出错也只记日志，绝不让 panic 逃出编排器
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("处理任务时发生未预期错误: TaskID=%s, panic: %v", task.ID, r)
			err = fmt.Errorf("处理过程发生未预期错误: %v", r)
		}
	}()

	meetingID, convErr := strconv.ParseUint(task.Data["meeting_id"], 10, 64)
	if convErr != nil {
		s.log.Errorf("任务数据缺少有效的 meeting_id: TaskID=%s", task.ID)
		return nil // 数据损坏的任务没有重试价值
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Worker.CallTimeout)
	defer cancel()

	// 1. 加载会议记录与所属用户的 AI 配置
	var meeting model.Meeting
	if dbErr := s.db.First(&meeting, uint(meetingID)).Error; dbErr != nil {
		s.log.Errorf("加载会议记录失败: MeetingID=%d, 错误: %v", meetingID, dbErr)
		return fmt.Errorf("加载会议记录失败: %w", dbErr)
	}

	if meeting.Status == model.MeetingStatusCompleted {
		s.log.Infof("会议记录已处理完成，跳过: MeetingID=%d", meeting.ID)
		return nil
	}

	var aiCfg model.UserAIConfig
	if dbErr := s.db.Where("user_id = ?", meeting.UserID).First(&aiCfg).Error; dbErr != nil {
		// 配置缺失属于配置类错误，不自动重试
		s.failMeeting(&meeting, "未找到 AI 处理配置，请先在设置中完成配置")
		return nil
	}

	apiKey, cfgErr := s.decryptCredential(&aiCfg)
	if cfgErr != nil {
		s.failMeeting(&meeting, "AI 服务商凭证无效: "+cfgErr.Error())
		return nil
	}

	language := langhelper.Normalize(aiCfg.Language)

	// 恢复场景：转写已持久化则直接从摘要阶段继续，不重复转写
	if meeting.ProcessingStep == model.StepSummarization {
		var transcript model.Transcript
		if dbErr := s.db.Where("meeting_id = ?", meeting.ID).First(&transcript).Error; dbErr == nil {
			s.log.Infof("检测到已持久化的转写结果，从摘要阶段继续: MeetingID=%d", meeting.ID)
			return s.summarizeAndComplete(ctx, &meeting, &aiCfg, apiKey, transcript.Text, language)
		}
	}

	// 2. 进入转写阶段并立即持久化，崩溃时可以观测到"卡在转写"
	if dbErr := s.persistStep(&meeting, model.MeetingStatusProcessing, model.StepTranscription); dbErr != nil {
		return fmt.Errorf("持久化转写阶段失败: %w", dbErr)
	}

	// 3. 下载源文件
	artifact, dlErr := s.artifacts.Download(ctx, meeting.StorageKey)
	if dlErr != nil {
		return s.handleFailure(ctx, &meeting, aiCfg.TranscribeProvider,
			fmt.Errorf("下载源文件失败: %w", dlErr))
	}

	// 4. 按内容类型获取文本：纯文本直接解码，其余走转写服务商
	start := time.Now()
	text, source, trErr := s.obtainTranscript(ctx, &meeting, &aiCfg, apiKey, artifact, language)
	meeting.TranscribeMs = time.Since(start).Milliseconds()
	if trErr != nil {
		return s.handleFailure(ctx, &meeting, aiCfg.TranscribeProvider, trErr)
	}
	if strings.TrimSpace(text) == "" {
		// 空转写不是服务商故障，需要用户提供新的输入
		s.failMeeting(&meeting, ErrNoContent.Error())
		return nil
	}

	// 5. 转写结果立即落库(先删后建)，保证后续失败时部分进度不丢失
	if dbErr := s.replaceTranscript(meeting.ID, text, language, source); dbErr != nil {
		return s.handleFailure(ctx, &meeting, aiCfg.TranscribeProvider,
			fmt.Errorf("持久化转写结果失败: %w", dbErr))
	}

	return s.summarizeAndComplete(ctx, &meeting, &aiCfg, apiKey, text, language)
}

// decryptCredential 解密用户的服务商 API 密钥。
// 密钥前缀与配置的服务商明显不符时只告警不拦截，判断交给服务商网关。
func (s *ProcessingService) decryptCredential(aiCfg *model.UserAIConfig) (string, error) {
	if !aiCfg.HasCredential() {
		return "", errors.New("未配置服务商密钥")
	}
	masterKey, err := crypto.ParseKey(s.cfg.AI.CredentialKey)
	if err != nil {
		return "", err
	}
	apiKey, err := crypto.Decrypt(aiCfg.APIKeyEncrypted, masterKey)
	if err != nil {
		return "", err
	}

	kind := aiclient.ClassifyKey(apiKey)
	if kind != aiclient.ProviderUnknown &&
		string(kind) != aiCfg.TranscribeProvider && string(kind) != aiCfg.SummarizeProvider {
		s.log.Warnf("用户密钥与配置的服务商不符: 用户=%d, 密钥归属=%s, 配置=%s/%s",
			aiCfg.UserID, kind, aiCfg.TranscribeProvider, aiCfg.SummarizeProvider)
	}
	return apiKey, nil
}

// obtainTranscript 获取转写文本。返回文本、来源标识与错误。
func (s *ProcessingService) obtainTranscript(ctx context.Context, meeting *model.Meeting, aiCfg *model.UserAIConfig, apiKey string, artifact []byte, language string) (string, string, error) {
	if meeting.ContentType == model.ContentTypeText {
		return decodeTextArtifact(artifact), "text-decode", nil
	}

	provider := aiCfg.TranscribeProvider

	// 用户级调用频率限制
	rl := s.rateLimiter.Check(ctx, limiter.LimiterTypeGeneral, fmt.Sprintf("user:%d", meeting.UserID))
	if !rl.Allowed {
		return "", "", fmt.Errorf("已达处理频率上限，%d 秒后重试", rl.RetryAfterSec)
	}

	var result *aiclient.TranscribeResult
	requestID := uuid.NewString()
	err := s.limiterFor(provider).Run(ctx, requestID, func() error {
		return s.breakers.Get(provider).Execute(ctx, func() error {
			var callErr error
			result, callErr = s.transcriber.Transcribe(ctx, provider, apiKey, artifact, meeting.ContentType, language)
			return callErr
		})
	})
	if err != nil {
		return "", "", err
	}

	return result.Text, provider, nil
}

// summarizeAndComplete 摘要阶段与收尾：成功后一次性落库全部结果
func (s *ProcessingService) summarizeAndComplete(ctx context.Context, meeting *model.Meeting, aiCfg *model.UserAIConfig, apiKey, text, language string) error {
	// 6. 进入摘要阶段
	if dbErr := s.persistStep(meeting, model.MeetingStatusProcessing, model.StepSummarization); dbErr != nil {
		return fmt.Errorf("持久化摘要阶段失败: %w", dbErr)
	}

	provider := aiCfg.SummarizeProvider
	opts := aiclient.SummarizeOptions{
		Provider: provider,
		Length:   aiCfg.SummaryLength,
		Persona:  aiCfg.Persona,
		Language: language,
	}

	var result *aiclient.SummarizeResult
	start := time.Now()
	requestID := uuid.NewString()
	err := s.limiterFor(provider).Run(ctx, requestID, func() error {
		return s.breakers.Get(provider).Execute(ctx, func() error {
			var callErr error
			result, callErr = s.summarizer.Summarize(ctx, apiKey, text, opts)
			return callErr
		})
	})
	meeting.SummarizeMs = time.Since(start).Milliseconds()
	if err != nil {
		return s.handleFailure(ctx, meeting, provider, err)
	}

	// 7. 一次更新写入终态与全部产物
	updates := map[string]interface{}{
		"status":          model.MeetingStatusCompleted,
		"processing_step": model.StepCompleted,
		"summary":         result.Summary,
		"doc_markdown":    result.Doc,
		"error_msg":       "",
		"transcribe_ms":   meeting.TranscribeMs,
		"summarize_ms":    meeting.SummarizeMs,
	}
	if dbErr := s.db.Model(meeting).Updates(updates).Error; dbErr != nil {
		return s.handleFailure(ctx, meeting, provider, fmt.Errorf("持久化处理结果失败: %w", dbErr))
	}

	s.log.Infof("会议记录处理完成: MeetingID=%d, 转写耗时=%dms, 摘要耗时=%dms",
		meeting.ID, meeting.TranscribeMs, meeting.SummarizeMs)

	s.notifier.Notify(meeting.UserID, Notification{
		Title:   "会议纪要已生成",
		Message: fmt.Sprintf("「%s」的转写与摘要已完成", meeting.Title),
		Kind:    NotifyKindSuccess,
		Link:    fmt.Sprintf("/meetings/%d", meeting.ID),
	})
	s.viewCache.InvalidateUser(meeting.UserID)

	return nil
}

// handleFailure 统一失败处理：从数据库回读失败时所处的阶段(失败可能是异步的，
// 内存中的变量不可信)，熔断打开时换成更平和的提示语，落库终态并通知用户。
// 返回值决定任务是否值得重新入队。
func (s *ProcessingService) handleFailure(ctx context.Context, meeting *model.Meeting, provider string, cause error) error {
	var persisted model.Meeting
	step := meeting.ProcessingStep
	if dbErr := s.db.First(&persisted, meeting.ID).Error; dbErr == nil {
		step = persisted.ProcessingStep
	}

	msg := fmt.Sprintf("在%s阶段处理失败: %v", stepLabel(step), cause)
	if errors.Is(cause, breaker.ErrBreakerOpen) || s.breakers.Get(provider).GetState(ctx) == breaker.StateOpen {
		msg = fmt.Sprintf("AI 服务商(%s)暂时不可用，请稍后重试", provider)
	}
	if errors.Is(cause, limiter.ErrLimitExceeded) {
		msg = "处理资源繁忙，任务将稍后自动重试"
	}

	s.log.Warnf("会议记录处理失败: MeetingID=%d, 阶段=%s, 错误: %v", meeting.ID, step, cause)

	updates := map[string]interface{}{
		"status":          model.MeetingStatusFailed,
		"processing_step": model.StepFailed,
		"error_msg":       msg,
	}
	if dbErr := s.db.Model(&model.Meeting{}).Where("id = ?", meeting.ID).Updates(updates).Error; dbErr != nil {
		// 连失败状态都写不进去时只记日志，由卡住检测兜底
		s.log.Errorf("持久化失败状态失败: MeetingID=%d, 错误: %v", meeting.ID, dbErr)
	}

	s.notifier.Notify(meeting.UserID, Notification{
		Title:   "会议处理失败",
		Message: msg,
		Kind:    NotifyKindFailure,
		Link:    fmt.Sprintf("/meetings/%d", meeting.ID),
	})
	s.viewCache.InvalidateUser(meeting.UserID)

	return cause
}

// failMeeting 直接落库终态失败，用于不需要重试的配置类与内容类错误
func (s *ProcessingService) failMeeting(meeting *model.Meeting, msg string) {
	s.log.Warnf("会议记录处理终止: MeetingID=%d, 原因: %s", meeting.ID, msg)

	updates := map[string]interface{}{
		"status":          model.MeetingStatusFailed,
		"processing_step": model.StepFailed,
		"error_msg":       msg,
	}
	if dbErr := s.db.Model(&model.Meeting{}).Where("id = ?", meeting.ID).Updates(updates).Error; dbErr != nil {
		s.log.Errorf("持久化失败状态失败: MeetingID=%d, 错误: %v", meeting.ID, dbErr)
	}

	s.notifier.Notify(meeting.UserID, Notification{
		Title:   "会议处理失败",
		Message: msg,
		Kind:    NotifyKindFailure,
		Link:    fmt.Sprintf("/meetings/%d", meeting.ID),
	})
	s.viewCache.InvalidateUser(meeting.UserID)
}

// persistStep 更新状态与阶段并同步内存中的副本
func (s *ProcessingService) persistStep(meeting *model.Meeting, status model.MeetingStatus, step model.ProcessingStep) error {
	err := s.db.Model(&model.Meeting{}).Where("id = ?", meeting.ID).Updates(map[string]interface{}{
		"status":          status,
		"processing_step": step,
	}).Error
	if err != nil {
		return err
	}
	meeting.Status = status
	meeting.ProcessingStep = step
	return nil
}

// replaceTranscript 先删后建地替换会议的转写记录
func (s *ProcessingService) replaceTranscript(meetingID uint, text, language, source string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("meeting_id = ?", meetingID).Delete(&model.Transcript{}).Error; err != nil {
			return err
		}
		return tx.Create(&model.Transcript{
			MeetingID: meetingID,
			Text:      text,
			Language:  language,
			Source:    source,
		}).Error
	})
}

// decodeTextArtifact 解码纯文本源文件。UTF-8 校验失败时退化为逐字节清洗，
// 保证畸形文件也能得到可用文本而不是直接失败。
func decodeTextArtifact(artifact []byte) string {
	if utf8.Valid(artifact) {
		return string(artifact)
	}

	cleaned := make([]rune, 0, len(artifact))
	for len(artifact) > 0 {
		r, size := utf8.DecodeRune(artifact)
		if r != utf8.RuneError || size != 1 {
			cleaned = append(cleaned, r)
		}
		artifact = artifact[size:]
	}
	return string(cleaned)
}

// stepLabel 阶段的用户可读名称
func stepLabel(step model.ProcessingStep) string {
	switch step {
	case model.StepTranscription:
		return "转写"
	case model.StepSummarization:
		return "摘要"
	case model.StepCompleted:
		return "收尾"
	default:
		return "准备"
	}
}
