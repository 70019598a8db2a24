package model

import (
	"time"
)

// MeetingStatus 会议记录处理状态
type MeetingStatus string

const (
	MeetingStatusPending    MeetingStatus = "pending"    // 等待处理
	MeetingStatusProcessing MeetingStatus = "processing" // 处理中
	MeetingStatusCompleted  MeetingStatus = "completed"  // 已完成
	MeetingStatusFailed     MeetingStatus = "failed"     // 失败
)

// ProcessingStep 处理流水线所处的阶段
type ProcessingStep string

const (
	StepIdle          ProcessingStep = "idle"          // 尚未开始
	StepTranscription ProcessingStep = "transcription" // 转写阶段
	StepSummarization ProcessingStep = "summarization" // 摘要阶段
	StepCompleted     ProcessingStep = "completed"     // 全部完成
	StepFailed        ProcessingStep = "failed"        // 处理失败
)

// ContentType 上传内容的类型
const (
	ContentTypeAudio    = "audio"    // 音频录音
	ContentTypeVideo    = "video"    // 视频录制
	ContentTypeDocument = "document" // 文档(PDF等)
	ContentTypeText     = "text"     // 纯文本
)

// Meeting 会议记录模型，status 与 processing_step 在处理期间只由编排器写入
type Meeting struct {
	ID             uint           `gorm:"primarykey" json:"id"`
	UserID         uint           `gorm:"not null;index;comment:所属用户ID" json:"user_id"`
	Title          string         `gorm:"size:200;comment:会议标题" json:"title"`
	StorageKey     string         `gorm:"size:500;not null;comment:对象存储中的文件键" json:"storage_key"`
	ContentType    string         `gorm:"size:20;not null;default:audio;comment:内容类型" json:"content_type"`
	Status         MeetingStatus  `gorm:"size:20;default:pending;index;comment:处理状态" json:"status"`
	ProcessingStep ProcessingStep `gorm:"size:20;default:idle;comment:处理阶段" json:"processing_step"`
	Priority       int            `gorm:"default:0;comment:处理优先级(由规则引擎赋值)" json:"priority"`
	Tags           string         `gorm:"size:500;comment:标签(逗号分隔,由规则引擎赋值)" json:"tags"`
	Summary        string         `gorm:"type:text;comment:AI生成的摘要" json:"summary"`
	DocMarkdown    string         `gorm:"type:text;comment:AI生成的会议纪要文档" json:"doc_markdown"`
	ErrorMsg       string         `gorm:"type:text;comment:最后一次错误信息" json:"error_msg"`
	TranscribeMs   int64          `gorm:"default:0;comment:转写耗时(毫秒)" json:"transcribe_ms"`
	SummarizeMs    int64          `gorm:"default:0;comment:摘要耗时(毫秒)" json:"summarize_ms"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	// 关联关系
	Transcripts []Transcript `gorm:"foreignKey:MeetingID" json:"transcripts,omitempty"`
}

// TableName 指定表名
func (Meeting) TableName() string {
	return "meetings"
}

// IsTerminal 判断是否处于终态
func (m *Meeting) IsTerminal() bool {
	return m.Status == MeetingStatusCompleted || m.Status == MeetingStatusFailed
}

// CanRetry 判断是否可以手动重试：已失败，或卡在处理中超过阈值
func (m *Meeting) CanRetry(stuckThreshold time.Duration) bool {
	if m.Status == MeetingStatusFailed {
		return true
	}
	if m.Status == MeetingStatusProcessing && time.Since(m.UpdatedAt) > stuckThreshold {
		return true
	}
	return false
}

// ResetForRetry 重置状态以便重新入队
func (m *Meeting) ResetForRetry() {
	m.Status = MeetingStatusPending
	m.ProcessingStep = StepIdle
	m.ErrorMsg = ""
}

// Transcript 转写结果，采用先删后建的替换方式写入
type Transcript struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	MeetingID uint      `gorm:"not null;index;comment:所属会议ID" json:"meeting_id"`
	Text      string    `gorm:"type:text;not null;comment:转写文本" json:"text"`
	Language  string    `gorm:"size:20;comment:语言标签(BCP47)" json:"language"`
	Source    string    `gorm:"size:20;comment:来源(provider名称或text-decode)" json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 指定表名
func (Transcript) TableName() string {
	return "transcripts"
}
