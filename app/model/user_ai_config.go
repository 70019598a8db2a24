package model

import (
	"time"
)

// 订阅计划常量
const (
	PlanFree = "free" // 免费版
	PlanPro  = "pro"  // 专业版
	PlanTeam = "team" // 团队版
)

// UserAIConfig 用户的 AI 处理偏好与凭证配置
type UserAIConfig struct {
	ID                 uint      `gorm:"primarykey" json:"id"`
	UserID             uint      `gorm:"not null;uniqueIndex;comment:所属用户ID" json:"user_id"`
	Plan               string    `gorm:"size:20;default:free;comment:订阅计划" json:"plan"`
	TranscribeProvider string    `gorm:"size:30;default:openai;comment:转写服务商" json:"transcribe_provider"`
	SummarizeProvider  string    `gorm:"size:30;default:openai;comment:摘要服务商" json:"summarize_provider"`
	APIKeyEncrypted    string    `gorm:"type:text;comment:加密后的服务商API密钥" json:"-"`
	Language           string    `gorm:"size:20;default:zh-CN;comment:偏好语言" json:"language"`
	SummaryLength      string    `gorm:"size:20;default:medium;comment:摘要长度(short,medium,long)" json:"summary_length"`
	Persona            string    `gorm:"size:50;comment:摘要口吻(如 executive, engineer)" json:"persona"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TableName 指定表名
func (UserAIConfig) TableName() string {
	return "user_ai_configs"
}

// HasCredential 是否配置了服务商凭证
func (c *UserAIConfig) HasCredential() bool {
	return c.APIKeyEncrypted != ""
}
