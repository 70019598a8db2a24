package aiclient

import (
	"strings"
)

// ProviderKind AI 服务商类别
type ProviderKind string

const (
	ProviderOpenAI     ProviderKind = "openai"
	ProviderAnthropic  ProviderKind = "anthropic"
	ProviderDeepgram   ProviderKind = "deepgram"
	ProviderAssemblyAI ProviderKind = "assemblyai"
	ProviderUnknown    ProviderKind = "unknown"
)

// ClassifyKey 根据 API 密钥前缀判断所属服务商。
// 纯函数，无法识别时返回 ProviderUnknown 而不是空值。
func ClassifyKey(apiKey string) ProviderKind {
	switch {
	case strings.HasPrefix(apiKey, "sk-ant-"):
		return ProviderAnthropic
	case strings.HasPrefix(apiKey, "sk-"):
		return ProviderOpenAI
	case strings.HasPrefix(apiKey, "dg_") || strings.HasPrefix(apiKey, "dg-"):
		return ProviderDeepgram
	case strings.HasPrefix(apiKey, "aai_"):
		return ProviderAssemblyAI
	default:
		return ProviderUnknown
	}
}

// IsTranscribeProvider 是否支持语音转写
func (p ProviderKind) IsTranscribeProvider() bool {
	switch p {
	case ProviderOpenAI, ProviderDeepgram, ProviderAssemblyAI:
		return true
	}
	return false
}

// IsSummarizeProvider 是否支持文本摘要
func (p ProviderKind) IsSummarizeProvider() bool {
	switch p {
	case ProviderOpenAI, ProviderAnthropic:
		return true
	}
	return false
}
