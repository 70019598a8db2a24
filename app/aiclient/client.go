package aiclient

import (
	"context"
	"encoding/base64"
	"fmt"

	"smartmeet/app/config"
	"smartmeet/app/logger"

	"resty.dev/v3"
)

// TranscribeResult 转写调用的结果
type TranscribeResult struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// SummarizeOptions 摘要调用的选项，来自用户偏好配置
type SummarizeOptions struct {
	Provider string `json:"provider"`
	Length   string `json:"length,omitempty"`   // short, medium, long
	Persona  string `json:"persona,omitempty"`  // 摘要口吻
	Language string `json:"language,omitempty"` // BCP47 语言标签
}

// SummarizeResult 摘要调用的结果
type SummarizeResult struct {
	Summary string `json:"summary"`
	Doc     string `json:"doc,omitempty"` // 生成的会议纪要文档(Markdown)
}

// Client AI 服务商网关客户端。所有调用返回 (结果, 错误) 包络，
// 不会把异常抛过客户端边界。
type Client struct {
	http *resty.Client
	cfg  config.AIConfig
	log  *logger.Logger
}

// NewClient 创建 AI 网关客户端
func NewClient(cfg config.AIConfig, log *logger.Logger) *Client {
	client := resty.New()
	client.SetTimeout(cfg.Timeout)

	return &Client{
		http: client,
		cfg:  cfg,
		log:  log,
	}
}

// transcribeRequest 转写网关的请求体
type transcribeRequest struct {
	Provider    string `json:"provider"`
	ContentType string `json:"content_type"`
	Language    string `json:"language,omitempty"`
	Artifact    string `json:"artifact"` // base64 编码的源文件
}

// Transcribe 调用转写服务商，把音视频或文档转成文本
func (c *Client) Transcribe(ctx context.Context, provider, apiKey string, artifact []byte, contentType, language string) (*TranscribeResult, error) {
	var result TranscribeResult

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(apiKey).
		SetBody(transcribeRequest{
			Provider:    provider,
			ContentType: contentType,
			Language:    language,
			Artifact:    base64.StdEncoding.EncodeToString(artifact),
		}).
		SetResult(&result).
		Post(c.cfg.TranscribeBaseURL + "/v1/transcribe")

	if err != nil {
		return nil, fmt.Errorf("请求转写服务失败: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("转写服务返回错误，状态码: %d, 响应: %s", resp.StatusCode(), resp.String())
	}

	return &result, nil
}

// summarizeRequest 摘要网关的请求体
type summarizeRequest struct {
	Provider string `json:"provider"`
	Text     string `json:"text"`
	Length   string `json:"length,omitempty"`
	Persona  string `json:"persona,omitempty"`
	Language string `json:"language,omitempty"`
}

// Summarize 调用摘要服务商，对转写文本生成摘要与会议纪要
func (c *Client) Summarize(ctx context.Context, apiKey, text string, opts SummarizeOptions) (*SummarizeResult, error) {
	var result SummarizeResult

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(apiKey).
		SetBody(summarizeRequest{
			Provider: opts.Provider,
			Text:     text,
			Length:   opts.Length,
			Persona:  opts.Persona,
			Language: opts.Language,
		}).
		SetResult(&result).
		Post(c.cfg.SummarizeBaseURL + "/v1/summarize")

	if err != nil {
		return nil, fmt.Errorf("请求摘要服务失败: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("摘要服务返回错误，状态码: %d, 响应: %s", resp.StatusCode(), resp.String())
	}

	return &result, nil
}
