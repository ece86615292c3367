// Package ai 接入通义千问（DashScope），为表分类提供后台精化
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultEndpoint = "https://dashscope.aliyuncs.com/api/v1/services/aigc/text-generation/generation"
	DefaultModel    = "qwen-plus"
)

var (
	ErrNoAPIKey      = errors.New("未配置 DashScope API Key")
	ErrAPI           = errors.New("API 调用失败")
	ErrEmptyResponse = errors.New("API 返回空响应")
)

// Client AI 客户端接口
type Client interface {
	// Chat 发送一轮对话，返回模型回复文本
	Chat(ctx context.Context, system, prompt string) (string, error)
}

// DashScope 阿里云通义千问客户端
type DashScope struct {
	apiKey     string
	endpoint   string
	model      string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// Option 客户端选项
type Option func(*DashScope)

// WithEndpoint 替换接口地址
func WithEndpoint(u string) Option {
	return func(c *DashScope) {
		if u != "" {
			c.endpoint = u
		}
	}
}

// WithModel 替换模型，可选 qwen-turbo、qwen-plus、qwen-max
func WithModel(m string) Option {
	return func(c *DashScope) {
		if m != "" {
			c.model = m
		}
	}
}

// WithHTTPClient 替换 HTTP 客户端
func WithHTTPClient(h *http.Client) Option {
	return func(c *DashScope) { c.httpClient = h }
}

// WithLogger 设置日志
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *DashScope) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewDashScope 创建客户端
func NewDashScope(apiKey string, opts ...Option) *DashScope {
	c := &DashScope{
		apiKey:     apiKey,
		endpoint:   DefaultEndpoint,
		model:      DefaultModel,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model string `json:"model"`
	Input struct {
		Messages []message `json:"messages"`
	} `json:"input"`
	Parameters struct {
		ResultFormat string `json:"result_format"`
	} `json:"parameters"`
}

type response struct {
	Output struct {
		Choices []struct {
			Message message `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Chat 调用 DashScope 文本生成接口
func (c *DashScope) Chat(ctx context.Context, system, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", ErrNoAPIKey
	}

	var reqBody request
	reqBody.Model = c.model
	if system != "" {
		reqBody.Input.Messages = append(reqBody.Input.Messages, message{Role: "system", Content: system})
	}
	reqBody.Input.Messages = append(reqBody.Input.Messages, message{Role: "user", Content: prompt})
	reqBody.Parameters.ResultFormat = "message"

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAPI, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	c.logger.Debugw("DashScope 调用完成", "model", c.model, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s, 响应: %s", ErrAPI, resp.Status, string(body))
	}

	var apiResp response
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("解析响应失败: %w", err)
	}
	if len(apiResp.Output.Choices) == 0 || apiResp.Output.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return apiResp.Output.Choices[0].Message.Content, nil
}
