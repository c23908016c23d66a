package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/pai-platform/pai/pkg/models"
)

// AnthropicClient implements Client against the Anthropic Messages API with
// bounded exponential-backoff retries for transient failures.
type AnthropicClient struct {
	client     anthropic.Client
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// AnthropicConfig configures the Anthropic client.
type AnthropicConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL overrides the default API endpoint.
	BaseURL string

	// MaxRetries bounds retry attempts for transient failures. Default 3.
	MaxRetries int

	// RetryDelay is the base backoff delay. Default 1s.
	RetryDelay time.Duration

	Logger *slog.Logger
}

// NewAnthropicClient builds an Anthropic-backed LLM client.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		client:     anthropic.NewClient(options...),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
	}, nil
}

// Name returns the provider identifier.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// CreateMessage sends a non-streaming Messages request and translates the
// response. Transient failures are retried with exponential backoff.
func (c *AnthropicClient) CreateMessage(ctx context.Context, req *Request) (*Response, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1))
			c.logger.Warn("retrying anthropic request",
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		msg, err := c.client.Messages.New(ctx, *params)
		if err != nil {
			lastErr = err
			if isRetryable(err) {
				continue
			}
			return nil, fmt.Errorf("anthropic messages.new: %w", err)
		}
		return translateMessage(msg), nil
	}
	return nil, fmt.Errorf("anthropic: max retries exceeded: %w", lastErr)
}

func (c *AnthropicClient) buildParams(req *Request) (*anthropic.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			switch b.Type {
			case models.BlockText:
				if b.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(b.Text))
				}
			case models.BlockToolUse:
				blocks = append(blocks, anthropic.NewToolUseBlock(b.ID, b.Input, b.Name))
			case models.BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
			case models.BlockImage:
				if b.Source != nil {
					blocks = append(blocks, anthropic.NewImageBlockBase64(b.Source.MediaType, b.Source.Data))
				}
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == models.RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(blocks...))
		}
	}

	params := &anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	for _, def := range req.Tools {
		schema, err := toolInputSchema(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
		}
		u := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = anthropic.String(def.Description)
		}
		params.Tools = append(params.Tools, u)
	}
	return params, nil
}

func toolInputSchema(raw []byte) (anthropic.ToolInputSchemaParam, error) {
	if len(raw) == 0 {
		return anthropic.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return anthropic.ToolInputSchemaParam{}, err
	}
	return anthropic.ToolInputSchemaParam{ExtraFields: m}, nil
}

func translateMessage(msg *anthropic.Message) *Response {
	resp := &Response{
		StopReason: string(msg.StopReason),
		Provider:   "anthropic",
		Model:      string(msg.Model),
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}
	resp.Text = text.String()
	resp.InputTokens = int(msg.Usage.InputTokens)
	resp.OutputTokens = int(msg.Usage.OutputTokens)
	resp.CachedTokens = int(msg.Usage.CacheReadInputTokens)
	return resp
}

// isRetryable reports whether an error is worth retrying: rate limits,
// server errors, and transport-level failures.
func isRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
