package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/verdict/pkg/models"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-20250514"

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	// APIKey authenticates with the Anthropic API.
	APIKey string

	// Model is the default model for requests that don't override it.
	Model string

	// MaxTokens is the default response budget.
	MaxTokens int

	// BaseURL overrides the API endpoint, for proxies and test servers.
	BaseURL string
}

// Anthropic implements Provider against the Anthropic Messages API. Requests
// are non-streaming; the agent consumes complete structured responses. SDK
// retries are disabled; the runtime's retry envelope owns backoff.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropic creates a provider from config.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

// Name implements Provider.
func (p *Anthropic) Name() string { return "anthropic" }

// Model implements Provider.
func (p *Anthropic) Model() string { return p.model }

// SendMessage implements Provider.
func (p *Anthropic) SendMessage(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, &Error{
			Reason:   ReasonValidation,
			Provider: p.Name(),
			Model:    model,
			Message:  err.Error(),
			Cause:    err,
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, &Error{
				Reason:   ReasonValidation,
				Provider: p.Name(),
				Model:    model,
				Message:  err.Error(),
				Cause:    err,
			}
		}
		params.Tools = tools
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(model, err)
	}

	return convertResponse(message)
}

func (p *Anthropic) wrapError(model string, err error) error {
	providerErr := NewError(p.Name(), model, err)
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr = providerErr.WithStatus(apiErr.StatusCode)
	}
	return providerErr
}

// convertMessages translates the canonical block list into Anthropic message
// params. System messages never appear here; the system prompt travels in
// params.System.
func convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		for _, block := range msg.Content {
			switch block.Type {
			case models.BlockText:
				content = append(content, anthropic.NewTextBlock(block.Text))
			case models.BlockToolUse:
				var input map[string]any
				if err := json.Unmarshal(block.Input, &input); err != nil {
					return nil, fmt.Errorf("invalid tool_use input for %s: %w", block.Name, err)
				}
				content = append(content, anthropic.NewToolUseBlock(block.ID, input, block.Name))
			case models.BlockToolResult:
				content = append(content, anthropic.NewToolResultBlock(block.ToolUseID, block.Content, block.IsError))
			default:
				return nil, fmt.Errorf("unsupported block type %q", block.Type)
			}
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

// convertTools translates canonical JSON-Schema tool definitions into the
// SDK's tool params.
func convertTools(tools []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool definition for %s", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}

func convertResponse(message *anthropic.Message) (*Response, error) {
	resp := &Response{
		StopReason: string(message.StopReason),
		Usage: Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			resp.Content = append(resp.Content, models.TextBlock(block.Text))
		case "tool_use":
			resp.Content = append(resp.Content, models.ToolUseBlock(block.ID, block.Name, json.RawMessage(block.Input)))
		default:
			// Thinking and other block kinds carry no content the runtime
			// consumes; skip them rather than fail the turn.
		}
	}
	return resp, nil
}
