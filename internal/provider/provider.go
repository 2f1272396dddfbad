// Package provider abstracts the LLM wire protocol so the agent runtime is
// model-agnostic. Implementations translate between the runtime's canonical
// message/tool types and a concrete API.
package provider

import (
	"context"

	"github.com/haasonsaas/verdict/pkg/models"
)

// Provider is the capability the agent core depends on. Implementations
// must be safe for sequential use by a single agent; they hold no
// conversation state of their own.
type Provider interface {
	// SendMessage performs one model call and returns the structured
	// response. Tools are passed on every call in canonical JSON-Schema
	// form; the provider owns translation into its native format.
	SendMessage(ctx context.Context, req *Request) (*Response, error)

	// Name returns the provider name, e.g. "anthropic".
	Name() string

	// Model returns the model id requests default to.
	Model() string
}

// Request contains all parameters for one model call.
type Request struct {
	// Messages is the conversation window, textual and tool-use/tool-result
	// blocks only. No prompts or state are hidden inside the provider.
	Messages []models.Message

	// System is the system prompt, handled separately from messages.
	System string

	// Tools are the canonical tool definitions available for this call.
	Tools []models.ToolDefinition

	// MaxTokens limits the response length. Zero means the provider default.
	MaxTokens int

	// Model overrides the provider's default model when non-empty. The
	// sub-conversation manager uses this to run summarization on a smaller
	// model than the main loop.
	Model string
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the structured result of one model call.
type Response struct {
	// Content is the ordered block list: text and/or tool_use blocks.
	Content []models.ContentBlock

	// StopReason is the provider's termination reason ("end_turn",
	// "tool_use", "max_tokens", ...).
	StopReason string

	// Usage is the token accounting reported by the provider.
	Usage Usage
}

// ExtractToolCalls returns the tool calls requested by the response, in
// block order.
func ExtractToolCalls(resp *Response) []models.ToolCall {
	if resp == nil {
		return nil
	}
	var calls []models.ToolCall
	for _, b := range resp.Content {
		if b.Type == models.BlockToolUse {
			calls = append(calls, models.ToolCall{ID: b.ID, Name: b.Name, Input: b.Input})
		}
	}
	return calls
}

// TextContent concatenates the text blocks of the response.
func TextContent(resp *Response) string {
	if resp == nil {
		return ""
	}
	var out string
	for _, b := range resp.Content {
		if b.Type == models.BlockText {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}
