package models

import "encoding/json"

// ToolDefinition is the canonical tool description emitted to providers.
// The input schema is plain JSON Schema; providers translate it into their
// native tool format.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolCall represents the model's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of one tool execution. Exactly one result
// is produced per call, in call order.
type ToolResult struct {
	ToolCallID string             `json:"tool_call_id"`
	Content    string             `json:"content"`
	Success    bool               `json:"success"`
	Metadata   ToolResultMetadata `json:"metadata,omitempty"`
}

// ToolResultMetadata carries execution bookkeeping attached by the registry
// and, when the output was digested in isolation, by the sub-conversation
// manager.
type ToolResultMetadata struct {
	SubConversationID string  `json:"subconversation_id,omitempty"`
	OriginalTokens    int     `json:"original_tokens,omitempty"`
	SummaryTokens     int     `json:"summary_tokens,omitempty"`
	CompressionRatio  float64 `json:"compression_ratio,omitempty"`
	DurationMs        int64   `json:"duration_ms,omitempty"`
}
