// Package models defines the core data types for Verdict.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// BlockType discriminates the content block variants.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is a tagged fragment of a message's content. Exactly one
// variant is populated, selected by Type. The tag is retained through JSON
// so conversations round-trip losslessly.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text is set for text blocks.
	Text string `json:"text,omitempty"`

	// ID, Name and Input are set for tool_use blocks.
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// ToolUseID, Content and IsError are set for tool_result blocks.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool_use content block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool_result content block.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Validate checks the variant invariants for the block.
func (b ContentBlock) Validate() error {
	switch b.Type {
	case BlockText:
		if b.Text == "" {
			return fmt.Errorf("text block: empty text")
		}
	case BlockToolUse:
		if b.ID == "" || b.Name == "" {
			return fmt.Errorf("tool_use block: missing id or name")
		}
	case BlockToolResult:
		if b.ToolUseID == "" {
			return fmt.Errorf("tool_result block: missing tool_use_id")
		}
	default:
		return fmt.Errorf("unknown block type %q", b.Type)
	}
	return nil
}

// Message is a single conversation turn. Content is an ordered block list;
// tool_use blocks appear only on assistant messages and tool_result blocks
// only on user messages.
type Message struct {
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewTextMessage builds a message holding a single text block.
func NewTextMessage(role Role, text string) Message {
	return Message{
		Role:      role,
		Content:   []ContentBlock{TextBlock(text)},
		CreatedAt: time.Now().UTC(),
	}
}

// Text concatenates the text blocks of the message.
func (m Message) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Type == BlockText {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}

// ToolUses returns the tool_use blocks of the message in order.
func (m Message) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// HasToolUse reports whether the message carries any tool_use block.
func (m Message) HasToolUse() bool {
	return len(m.ToolUses()) > 0
}

// Validate checks the role/block pairing invariants.
func (m Message) Validate() error {
	if len(m.Content) == 0 {
		return fmt.Errorf("message content is empty")
	}
	for _, b := range m.Content {
		if err := b.Validate(); err != nil {
			return err
		}
		if b.Type == BlockToolUse && m.Role != RoleAssistant {
			return fmt.Errorf("tool_use block on %s message", m.Role)
		}
		if b.Type == BlockToolResult && m.Role != RoleUser {
			return fmt.Errorf("tool_result block on %s message", m.Role)
		}
	}
	return nil
}
