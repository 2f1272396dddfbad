package models

import (
	"fmt"
	"time"
)

// Conversation is the append-only record of one assessment thread. Messages
// grow monotonically; nothing is ever deleted or rewritten in place.
type Conversation struct {
	ID               string            `json:"id"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	SystemPrompt     string            `json:"system_prompt"`
	Messages         []Message         `json:"messages"`
	TraceIDs         []string          `json:"trace_ids"`
	SubConversations []SubConversation `json:"sub_conversations"`
}

// Append adds a message and bumps UpdatedAt.
func (c *Conversation) Append(msg Message) {
	c.Messages = append(c.Messages, msg)
	c.Touch()
}

// Touch advances UpdatedAt, never backwards.
func (c *Conversation) Touch() {
	now := time.Now().UTC()
	if now.After(c.UpdatedAt) {
		c.UpdatedAt = now
	}
}

// Clone returns a deep copy so the store can snapshot without sharing
// backing arrays with the live conversation.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		cm := m
		cm.Content = append([]ContentBlock(nil), m.Content...)
		cp.Messages[i] = cm
	}
	cp.TraceIDs = append([]string(nil), c.TraceIDs...)
	cp.SubConversations = make([]SubConversation, len(c.SubConversations))
	for i, s := range c.SubConversations {
		cs := s
		cs.Messages = make([]Message, len(s.Messages))
		for j, m := range s.Messages {
			cm := m
			cm.Content = append([]ContentBlock(nil), m.Content...)
			cs.Messages[j] = cm
		}
		cp.SubConversations[i] = cs
	}
	return &cp
}

// ValidateToolPairs checks that every tool_result refers to a tool_use that
// appears earlier in the message list.
func (c *Conversation) ValidateToolPairs() error {
	seen := make(map[string]bool)
	for i, m := range c.Messages {
		for _, b := range m.Content {
			switch b.Type {
			case BlockToolUse:
				if seen[b.ID] {
					return fmt.Errorf("message %d: duplicate tool_use id %s", i, b.ID)
				}
				seen[b.ID] = true
			case BlockToolResult:
				if !seen[b.ToolUseID] {
					return fmt.Errorf("message %d: orphan tool_result %s", i, b.ToolUseID)
				}
			}
		}
	}
	return nil
}

// SubConversation is an isolated child conversation opened to digest an
// oversized tool output. Only its summary flows back into the parent; the
// child message list is retained for audit but never merges.
type SubConversation struct {
	ID            string     `json:"id"`
	ParentID      string     `json:"parent_id"`
	Purpose       string     `json:"purpose"`
	SystemPrompt  string     `json:"system_prompt"`
	Messages      []Message  `json:"messages"`
	Summary       string     `json:"summary,omitempty"`
	OriginalTokens int       `json:"original_tokens"`
	SummaryTokens  int       `json:"summary_tokens"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Completed reports whether the summary has been produced.
func (s *SubConversation) Completed() bool {
	return s.CompletedAt != nil
}

// CompressionRatio is original over summary token count, 0 when unknown.
func (s *SubConversation) CompressionRatio() float64 {
	if s.SummaryTokens <= 0 {
		return 0
	}
	return float64(s.OriginalTokens) / float64(s.SummaryTokens)
}
