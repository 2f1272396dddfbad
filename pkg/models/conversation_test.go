package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestConversation_AppendBumpsUpdatedAt(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	conv := &Conversation{ID: "c1", CreatedAt: past, UpdatedAt: past}

	conv.Append(NewTextMessage(RoleUser, "hello"))
	if !conv.UpdatedAt.After(past) {
		t.Error("UpdatedAt not advanced by Append")
	}
	if len(conv.Messages) != 1 {
		t.Errorf("messages = %d", len(conv.Messages))
	}
}

func TestConversation_CloneIsDeep(t *testing.T) {
	conv := &Conversation{
		ID:       "c1",
		Messages: []Message{NewTextMessage(RoleUser, "original")},
		TraceIDs: []string{"t1"},
		SubConversations: []SubConversation{{
			ID:       "s1",
			Messages: []Message{NewTextMessage(RoleUser, "sub original")},
		}},
	}

	clone := conv.Clone()
	clone.Messages[0].Content[0].Text = "mutated"
	clone.TraceIDs[0] = "other"
	clone.SubConversations[0].Messages[0].Content[0].Text = "sub mutated"

	if conv.Messages[0].Text() != "original" {
		t.Error("clone shares message content with original")
	}
	if conv.TraceIDs[0] != "t1" {
		t.Error("clone shares trace ids with original")
	}
	if conv.SubConversations[0].Messages[0].Text() != "sub original" {
		t.Error("clone shares sub-conversation messages with original")
	}
}

func TestConversation_ValidateToolPairs(t *testing.T) {
	good := &Conversation{
		Messages: []Message{
			{Role: RoleAssistant, Content: []ContentBlock{ToolUseBlock("tc_1", "a", json.RawMessage(`{}`))}},
			{Role: RoleUser, Content: []ContentBlock{ToolResultBlock("tc_1", "ok", false)}},
		},
	}
	if err := good.ValidateToolPairs(); err != nil {
		t.Errorf("ValidateToolPairs() error = %v", err)
	}

	orphan := &Conversation{
		Messages: []Message{
			{Role: RoleUser, Content: []ContentBlock{ToolResultBlock("tc_9", "ok", false)}},
		},
	}
	if err := orphan.ValidateToolPairs(); err == nil {
		t.Error("orphan tool_result must be invalid")
	}

	duplicate := &Conversation{
		Messages: []Message{
			{Role: RoleAssistant, Content: []ContentBlock{
				ToolUseBlock("tc_1", "a", json.RawMessage(`{}`)),
				ToolUseBlock("tc_1", "b", json.RawMessage(`{}`)),
			}},
		},
	}
	if err := duplicate.ValidateToolPairs(); err == nil {
		t.Error("duplicate tool_use id must be invalid")
	}
}

func TestSubConversation_CompressionRatio(t *testing.T) {
	sub := &SubConversation{OriginalTokens: 8000, SummaryTokens: 400}
	if got := sub.CompressionRatio(); got != 20.0 {
		t.Errorf("CompressionRatio() = %v", got)
	}
	empty := &SubConversation{OriginalTokens: 100}
	if got := empty.CompressionRatio(); got != 0 {
		t.Errorf("CompressionRatio() with no summary = %v", got)
	}
}

func TestConversation_JSONRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	conv := &Conversation{
		ID:           "c1",
		CreatedAt:    now,
		UpdatedAt:    now,
		SystemPrompt: "assess readiness",
		Messages: []Message{
			NewTextMessage(RoleUser, "Is FEAT-MS-001 ready?"),
		},
		TraceIDs: []string{"t1", "t2"},
	}

	data, err := json.Marshal(conv)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Conversation
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.ID != conv.ID || decoded.SystemPrompt != conv.SystemPrompt {
		t.Errorf("decoded = %+v", decoded)
	}
	if len(decoded.TraceIDs) != 2 {
		t.Errorf("trace ids = %v", decoded.TraceIDs)
	}
}
