package agent

import "errors"

// Common sentinel errors for agent operations.
var (
	// ErrNoProvider indicates no LLM provider is configured.
	ErrNoProvider = errors.New("no provider configured")

	// ErrEmptyMessage indicates the user text was empty.
	ErrEmptyMessage = errors.New("empty user message")

	// ErrToolNameTaken indicates a duplicate tool registration.
	ErrToolNameTaken = errors.New("tool name already registered")

	// ErrInvalidToolName indicates a tool name outside the allowed pattern.
	ErrInvalidToolName = errors.New("invalid tool name")
)
