package mcp

import (
	"context"
	"encoding/json"
)

// Transport is the wire-level interface shared by the stdio and SSE
// transports. Calls are not serialized: the stdio transport serializes frame
// writes and matches responses to requests by id, so several calls can be in
// flight on one connection; the SSE transport sends each call as its own
// HTTP request.
type Transport interface {
	// Connect establishes the transport connection.
	Connect(ctx context.Context) error

	// Close closes the transport connection.
	Close() error

	// Call sends a request and waits for a response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification (no response expected).
	Notify(ctx context.Context, method string, params any) error

	// Events returns a channel of server notifications.
	Events() <-chan *JSONRPCNotification

	// Connected reports whether the transport is usable.
	Connected() bool
}

// NewTransport selects a transport from the server configuration.
func NewTransport(cfg *ServerConfig) Transport {
	switch cfg.Transport {
	case TransportSSE:
		return NewSSETransport(cfg)
	default:
		return NewStdioTransport(cfg)
	}
}
