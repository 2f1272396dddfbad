package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

// fakeTransport scripts JSON-RPC responses by method.
type fakeTransport struct {
	connected bool
	responses map[string]any
	calls     []string
	failWith  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		responses: map[string]any{
			"initialize": InitializeResult{
				ProtocolVersion: "2024-11-05",
				ServerInfo:      ServerInfo{Name: "fake", Version: "0.1.0"},
			},
			"tools/list": ListToolsResult{
				Tools: []*Tool{
					{Name: "query_documents", Description: "Query", InputSchema: json.RawMessage(`{"type":"object"}`)},
				},
			},
		},
	}
}

func (t *fakeTransport) Connect(ctx context.Context) error { t.connected = true; return nil }
func (t *fakeTransport) Close() error                      { t.connected = false; return nil }
func (t *fakeTransport) Connected() bool                   { return t.connected }
func (t *fakeTransport) Events() <-chan *JSONRPCNotification {
	return make(chan *JSONRPCNotification)
}
func (t *fakeTransport) Notify(ctx context.Context, method string, params any) error { return nil }

func (t *fakeTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	t.calls = append(t.calls, method)
	if t.failWith != nil {
		return nil, t.failWith
	}
	resp, ok := t.responses[method]
	if !ok {
		return nil, fmt.Errorf("unexpected method %s", method)
	}
	return json.Marshal(resp)
}

func TestClient_ConnectHandshake(t *testing.T) {
	transport := newFakeTransport()
	client := NewClientWithTransport(&ServerConfig{ID: "fake"}, transport, nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if client.ServerInfo().Name != "fake" {
		t.Errorf("server info = %+v", client.ServerInfo())
	}
	if len(client.Tools()) != 1 || client.Tools()[0].Name != "query_documents" {
		t.Errorf("tools = %+v", client.Tools())
	}
	if transport.calls[0] != "initialize" {
		t.Errorf("first call = %s, want initialize", transport.calls[0])
	}
}

func TestClient_ConnectFailureClosesTransport(t *testing.T) {
	transport := newFakeTransport()
	transport.failWith = errors.New("server down")
	client := NewClientWithTransport(&ServerConfig{ID: "fake"}, transport, nil)

	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
	if transport.connected {
		t.Error("transport left open after failed initialize")
	}
}

func TestClient_CallTool(t *testing.T) {
	transport := newFakeTransport()
	transport.responses["tools/call"] = ToolCallResult{
		Content: []ContentItem{{Type: "text", Text: "found 3 results"}},
	}
	client := NewClientWithTransport(&ServerConfig{ID: "fake"}, transport, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	result, err := client.CallTool(context.Background(), "query_documents", map[string]any{"q": "checkout"})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if result.Text() != "found 3 results" {
		t.Errorf("result text = %q", result.Text())
	}
}

func TestToolCallResult_TextJoinsItems(t *testing.T) {
	result := &ToolCallResult{Content: []ContentItem{
		{Type: "text", Text: "one"},
		{Type: "image"},
		{Type: "text", Text: "two"},
	}}
	if got := result.Text(); got != "one\ntwo" {
		t.Errorf("Text() = %q", got)
	}
}

func TestNewTransport_Selection(t *testing.T) {
	if _, ok := NewTransport(&ServerConfig{Transport: TransportSSE, URL: "http://x"}).(*SSETransport); !ok {
		t.Error("sse config should select SSETransport")
	}
	if _, ok := NewTransport(&ServerConfig{Transport: TransportStdio, Command: "srv"}).(*StdioTransport); !ok {
		t.Error("stdio config should select StdioTransport")
	}
}
