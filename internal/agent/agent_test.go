package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/verdict/internal/conversations"
	"github.com/haasonsaas/verdict/internal/memory"
	"github.com/haasonsaas/verdict/internal/observability"
	"github.com/haasonsaas/verdict/internal/provider"
	"github.com/haasonsaas/verdict/internal/provider/providertest"
	"github.com/haasonsaas/verdict/internal/retry"
	"github.com/haasonsaas/verdict/pkg/models"
)

const readyAnswer = `FEAT-MS-001 looks healthy.

DECISION: ready
JUSTIFICATION: tests passing and the review is approved.`

func fastRetry() retry.Config {
	return retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Factor:       2.0,
	}
}

type testHarness struct {
	agent    *Agent
	provider *providertest.Scripted
	store    *conversations.Store
	memory   memory.Store
	traceDir string
}

func newHarness(t *testing.T, scripted *providertest.Scripted, mem memory.Store, mutate func(*Config)) *testHarness {
	t.Helper()

	logger := observability.NopLogger()
	traceDir := t.TempDir()
	tracer, shutdown := observability.NewTracer(traceDir, logger)
	t.Cleanup(func() { shutdown(context.Background()) })

	store, err := conversations.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	registry := NewRegistry(tracer, logger)
	if err := registry.Register("get_jira_data", "Fetch ticket metadata", echoSchemaAny, staticHandler(`{"status":"done","tests":"passing"}`)); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register("get_analysis", "Fetch test metrics", echoSchemaAny, staticHandler(`{"pass_rate":1.0}`)); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.Retry = fastRetry()
	cfg.SubConv.Retry = fastRetry()
	if mutate != nil {
		mutate(&cfg)
	}

	a, err := New(scripted, registry, store, mem, tracer, logger, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return &testHarness{agent: a, provider: scripted, store: store, memory: mem, traceDir: traceDir}
}

var echoSchemaAny = json.RawMessage(`{"type":"object","properties":{"feature_id":{"type":"string"}}}`)

func staticHandler(out string) Handler {
	return func(ctx context.Context, input json.RawMessage) (any, error) {
		return out, nil
	}
}

func toolUseBlock(id, name string) models.ContentBlock {
	return models.ToolUseBlock(id, name, json.RawMessage(`{"feature_id":"FEAT-MS-001"}`))
}

func TestSendMessage_PlainTextTurn(t *testing.T) {
	h := newHarness(t, providertest.New(providertest.Text(readyAnswer)), nil, nil)
	conv := h.agent.NewConversation()

	text, err := h.agent.SendMessage(context.Background(), conv, "Is FEAT-MS-001 ready for production?")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if !strings.Contains(text, "DECISION: ready") {
		t.Errorf("text = %q", text)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("got %d messages, want user+assistant", len(conv.Messages))
	}
	if len(conv.TraceIDs) != 1 {
		t.Errorf("got %d trace ids, want 1", len(conv.TraceIDs))
	}

	// Persisted and loadable by id.
	loaded, err := h.store.Load(conv.ID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded.Messages) != 2 {
		t.Errorf("persisted conversation has %d messages", len(loaded.Messages))
	}
}

func TestSendMessage_ToolLoop(t *testing.T) {
	h := newHarness(t, providertest.New(
		providertest.ToolUse(
			models.TextBlock("Gathering evidence."),
			toolUseBlock("tc_1", "get_jira_data"),
			toolUseBlock("tc_2", "get_analysis"),
		),
		providertest.Text(readyAnswer),
	), nil, nil)
	conv := h.agent.NewConversation()

	text, err := h.agent.SendMessage(context.Background(), conv, "Is FEAT-MS-001 ready for production?")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if !strings.Contains(text, "DECISION: ready") {
		t.Errorf("text = %q", text)
	}
	if h.provider.Calls() != 2 {
		t.Errorf("provider calls = %d, want 2", h.provider.Calls())
	}

	// user, assistant(tool_use), user(tool_result), assistant(final)
	if len(conv.Messages) != 4 {
		t.Fatalf("got %d messages, want 4", len(conv.Messages))
	}
	if err := conv.ValidateToolPairs(); err != nil {
		t.Errorf("tool pairing violated: %v", err)
	}

	// Results preserve the order of the tool_use blocks.
	results := conv.Messages[2]
	if results.Role != models.RoleUser {
		t.Fatalf("results message role = %s", results.Role)
	}
	var ids []string
	for _, b := range results.Content {
		if b.Type == models.BlockToolResult {
			ids = append(ids, b.ToolUseID)
		}
	}
	if len(ids) != 2 || ids[0] != "tc_1" || ids[1] != "tc_2" {
		t.Errorf("result order = %v", ids)
	}
}

func TestSendMessage_ToolLoopRunaway(t *testing.T) {
	// Every response requests another tool call; the loop must stop at the
	// iteration cap and return the last text.
	var steps []providertest.Step
	for i := 0; i < 20; i++ {
		steps = append(steps, providertest.ToolUse(
			models.TextBlock("still digging"),
			toolUseBlock("tc_x", "get_jira_data"),
		))
	}
	h := newHarness(t, providertest.New(steps...), nil, func(c *Config) {
		c.MaxToolIterations = 3
	})
	conv := h.agent.NewConversation()

	text, err := h.agent.SendMessage(context.Background(), conv, "Is FEAT-MS-001 ready?")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if h.provider.Calls() != 3 {
		t.Errorf("provider calls = %d, want 3", h.provider.Calls())
	}
	if text != "still digging" {
		t.Errorf("text = %q", text)
	}
}

func TestSendMessage_RetriesTransientErrors(t *testing.T) {
	rateLimited := &provider.Error{Reason: provider.ReasonRateLimit, Message: "429"}
	h := newHarness(t, providertest.New(
		providertest.Fail(rateLimited),
		providertest.Fail(rateLimited),
		providertest.Text(readyAnswer),
	), nil, nil)
	conv := h.agent.NewConversation()

	start := time.Now()
	text, err := h.agent.SendMessage(context.Background(), conv, "Is FEAT-MS-001 ready?")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if !strings.Contains(text, "ready") {
		t.Errorf("text = %q", text)
	}
	if h.provider.Calls() != 3 {
		t.Errorf("provider calls = %d, want 3", h.provider.Calls())
	}
	// Bound: two sleeps of at most 5ms*1.5 plus slack.
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("retries took %v", elapsed)
	}
}

func TestSendMessage_AuthErrorFailsFast(t *testing.T) {
	authErr := &provider.Error{Reason: provider.ReasonAuth, Message: "invalid x-api-key"}
	h := newHarness(t, providertest.New(
		providertest.Fail(authErr),
		providertest.Text(readyAnswer), // must never be reached
	), nil, nil)
	conv := h.agent.NewConversation()

	_, err := h.agent.SendMessage(context.Background(), conv, "Is FEAT-MS-001 ready?")
	if err == nil {
		t.Fatal("expected error")
	}
	var provErr *provider.Error
	if !errors.As(err, &provErr) || provErr.Reason != provider.ReasonAuth {
		t.Errorf("error = %v", err)
	}
	if h.provider.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1 (no retries)", h.provider.Calls())
	}

	// Partial conversation persisted: the user message, no assistant.
	loaded, loadErr := h.store.Load(conv.ID)
	if loadErr != nil {
		t.Fatalf("Load() error = %v", loadErr)
	}
	if len(loaded.Messages) != 1 || loaded.Messages[0].Role != models.RoleUser {
		t.Errorf("persisted messages = %+v", loaded.Messages)
	}
}

func TestSendMessage_SubConversationForLargeOutput(t *testing.T) {
	large := strings.Repeat("checkout latency sample 412ms; ", 2000)

	h := newHarness(t, providertest.New(
		providertest.ToolUse(toolUseBlock("tc_1", "read_doc")),
		providertest.Text("Summary: p99 latency is 412ms, under the 500ms budget."),
		providertest.Text(readyAnswer),
	), nil, func(c *Config) {
		c.SubConv.Threshold = 100
	})
	if err := h.agent.Registry().Register("read_doc", "Read a document", echoSchemaAny, staticHandler(large)); err != nil {
		t.Fatal(err)
	}
	conv := h.agent.NewConversation()

	_, err := h.agent.SendMessage(context.Background(), conv, "Is FEAT-MS-001 ready?")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	if len(conv.SubConversations) != 1 {
		t.Fatalf("got %d sub-conversations, want 1", len(conv.SubConversations))
	}
	sub := conv.SubConversations[0]
	if !sub.Completed() {
		t.Error("sub-conversation not completed")
	}
	if sub.SummaryTokens > sub.OriginalTokens {
		t.Errorf("summary tokens %d exceed original %d", sub.SummaryTokens, sub.OriginalTokens)
	}
	if !strings.Contains(sub.Purpose, "read_doc") {
		t.Errorf("purpose = %q", sub.Purpose)
	}

	// The parent conversation received the summary, not the full document.
	resultMsg := conv.Messages[2]
	for _, b := range resultMsg.Content {
		if b.Type == models.BlockToolResult {
			if strings.Contains(b.Content, "checkout latency sample") && len(b.Content) > 1000 {
				t.Error("full document leaked into the parent conversation")
			}
			if !strings.Contains(b.Content, "412ms") {
				t.Errorf("summary missing: %q", b.Content)
			}
		}
	}
}

func TestSendMessage_SubConversationFallback(t *testing.T) {
	large := strings.Repeat("metric line; ", 5000)

	// The summarization call always fails; the manager must fall back to
	// head+tail truncation instead of failing the turn.
	fatal := &provider.Error{Reason: provider.ReasonInvalidRequest, Message: "bad request"}
	h := newHarness(t, providertest.New(
		providertest.ToolUse(toolUseBlock("tc_1", "read_doc")),
		providertest.Fail(fatal),
		providertest.Text(readyAnswer),
	), nil, func(c *Config) {
		c.SubConv.Threshold = 100
	})
	if err := h.agent.Registry().Register("read_doc", "Read a document", echoSchemaAny, staticHandler(large)); err != nil {
		t.Fatal(err)
	}
	conv := h.agent.NewConversation()

	_, err := h.agent.SendMessage(context.Background(), conv, "Is FEAT-MS-001 ready?")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	resultMsg := conv.Messages[2]
	found := false
	for _, b := range resultMsg.Content {
		if b.Type == models.BlockToolResult {
			found = true
			if !strings.Contains(b.Content, "elided") {
				t.Errorf("fallback content lacks elision marker: %d bytes", len(b.Content))
			}
			if len(b.Content) >= len(large) {
				t.Error("fallback did not shrink the content")
			}
		}
	}
	if !found {
		t.Fatal("no tool_result block in parent conversation")
	}
}

func TestSendMessage_MemoryRetrievalAugmentsContext(t *testing.T) {
	mem, err := memory.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mem.Store(context.Background(), &models.Memory{
		FeatureID:     "FEAT-MS-001",
		Decision:      models.DecisionBorderline,
		Justification: "previous run saw flaky payment tests",
		Timestamp:     time.Now().UTC().Add(-24 * time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	h := newHarness(t, providertest.New(providertest.Text(readyAnswer)), mem, nil)
	conv := h.agent.NewConversation()

	if _, err := h.agent.SendMessage(context.Background(), conv, "Is FEAT-MS-001 ready for production?"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	// The formatted memory block must appear in the provider request.
	reqs := h.provider.Requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d requests", len(reqs))
	}
	var joined strings.Builder
	for _, m := range reqs[0].Messages {
		joined.WriteString(m.Text())
	}
	if !strings.Contains(joined.String(), "Relevant past assessments") {
		t.Error("memory context block missing from provider messages")
	}
	if !strings.Contains(joined.String(), "flaky payment tests") {
		t.Error("memory content missing from provider messages")
	}
}

func TestSendMessage_MemoryStoresVerdict(t *testing.T) {
	mem, err := memory.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, providertest.New(providertest.Text(readyAnswer)), mem, nil)
	conv := h.agent.NewConversation()

	if _, err := h.agent.SendMessage(context.Background(), conv, "Is FEAT-MS-001 ready for production?"); err != nil {
		t.Fatal(err)
	}

	stored, err := mem.Retrieve(context.Background(), memory.Query{FeatureID: "FEAT-MS-001"})
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Fatalf("got %d memories, want 1", len(stored))
	}
	if stored[0].Decision != models.DecisionReady {
		t.Errorf("stored decision = %s", stored[0].Decision)
	}
}

type failingMemory struct{}

func (failingMemory) Store(context.Context, *models.Memory) (string, error) {
	return "", errors.New("memory transport down")
}
func (failingMemory) Retrieve(context.Context, memory.Query) ([]*models.Memory, error) {
	return nil, errors.New("memory transport down")
}
func (failingMemory) RetrieveByID(context.Context, string) (*models.Memory, error) {
	return nil, errors.New("memory transport down")
}
func (failingMemory) ClearAll(context.Context) error { return errors.New("memory transport down") }
func (failingMemory) Close() error                   { return nil }

func TestSendMessage_MemoryFailureDoesNotAbortTurn(t *testing.T) {
	h := newHarness(t, providertest.New(providertest.Text(readyAnswer)), failingMemory{}, nil)
	conv := h.agent.NewConversation()

	text, err := h.agent.SendMessage(context.Background(), conv, "Is FEAT-MS-001 ready?")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if !strings.Contains(text, "ready") {
		t.Errorf("text = %q", text)
	}
}

func TestSendMessage_TruncationPreservesToolPairs(t *testing.T) {
	// Build a long conversation, then run a turn with a small window and
	// verify every provider request satisfies the pairing invariant.
	h := newHarness(t, providertest.New(
		providertest.ToolUse(toolUseBlock("tc_a", "get_jira_data")),
		providertest.ToolUse(toolUseBlock("tc_b", "get_analysis")),
		providertest.Text(readyAnswer),
	), nil, func(c *Config) {
		c.MaxMessages = 2
	})
	conv := h.agent.NewConversation()

	if _, err := h.agent.SendMessage(context.Background(), conv, "Is FEAT-MS-001 ready?"); err != nil {
		t.Fatal(err)
	}

	for i, req := range h.provider.Requests() {
		inWindow := make(map[string]bool)
		for _, m := range req.Messages {
			for _, b := range m.Content {
				if b.Type == models.BlockToolUse {
					inWindow[b.ID] = true
				}
			}
		}
		for _, m := range req.Messages {
			for _, b := range m.Content {
				if b.Type == models.BlockToolResult && !inWindow[b.ToolUseID] {
					t.Errorf("request %d: tool_result %s without its tool_use in window", i, b.ToolUseID)
				}
			}
		}
	}
}

func TestSendMessage_UpdatedAtMonotonic(t *testing.T) {
	h := newHarness(t, providertest.New(
		providertest.Text(readyAnswer),
		providertest.Text(readyAnswer),
	), nil, nil)
	conv := h.agent.NewConversation()

	if _, err := h.agent.SendMessage(context.Background(), conv, "Is FEAT-MS-001 ready?"); err != nil {
		t.Fatal(err)
	}
	first := conv.UpdatedAt
	if _, err := h.agent.SendMessage(context.Background(), conv, "And after the latest fixes?"); err != nil {
		t.Fatal(err)
	}
	if conv.UpdatedAt.Before(first) {
		t.Error("updated_at went backwards")
	}
	if len(conv.TraceIDs) != 2 {
		t.Errorf("trace ids = %d, want one per turn", len(conv.TraceIDs))
	}
}

func TestSendMessage_EmptyUserText(t *testing.T) {
	h := newHarness(t, providertest.New(), nil, nil)
	conv := h.agent.NewConversation()
	if _, err := h.agent.SendMessage(context.Background(), conv, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("error = %v, want ErrEmptyMessage", err)
	}
}
