// Package agent implements the investigation agent runtime: the multi-turn
// tool-calling loop, context truncation, sub-conversation compression, and
// the memory and persistence hooks around it.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/verdict/internal/conversations"
	"github.com/haasonsaas/verdict/internal/memory"
	"github.com/haasonsaas/verdict/internal/observability"
	"github.com/haasonsaas/verdict/internal/provider"
	"github.com/haasonsaas/verdict/internal/retry"
	"github.com/haasonsaas/verdict/pkg/models"
)

// Config configures one agent instance.
type Config struct {
	// SystemPrompt steers the assessment conversation.
	SystemPrompt string

	// MaxMessages is the context window in messages (most recent kept).
	MaxMessages int

	// MaxToolIterations bounds the tool loop per turn.
	MaxToolIterations int

	// MaxTokens is the per-call response budget.
	MaxTokens int

	// PerAttemptTimeout bounds each provider attempt.
	PerAttemptTimeout time.Duration

	// Retry wraps provider calls.
	Retry retry.Config

	// SubConv configures oversized-tool-output digestion.
	SubConv SubConvConfig

	// MemoryLimit caps how many past assessments are injected per turn.
	MemoryLimit int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxMessages:       6,
		MaxToolIterations: 10,
		MaxTokens:         4096,
		PerAttemptTimeout: 60 * time.Second,
		Retry:             retry.DefaultConfig(),
		SubConv:           DefaultSubConvConfig(),
		MemoryLimit:       memory.DefaultRetrieveLimit,
	}
}

func (c Config) sanitized() Config {
	defaults := DefaultConfig()
	if c.MaxMessages <= 0 {
		c.MaxMessages = defaults.MaxMessages
	}
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = defaults.MaxToolIterations
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaults.MaxTokens
	}
	if c.PerAttemptTimeout <= 0 {
		c.PerAttemptTimeout = defaults.PerAttemptTimeout
	}
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = defaults.MemoryLimit
	}
	return c
}

// Agent orchestrates a single user turn end-to-end. It owns the live
// conversation during SendMessage and serializes turn handling, so message
// append order is execution order.
type Agent struct {
	provider  provider.Provider
	registry  *Registry
	store     *conversations.Store
	memory    memory.Store
	subConv   *SubConvManager
	estimator *Estimator
	tracer    *observability.Tracer
	logger    *observability.Logger
	config    Config

	mu sync.Mutex
}

// New assembles an agent from its collaborators. memoryStore may be nil,
// which disables cross-conversation recall.
func New(p provider.Provider, registry *Registry, store *conversations.Store, memoryStore memory.Store, tracer *observability.Tracer, logger *observability.Logger, config Config) (*Agent, error) {
	if p == nil {
		return nil, ErrNoProvider
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if tracer == nil {
		tracer, _ = observability.NewTracer("", logger)
	}
	config = config.sanitized()
	estimator := NewEstimator()

	return &Agent{
		provider:  p,
		registry:  registry,
		store:     store,
		memory:    memoryStore,
		subConv:   NewSubConvManager(p, estimator, tracer, logger, config.SubConv),
		estimator: estimator,
		tracer:    tracer,
		logger:    logger,
		config:    config,
	}, nil
}

// Registry returns the agent's tool registry.
func (a *Agent) Registry() *Registry { return a.registry }

// NewConversation creates an empty conversation bound to the agent's
// system prompt.
func (a *Agent) NewConversation() *models.Conversation {
	now := time.Now().UTC()
	return &models.Conversation{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		UpdatedAt:    now,
		SystemPrompt: a.config.SystemPrompt,
	}
}

// SendMessage runs one agent turn: memory retrieval, the provider/tool
// loop with sub-conversation compression, verdict capture, and persistence.
// It always returns either a response string or exactly one error.
func (a *Agent) SendMessage(ctx context.Context, conv *models.Conversation, userText string) (string, error) {
	if strings.TrimSpace(userText) == "" {
		return "", ErrEmptyMessage
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ctx = context.WithValue(ctx, observability.ConversationIDKey, conv.ID)
	ctx, turnSpan, traceID := a.tracer.StartTurn(ctx, "send_message", conv.ID, conv.TraceIDs)
	defer turnSpan.End()
	conv.TraceIDs = append(conv.TraceIDs, traceID)
	ctx = context.WithValue(ctx, observability.TraceIDKey, traceID)

	text, err := a.runTurn(ctx, conv, userText, turnSpan)
	if err != nil {
		a.tracer.RecordError(turnSpan, err)
		if ctx.Err() != nil {
			a.tracer.SetAttributes(turnSpan, "cancelled", true)
		}
		// Persist the partial conversation before surfacing the failure.
		if saveErr := a.store.Save(conv); saveErr != nil {
			a.logger.Error(ctx, "failed to persist partial conversation", "error", saveErr)
		}
		return "", err
	}

	if err := a.store.Save(conv); err != nil {
		a.tracer.RecordError(turnSpan, err)
		return "", fmt.Errorf("persist conversation: %w", err)
	}
	return text, nil
}

func (a *Agent) runTurn(ctx context.Context, conv *models.Conversation, userText string, turnSpan trace.Span) (string, error) {
	userMessage := a.buildUserMessage(ctx, userText)
	conv.Append(userMessage)

	var lastResponse *provider.Response
	usedSubConv := false
	truncatedLoop := true

	for iteration := 1; iteration <= a.config.MaxToolIterations; iteration++ {
		window, dropped := a.contextWindow(conv.Messages)
		if dropped > 0 {
			a.tracer.SetAttributes(turnSpan, "context.was_truncated", true, "context.messages_dropped", dropped)
		}

		resp, err := a.callProvider(ctx, window)
		if err != nil {
			return "", err
		}
		lastResponse = resp

		assistantMsg := models.Message{
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			CreatedAt: time.Now().UTC(),
		}
		if len(assistantMsg.Content) > 0 {
			conv.Append(assistantMsg)
		}

		toolCalls := provider.ExtractToolCalls(resp)
		if len(toolCalls) == 0 {
			truncatedLoop = false
			break
		}

		// Execute sequentially, preserving call order; results go back in
		// one user message in the same order.
		resultBlocks := make([]models.ContentBlock, 0, len(toolCalls))
		for _, call := range toolCalls {
			result := a.registry.Execute(ctx, call)
			if result.Success && a.estimator.CountText(result.Content) > a.subConv.Threshold() {
				result = a.subConv.Analyze(ctx, conv, call, result, userText)
				usedSubConv = true
			}
			resultBlocks = append(resultBlocks, models.ToolResultBlock(result.ToolCallID, result.Content, !result.Success))
		}
		conv.Append(models.Message{
			Role:      models.RoleUser,
			Content:   resultBlocks,
			CreatedAt: time.Now().UTC(),
		})
	}

	if truncatedLoop {
		a.tracer.SetAttributes(turnSpan, "tool_loop.truncated", true)
	}
	a.tracer.SetAttributes(turnSpan, "subconversation.used", usedSubConv)

	text := provider.TextContent(lastResponse)
	a.recordVerdict(ctx, userText, text)
	return text, nil
}

// buildUserMessage assembles the user turn, prepending relevant past
// assessments when the memory store yields any. Memory failures downgrade
// to a warning; the turn proceeds without recall.
func (a *Agent) buildUserMessage(ctx context.Context, userText string) models.Message {
	msg := models.NewTextMessage(models.RoleUser, userText)
	if a.memory == nil {
		return msg
	}

	memCtx, span := a.tracer.Start(ctx, "retrieve_memories")
	defer span.End()

	memories, err := a.memory.Retrieve(memCtx, memory.Query{
		Text:      userText,
		FeatureID: extractFeatureID(userText),
		Limit:     a.config.MemoryLimit,
	})
	if err != nil {
		a.tracer.SetAttributes(span, "memory.error", err.Error())
		a.logger.Warn(ctx, "memory retrieval failed, continuing without recall", "error", err)
		return msg
	}
	a.tracer.SetAttributes(span, "memory.count", len(memories))
	if len(memories) == 0 {
		return msg
	}

	var b strings.Builder
	b.WriteString("Relevant past assessments:\n")
	for _, m := range memories {
		fmt.Fprintf(&b, "- [%s] %s: %s: %s\n",
			m.Timestamp.Format("2006-01-02"), m.FeatureID, m.Decision, m.Justification)
	}
	msg.Content = append([]models.ContentBlock{models.TextBlock(b.String())}, msg.Content...)
	return msg
}

// callProvider wraps one model call in the retry envelope, with a span per
// logical call and a per-attempt timeout.
func (a *Agent) callProvider(ctx context.Context, window []models.Message) (*provider.Response, error) {
	callCtx, span := a.tracer.Start(ctx, "provider_call")
	defer span.End()

	req := &provider.Request{
		Messages:  window,
		System:    a.systemPrompt(),
		Tools:     a.registry.Definitions(),
		MaxTokens: a.config.MaxTokens,
	}

	resp, result := retry.DoWithValue(callCtx, a.config.Retry, "provider.send_message", func(ctx context.Context) (*provider.Response, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, a.config.PerAttemptTimeout)
		defer cancel()
		return a.provider.SendMessage(attemptCtx, req)
	})

	a.tracer.SetAttributes(span,
		"llm.provider", a.provider.Name(),
		"llm.model", a.provider.Model(),
		"retry.attempts", result.Attempts,
	)
	if result.Err != nil {
		a.tracer.RecordError(span, result.Err)
		return nil, result.Err
	}
	a.tracer.SetAttributes(span,
		"llm.stop_reason", resp.StopReason,
		"llm.input_tokens", resp.Usage.InputTokens,
		"llm.output_tokens", resp.Usage.OutputTokens,
	)
	return resp, nil
}

func (a *Agent) systemPrompt() string {
	if a.config.SystemPrompt != "" {
		return a.config.SystemPrompt
	}
	return defaultSystemPrompt
}

// contextWindow keeps the most recent MaxMessages messages. The window is
// extended backwards while its first message carries tool_result blocks
// whose tool_use lives outside, so every retained tool_result keeps its
// matching tool_use.
func (a *Agent) contextWindow(messages []models.Message) ([]models.Message, int) {
	if len(messages) <= a.config.MaxMessages {
		return messages, 0
	}
	start := len(messages) - a.config.MaxMessages
	for start > 0 && startsWithOrphanResult(messages, start) {
		start--
	}
	return messages[start:], start
}

// startsWithOrphanResult reports whether messages[start] contains a
// tool_result whose tool_use appears before start.
func startsWithOrphanResult(messages []models.Message, start int) bool {
	inWindow := make(map[string]bool)
	for _, m := range messages[start:] {
		for _, b := range m.Content {
			if b.Type == models.BlockToolUse {
				inWindow[b.ID] = true
			}
		}
	}
	for _, b := range messages[start].Content {
		if b.Type == models.BlockToolResult && !inWindow[b.ToolUseID] {
			return true
		}
	}
	return false
}

// recordVerdict extracts a structured verdict from the final text and
// stores it as a memory. Failures never propagate into the turn result.
func (a *Agent) recordVerdict(ctx context.Context, userText, finalText string) {
	if a.memory == nil || finalText == "" {
		return
	}
	verdict, ok := ExtractVerdict(finalText)
	if !ok {
		return
	}
	if verdict.FeatureID == "" {
		verdict.FeatureID = extractFeatureID(userText)
	}
	if verdict.FeatureID == "" {
		return
	}

	storeCtx, span := a.tracer.Start(ctx, "store_memory")
	defer span.End()

	id, err := a.memory.Store(storeCtx, &models.Memory{
		FeatureID:     verdict.FeatureID,
		Decision:      verdict.Decision,
		Justification: verdict.Justification,
		KeyFindings:   verdict.KeyFindings,
		Timestamp:     time.Now().UTC(),
	})
	if err != nil {
		a.tracer.SetAttributes(span, "memory.error", err.Error())
		a.logger.Warn(ctx, "failed to store assessment memory", "error", err)
		return
	}
	a.tracer.SetAttributes(span, "memory.id", id, "memory.feature_id", verdict.FeatureID)
}

const defaultSystemPrompt = `You are a release-readiness investigation agent. Given a question about a
software feature, gather evidence with the available tools (ticket metadata,
test and metric reports, planning documents, stakeholder reviews), then
deliver a verdict. End your final answer with:

DECISION: ready | not_ready | borderline
JUSTIFICATION: <one concise paragraph citing the evidence>`
