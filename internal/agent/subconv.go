package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/haasonsaas/verdict/internal/observability"
	"github.com/haasonsaas/verdict/internal/provider"
	"github.com/haasonsaas/verdict/internal/retry"
	"github.com/haasonsaas/verdict/pkg/models"
)

// subConvSystemPrompt instructs the summarization model. It extracts only
// material relevant to the readiness question; everything else is noise the
// parent context must not pay for.
const subConvSystemPrompt = `You are analyzing a large tool output on behalf of a release-readiness
assessment agent. Extract only the information relevant to deciding whether
the feature under assessment is ready to promote: concrete metrics, test
results, failures, risks, blockers, approvals, and open questions. Cite
specific numbers and names from the content. Do not editorialize or pad;
answer with the distilled findings only.`

// summaryWarnRatio marks summaries that failed to compress well.
const summaryWarnRatio = 0.4

// fallbackKeepChars bounds each side of the head+tail fallback.
const fallbackKeepChars = 4000

// elisionMarker separates head from tail in fallback content.
const elisionMarker = "\n\n[... middle of output elided ...]\n\n"

// SubConvConfig configures the sub-conversation manager.
type SubConvConfig struct {
	// Threshold is the token estimate above which a tool result is
	// digested in an isolated sub-conversation.
	Threshold int

	// Model overrides the provider's default model for summarization;
	// empty means same model as the main loop.
	Model string

	// MaxTokens bounds the summary length.
	MaxTokens int

	// Retry wraps the summarization call.
	Retry retry.Config
}

// DefaultSubConvConfig returns the documented defaults.
func DefaultSubConvConfig() SubConvConfig {
	return SubConvConfig{
		Threshold: 5000,
		MaxTokens: 1024,
		Retry:     retry.DefaultConfig(),
	}
}

// SubConvManager prevents oversized tool outputs from poisoning the main
// context: the output is analyzed in an isolated child conversation and
// replaced by the summary. Sub-conversations never recurse: the manager is
// only invoked from the main tool loop, so depth is bounded at one.
type SubConvManager struct {
	provider  provider.Provider
	estimator *Estimator
	tracer    *observability.Tracer
	logger    *observability.Logger
	config    SubConvConfig
}

// NewSubConvManager builds a manager.
func NewSubConvManager(p provider.Provider, estimator *Estimator, tracer *observability.Tracer, logger *observability.Logger, config SubConvConfig) *SubConvManager {
	if config.Threshold <= 0 {
		config.Threshold = DefaultSubConvConfig().Threshold
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultSubConvConfig().MaxTokens
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &SubConvManager{
		provider:  p,
		estimator: estimator,
		tracer:    tracer,
		logger:    logger,
		config:    config,
	}
}

// Threshold returns the configured trigger threshold in tokens.
func (m *SubConvManager) Threshold() int {
	return m.config.Threshold
}

// Analyze digests one oversized tool result. The child conversation is
// recorded on the parent; only the summary flows back into the returned
// ToolResult. If summarization fails after retry, the result falls back to
// a head+tail truncation of the original content.
func (m *SubConvManager) Analyze(ctx context.Context, parent *models.Conversation, call models.ToolCall, result models.ToolResult, userQuery string) models.ToolResult {
	originalTokens := m.estimator.CountText(result.Content)

	var span = observability.SpanFromContext(ctx)
	if m.tracer != nil {
		var spanCtx context.Context
		spanCtx, span = m.tracer.Start(ctx, "sub_conversation")
		defer span.End()
		ctx = spanCtx
	}

	purpose := purposeFor(call)
	sub := models.SubConversation{
		ID:             uuid.NewString(),
		ParentID:       parent.ID,
		Purpose:        purpose,
		SystemPrompt:   subConvSystemPrompt,
		OriginalTokens: originalTokens,
		CreatedAt:      time.Now().UTC(),
	}

	prompt := fmt.Sprintf("The user is assessing: %s\n\nTool %s produced the following output. Extract the findings relevant to the assessment.\n\n%s",
		userQuery, call.Name, result.Content)
	sub.Messages = append(sub.Messages, models.NewTextMessage(models.RoleUser, prompt))

	summary, fallback := m.summarize(ctx, &sub)
	summaryTokens := m.estimator.CountText(summary)
	sub.Summary = summary
	sub.SummaryTokens = summaryTokens
	now := time.Now().UTC()
	sub.CompletedAt = &now

	parent.SubConversations = append(parent.SubConversations, sub)
	parent.Touch()

	ratio := sub.CompressionRatio()
	if m.tracer != nil {
		m.tracer.SetAttributes(span,
			"subconversation.id", sub.ID,
			"subconversation.purpose", purpose,
			"subconversation.original_tokens", originalTokens,
			"subconversation.summary_tokens", summaryTokens,
			"subconversation.compression_ratio", ratio,
			"fallback", fallback,
		)
		if !fallback && originalTokens > 0 && float64(summaryTokens) >= summaryWarnRatio*float64(originalTokens) {
			m.tracer.SetAttributes(span, "subconversation.low_compression", true)
		}
	}
	m.logger.Info(ctx, "sub-conversation complete",
		"purpose", purpose,
		"original_tokens", originalTokens,
		"summary_tokens", summaryTokens,
		"fallback", fallback,
	)

	return models.ToolResult{
		ToolCallID: result.ToolCallID,
		Content:    summary,
		Success:    result.Success,
		Metadata: models.ToolResultMetadata{
			SubConversationID: sub.ID,
			OriginalTokens:    originalTokens,
			SummaryTokens:     summaryTokens,
			CompressionRatio:  ratio,
			DurationMs:        result.Metadata.DurationMs,
		},
	}
}

// summarize drives the child conversation to a summary. Returns the
// summary text and whether the head+tail fallback was used.
func (m *SubConvManager) summarize(ctx context.Context, sub *models.SubConversation) (string, bool) {
	req := &provider.Request{
		Messages:  sub.Messages,
		System:    sub.SystemPrompt,
		MaxTokens: m.config.MaxTokens,
		Model:     m.config.Model,
	}

	resp, res := retry.DoWithValue(ctx, m.config.Retry, "summarize", func(ctx context.Context) (*provider.Response, error) {
		return m.provider.SendMessage(ctx, req)
	})
	if res.Err != nil {
		m.logger.Warn(ctx, "summarization failed, falling back to truncation", "error", res.Err)
		original := sub.Messages[len(sub.Messages)-1].Text()
		return headTail(original, fallbackKeepChars), true
	}

	sub.Messages = append(sub.Messages, models.Message{
		Role:      models.RoleAssistant,
		Content:   resp.Content,
		CreatedAt: time.Now().UTC(),
	})
	return provider.TextContent(resp), false
}

// purposeFor derives a human-readable purpose from the triggering call,
// e.g. `analyze read_doc(ARCHITECTURE.md)`.
func purposeFor(call models.ToolCall) string {
	arg := ""
	if len(call.Input) > 0 {
		parsed := gjson.ParseBytes(call.Input)
		parsed.ForEach(func(_, value gjson.Result) bool {
			arg = value.String()
			return false
		})
	}
	if arg != "" {
		return fmt.Sprintf("analyze %s(%s)", call.Name, arg)
	}
	return fmt.Sprintf("analyze %s", call.Name)
}

// headTail keeps the head and tail of content with an elision marker in
// between. Content under the cap passes through unchanged.
func headTail(content string, keep int) string {
	if len(content) <= 2*keep+len(elisionMarker) {
		return content
	}
	head := content[:keep]
	tail := content[len(content)-keep:]
	return strings.TrimRight(head, " \t") + elisionMarker + strings.TrimLeft(tail, " \t")
}
