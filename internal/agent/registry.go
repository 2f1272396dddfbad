package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/verdict/internal/observability"
	"github.com/haasonsaas/verdict/pkg/models"
)

// Handler executes one tool call. Returning a string passes through
// verbatim; any other value is serialized to JSON for the model. A returned
// error becomes a failed ToolResult, never an aborted turn.
type Handler func(ctx context.Context, input json.RawMessage) (any, error)

var toolNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type registeredTool struct {
	def     models.ToolDefinition
	schema  *jsonschema.Schema
	handler Handler
}

// Registry manages tool registration, discovery, validation and execution.
// Tools are registered once at startup and never unregistered during a
// session.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*registeredTool
	order  []string
	tracer *observability.Tracer
	logger *observability.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(tracer *observability.Tracer, logger *observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Registry{
		tools:  make(map[string]*registeredTool),
		tracer: tracer,
		logger: logger,
	}
}

// Register adds a tool. Registering the same name twice is an error, as is
// a name outside [a-zA-Z_][a-zA-Z0-9_]* or an input schema that does not
// compile as JSON Schema.
func (r *Registry) Register(name, description string, inputSchema json.RawMessage, handler Handler) error {
	if !toolNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidToolName, name)
	}
	if handler == nil {
		return fmt.Errorf("tool %s: nil handler", name)
	}
	schema, err := jsonschema.CompileString(name+".schema.json", string(inputSchema))
	if err != nil {
		return fmt.Errorf("tool %s: invalid input schema: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrToolNameTaken, name)
	}
	r.tools[name] = &registeredTool{
		def: models.ToolDefinition{
			Name:        name,
			Description: description,
			InputSchema: inputSchema,
		},
		schema:  schema,
		handler: handler,
	}
	r.order = append(r.order, name)
	return nil
}

// Definitions returns the canonical tool definitions in registration order,
// the form emitted to the provider.
func (r *Registry) Definitions() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]models.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].def)
	}
	return defs
}

// Has reports whether a tool name resolves.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Execute validates and runs one tool call. Failures of any kind (unknown
// tool, invalid input, handler error or panic) are reported through the
// returned ToolResult so the model can correct course on its next turn.
func (r *Registry) Execute(ctx context.Context, call models.ToolCall) models.ToolResult {
	start := time.Now()

	span := observability.SpanFromContext(ctx)
	if r.tracer != nil {
		var spanCtx context.Context
		spanCtx, span = r.tracer.Start(ctx, "execute_tool")
		defer span.End()
		r.tracer.SetAttributes(span, "tool.name", call.Name, "tool.call_id", call.ID)
		ctx = spanCtx
	}

	result := r.execute(ctx, call)
	result.Metadata.DurationMs = time.Since(start).Milliseconds()

	if r.tracer != nil {
		r.tracer.SetAttributes(span,
			"tool.success", result.Success,
			"tool.duration_ms", result.Metadata.DurationMs,
		)
	}
	if !result.Success {
		r.logger.Warn(ctx, "tool execution failed", "tool", call.Name, "error", result.Content)
	}
	return result
}

func (r *Registry) execute(ctx context.Context, call models.ToolCall) models.ToolResult {
	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return failedResult(call.ID, fmt.Sprintf("unknown tool: %s", call.Name))
	}

	input := call.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return failedResult(call.ID, fmt.Sprintf("invalid input for %s: %v", call.Name, err))
	}
	if err := tool.schema.Validate(decoded); err != nil {
		return failedResult(call.ID, fmt.Sprintf("input for %s failed schema validation: %v", call.Name, err))
	}

	output, err := runHandler(ctx, tool.handler, input)
	if err != nil {
		return failedResult(call.ID, err.Error())
	}

	content, err := encodeOutput(output)
	if err != nil {
		return failedResult(call.ID, fmt.Sprintf("tool %s returned unserializable output: %v", call.Name, err))
	}
	return models.ToolResult{
		ToolCallID: call.ID,
		Content:    content,
		Success:    true,
	}
}

// runHandler isolates handler panics so a misbehaving tool cannot abort the
// turn.
func runHandler(ctx context.Context, handler Handler, input json.RawMessage) (output any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool panicked: %v", rec)
		}
	}()
	return handler(ctx, input)
}

func encodeOutput(output any) (string, error) {
	switch v := output.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.RawMessage:
		return string(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func failedResult(callID, message string) models.ToolResult {
	return models.ToolResult{
		ToolCallID: callID,
		Content:    message,
		Success:    false,
	}
}
