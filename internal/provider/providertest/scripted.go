// Package providertest provides a scripted Provider implementation for
// tests and evaluation harness development: responses play back in order
// and every request is recorded for inspection.
package providertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/haasonsaas/verdict/internal/provider"
	"github.com/haasonsaas/verdict/pkg/models"
)

// Step produces one scripted response (or error) for one call.
type Step func(req *provider.Request) (*provider.Response, error)

// Scripted is a Provider that plays back a fixed script. Calls beyond the
// script fail, which keeps runaway tool loops visible in tests.
type Scripted struct {
	mu       sync.Mutex
	steps    []Step
	calls    int
	requests []*provider.Request

	name  string
	model string
}

// New builds a scripted provider from steps.
func New(steps ...Step) *Scripted {
	return &Scripted{
		steps: steps,
		name:  "scripted",
		model: "scripted-model",
	}
}

// Name implements provider.Provider.
func (s *Scripted) Name() string { return s.name }

// Model implements provider.Provider.
func (s *Scripted) Model() string { return s.model }

// SendMessage implements provider.Provider.
func (s *Scripted) SendMessage(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	step := s.calls
	s.calls++
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if step >= len(s.steps) {
		return nil, fmt.Errorf("scripted provider exhausted after %d calls", len(s.steps))
	}
	return s.steps[step](req)
}

// Calls returns how many times SendMessage ran.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Requests returns the recorded requests in call order.
func (s *Scripted) Requests() []*provider.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*provider.Request(nil), s.requests...)
}

// Text builds a step answering with plain text.
func Text(text string) Step {
	return func(*provider.Request) (*provider.Response, error) {
		return &provider.Response{
			Content:    []models.ContentBlock{models.TextBlock(text)},
			StopReason: "end_turn",
			Usage:      provider.Usage{InputTokens: 50, OutputTokens: 20},
		}, nil
	}
}

// ToolUse builds a step requesting the given tool calls.
func ToolUse(calls ...models.ContentBlock) Step {
	return func(*provider.Request) (*provider.Response, error) {
		return &provider.Response{
			Content:    calls,
			StopReason: "tool_use",
			Usage:      provider.Usage{InputTokens: 80, OutputTokens: 40},
		}, nil
	}
}

// Fail builds a step returning err.
func Fail(err error) Step {
	return func(*provider.Request) (*provider.Response, error) {
		return nil, err
	}
}
