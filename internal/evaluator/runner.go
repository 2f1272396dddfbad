package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/verdict/internal/agent"
	"github.com/haasonsaas/verdict/internal/observability"
	"github.com/haasonsaas/verdict/pkg/models"
)

// Runner is what the evaluator drives: one agent turn per scenario on a
// fresh conversation. *agent.Agent satisfies it.
type Runner interface {
	NewConversation() *models.Conversation
	SendMessage(ctx context.Context, conv *models.Conversation, userText string) (string, error)
}

// Evaluator runs scenarios sequentially and aggregates scores. Provider
// rate limits dominate latency, so there is no scenario parallelism.
type Evaluator struct {
	weights       Weights
	passThreshold float64
	logger        *observability.Logger
}

// Option mutates evaluator construction.
type Option func(*Evaluator)

// WithWeights overrides the scoring weights.
func WithWeights(w Weights) Option {
	return func(e *Evaluator) { e.weights = w }
}

// WithPassThreshold overrides the pass threshold.
func WithPassThreshold(threshold float64) Option {
	return func(e *Evaluator) { e.passThreshold = threshold }
}

// New builds an evaluator.
func New(logger *observability.Logger, opts ...Option) *Evaluator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	e := &Evaluator{
		weights:       DefaultWeights(),
		passThreshold: DefaultPassThreshold,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunScenario executes one scenario and scores the resulting behavior. A
// scenario whose execution errors scores zero in every dimension; the
// error is recorded, not raised.
func (e *Evaluator) RunScenario(ctx context.Context, runner Runner, scenario *models.Scenario) models.EvaluationResult {
	start := time.Now()
	result := models.EvaluationResult{
		ScenarioID: scenario.ID,
		Scores:     map[string]float64{},
		Details:    map[string]string{},
	}

	conv := runner.NewConversation()
	finalText, err := runner.SendMessage(ctx, conv, scenario.Query)
	if err != nil {
		result.Error = err.Error()
		result.Duration = time.Since(start)
		for _, dim := range []string{models.DimFeatureIdentification, models.DimToolUsage, models.DimDecisionQuality, models.DimContextManagement, models.DimOverall} {
			result.Scores[dim] = 0.0
		}
		e.logger.Warn(ctx, "scenario errored", "scenario", scenario.ID, "error", err)
		return result
	}

	observed := observe(conv, finalText)
	result.Scores = Score(scenario, observed, e.weights)
	result.Passed = result.Scores[models.DimOverall] >= e.passThreshold
	result.Duration = time.Since(start)
	result.Details["decision"] = string(observed.Decision)
	result.Details["called_tools"] = fmt.Sprintf("%v", observed.CalledTools)
	result.Details["used_subconversation"] = fmt.Sprintf("%v", observed.UsedSubConversation)
	return result
}

// RunSuite executes every scenario in order and aggregates the results.
// It always returns SuiteResults, even when scenarios errored.
func (e *Evaluator) RunSuite(ctx context.Context, runner Runner, scenarios []*models.Scenario) *models.SuiteResults {
	start := time.Now()
	suite := &models.SuiteResults{
		Total:     len(scenarios),
		AvgScores: map[string]float64{},
	}

	dimTotals := map[string]float64{}
	dimCounts := map[string]int{}
	for _, scenario := range scenarios {
		result := e.RunScenario(ctx, runner, scenario)
		suite.ScenarioResults = append(suite.ScenarioResults, result)
		if result.Passed {
			suite.Passed++
		}
		for dim, score := range result.Scores {
			dimTotals[dim] += score
			dimCounts[dim]++
		}
		e.logger.Info(ctx, "scenario complete",
			"scenario", scenario.ID,
			"overall", result.Scores[models.DimOverall],
			"passed", result.Passed,
		)
	}

	if suite.Total > 0 {
		suite.PassRate = float64(suite.Passed) / float64(suite.Total)
	}
	for dim, total := range dimTotals {
		suite.AvgScores[dim] = total / float64(dimCounts[dim])
	}
	suite.Duration = time.Since(start)
	return suite
}

// observe derives the scored behavior from the conversation the run
// produced.
func observe(conv *models.Conversation, finalText string) *Observed {
	observed := &Observed{
		FinalText:           finalText,
		UsedSubConversation: len(conv.SubConversations) > 0,
	}
	for _, msg := range conv.Messages {
		if msg.Role != models.RoleAssistant {
			continue
		}
		if text := msg.Text(); text != "" {
			observed.AssistantTexts = append(observed.AssistantTexts, text)
		}
		for _, use := range msg.ToolUses() {
			observed.CalledTools = append(observed.CalledTools, use.Name)
		}
	}
	if verdict, ok := agent.ExtractVerdict(finalText); ok {
		observed.Decision = verdict.Decision
	}
	return observed
}
