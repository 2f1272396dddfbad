package models

import "time"

// Scenario is a scripted user query with expected behavioral outcomes.
// Scenarios are immutable once loaded.
type Scenario struct {
	ID                    string   `json:"id"`
	Query                 string   `json:"query"`
	ExpectedFeatureID     string   `json:"expected_feature_id,omitempty"`
	ExpectedTools         []string `json:"expected_tools"`
	ExpectedDecision      Decision `json:"expected_decision"`
	JustificationKeywords []string `json:"justification_keywords"`
	ExpectSubConversation bool     `json:"expect_subconversation"`
}

// Scoring dimension names.
const (
	DimFeatureIdentification = "feature_identification"
	DimToolUsage             = "tool_usage"
	DimDecisionQuality       = "decision_quality"
	DimContextManagement     = "context_management"
	DimOverall               = "overall"
)

// EvaluationResult is the scored outcome of running one scenario.
type EvaluationResult struct {
	ScenarioID string             `json:"scenario_id"`
	Scores     map[string]float64 `json:"scores"`
	Passed     bool               `json:"passed"`
	Details    map[string]string  `json:"details,omitempty"`
	Duration   time.Duration      `json:"duration"`
	Error      string             `json:"error,omitempty"`
}

// SuiteResults aggregates a full evaluation run.
type SuiteResults struct {
	Total           int                `json:"total"`
	Passed          int                `json:"passed"`
	PassRate        float64            `json:"pass_rate"`
	AvgScores       map[string]float64 `json:"avg_scores"`
	ScenarioResults []EvaluationResult `json:"scenario_results"`
	Duration        time.Duration      `json:"duration"`
}

// Baseline is a persisted SuiteResults snapshot used for regression tracking.
type Baseline struct {
	Version   string       `json:"version"`
	Timestamp time.Time    `json:"timestamp"`
	Summary   SuiteResults `json:"summary"`
}

// Comparison is the per-dimension delta between a run and a baseline.
type Comparison struct {
	BaselineVersion string             `json:"baseline_version"`
	Deltas          map[string]float64 `json:"deltas"`
	HasRegression   bool               `json:"has_regression"`
	Regressions     []string           `json:"regressions"`
	Improvements    []string           `json:"improvements"`
}
