// Package evaluator scores agent behavior against scripted scenarios and
// tracks regressions across persisted baselines.
package evaluator

import (
	"strings"

	"github.com/haasonsaas/verdict/pkg/models"
)

// Weights assigns the relative importance of each scoring dimension.
type Weights struct {
	FeatureIdentification float64
	ToolUsage             float64
	DecisionQuality       float64
	ContextManagement     float64
}

// DefaultWeights returns the standard dimension weights.
func DefaultWeights() Weights {
	return Weights{
		FeatureIdentification: 0.2,
		ToolUsage:             0.3,
		DecisionQuality:       0.4,
		ContextManagement:     0.1,
	}
}

// DefaultPassThreshold is the overall score required to pass a scenario.
const DefaultPassThreshold = 0.7

// Observed captures what the agent actually did during a scenario run. The
// runner assembles it from the conversation and the final response.
type Observed struct {
	// AssistantTexts are the text contents of every assistant message.
	AssistantTexts []string

	// FinalText is the agent's final response.
	FinalText string

	// CalledTools are the tool names invoked, in call order (a multiset:
	// repeats count).
	CalledTools []string

	// Decision is the verdict parsed from the final text, empty when the
	// agent reported none.
	Decision models.Decision

	// UsedSubConversation reports whether any tool output was digested in
	// isolation.
	UsedSubConversation bool
}

// decisionAdjacency is the linear chain ready–borderline–not_ready. A
// different business rule only needs a different map.
var decisionAdjacency = map[models.Decision][]models.Decision{
	models.DecisionReady:      {models.DecisionBorderline},
	models.DecisionBorderline: {models.DecisionReady, models.DecisionNotReady},
	models.DecisionNotReady:   {models.DecisionBorderline},
}

// Score computes the dimension scores and weighted overall for one
// scenario. When the scenario names no expected feature id, that dimension
// is skipped and its weight is redistributed proportionally.
func Score(scenario *models.Scenario, observed *Observed, weights Weights) map[string]float64 {
	scores := make(map[string]float64)

	hasFeatureDim := scenario.ExpectedFeatureID != ""
	if hasFeatureDim {
		scores[models.DimFeatureIdentification] = scoreFeatureIdentification(scenario, observed)
	}
	scores[models.DimToolUsage] = scoreToolUsage(scenario.ExpectedTools, observed.CalledTools)
	scores[models.DimDecisionQuality] = scoreDecisionQuality(scenario, observed)
	scores[models.DimContextManagement] = scoreContextManagement(scenario, observed)

	type weighted struct {
		dim    string
		weight float64
	}
	dims := []weighted{
		{models.DimToolUsage, weights.ToolUsage},
		{models.DimDecisionQuality, weights.DecisionQuality},
		{models.DimContextManagement, weights.ContextManagement},
	}
	if hasFeatureDim {
		dims = append(dims, weighted{models.DimFeatureIdentification, weights.FeatureIdentification})
	}

	var totalWeight, overall float64
	for _, d := range dims {
		totalWeight += d.weight
	}
	for _, d := range dims {
		overall += scores[d.dim] * (d.weight / totalWeight)
	}
	scores[models.DimOverall] = overall
	return scores
}

// scoreFeatureIdentification is 1.0 when the expected feature id appears in
// any assistant message.
func scoreFeatureIdentification(scenario *models.Scenario, observed *Observed) float64 {
	for _, text := range observed.AssistantTexts {
		if strings.Contains(text, scenario.ExpectedFeatureID) {
			return 1.0
		}
	}
	return 0.0
}

// scoreToolUsage is the F1 of the called tool multiset against the
// expected multiset. Both empty scores 1.0.
func scoreToolUsage(expected, called []string) float64 {
	if len(expected) == 0 && len(called) == 0 {
		return 1.0
	}
	if len(expected) == 0 || len(called) == 0 {
		return 0.0
	}

	expectedCounts := multiset(expected)
	calledCounts := multiset(called)
	overlap := 0
	for name, n := range calledCounts {
		if m, ok := expectedCounts[name]; ok {
			overlap += min(n, m)
		}
	}
	if overlap == 0 {
		return 0.0
	}

	precision := float64(overlap) / float64(len(called))
	recall := float64(overlap) / float64(len(expected))
	return 2 * precision * recall / (precision + recall)
}

// scoreDecisionQuality awards 0.5 for the exact decision, 0.3 for an
// adjacent one, plus 0.1 per justification keyword found in the final
// text, capped at 1.0.
func scoreDecisionQuality(scenario *models.Scenario, observed *Observed) float64 {
	score := 0.0
	switch {
	case observed.Decision == "":
		// No verdict reported: keyword credit only.
	case strings.EqualFold(string(observed.Decision), string(scenario.ExpectedDecision)):
		score = 0.5
	case isAdjacent(observed.Decision, scenario.ExpectedDecision):
		score = 0.3
	}

	finalLower := strings.ToLower(observed.FinalText)
	for _, keyword := range scenario.JustificationKeywords {
		if strings.Contains(finalLower, strings.ToLower(keyword)) {
			score += 0.1
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func scoreContextManagement(scenario *models.Scenario, observed *Observed) float64 {
	if scenario.ExpectSubConversation == observed.UsedSubConversation {
		return 1.0
	}
	return 0.0
}

func isAdjacent(a, b models.Decision) bool {
	for _, adj := range decisionAdjacency[b] {
		if strings.EqualFold(string(adj), string(a)) {
			return true
		}
	}
	return false
}

func multiset(names []string) map[string]int {
	counts := make(map[string]int, len(names))
	for _, n := range names {
		counts[n]++
	}
	return counts
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
