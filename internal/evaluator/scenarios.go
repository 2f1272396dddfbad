package evaluator

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/haasonsaas/verdict/pkg/models"
)

// LoadScenarios reads a scenario suite from a JSON file: an array of
// scenario objects.
func LoadScenarios(path string) ([]*models.Scenario, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- scenario paths come from operator config
	if err != nil {
		return nil, fmt.Errorf("read scenarios: %w", err)
	}
	var scenarios []*models.Scenario
	if err := json.Unmarshal(data, &scenarios); err != nil {
		return nil, fmt.Errorf("parse scenarios %s: %w", path, err)
	}
	for i, s := range scenarios {
		if s.ID == "" {
			return nil, fmt.Errorf("scenario %d: missing id", i)
		}
		if s.Query == "" {
			return nil, fmt.Errorf("scenario %s: missing query", s.ID)
		}
	}
	return scenarios, nil
}

// DefaultScenarios returns the built-in suite covering the seed behaviors:
// a green feature, a failing feature, and a large-document assessment that
// must trigger sub-conversation compression.
func DefaultScenarios() []*models.Scenario {
	return []*models.Scenario{
		{
			ID:                    "green-feature-ready",
			Query:                 "Is FEAT-MS-001 ready for production?",
			ExpectedFeatureID:     "FEAT-MS-001",
			ExpectedTools:         []string{"get_jira_data", "get_analysis"},
			ExpectedDecision:      models.DecisionReady,
			JustificationKeywords: []string{"tests", "passing", "approved"},
			ExpectSubConversation: false,
		},
		{
			ID:                    "failing-feature-not-ready",
			Query:                 "Can we promote FEAT-QR-002?",
			ExpectedFeatureID:     "FEAT-QR-002",
			ExpectedTools:         []string{"get_jira_data", "get_analysis"},
			ExpectedDecision:      models.DecisionNotReady,
			JustificationKeywords: []string{"failures", "error"},
			ExpectSubConversation: false,
		},
		{
			ID:                    "large-docs-subconversation",
			Query:                 "Review the architecture documentation for FEAT-MS-001 and assess readiness.",
			ExpectedFeatureID:     "FEAT-MS-001",
			ExpectedTools:         []string{"list_docs", "read_doc"},
			ExpectedDecision:      models.DecisionReady,
			JustificationKeywords: []string{"documentation"},
			ExpectSubConversation: true,
		},
	}
}
