package agent

import (
	"regexp"
	"strings"

	"github.com/haasonsaas/verdict/pkg/models"
)

// Verdict is the structured outcome extracted from a final assistant
// response.
type Verdict struct {
	FeatureID     string
	Decision      models.Decision
	Justification string
	KeyFindings   map[string]any
}

var (
	decisionRe      = regexp.MustCompile(`(?im)^\s*DECISION:\s*([a-z_ ]+?)\s*$`)
	justificationRe = regexp.MustCompile(`(?is)JUSTIFICATION:\s*(.+?)(?:\n\s*\n|\z)`)
	featureIDRe     = regexp.MustCompile(`\b[A-Z][A-Z0-9]*(?:-[A-Z0-9]+){1,}\b`)
)

// ExtractVerdict parses the DECISION/JUSTIFICATION markers out of the
// assistant's final text. Parsing is tolerant: decision matching is
// case-insensitive and accepts "not ready" for "not_ready".
func ExtractVerdict(text string) (Verdict, bool) {
	match := decisionRe.FindStringSubmatch(text)
	if match == nil {
		return Verdict{}, false
	}
	raw := strings.ToLower(strings.TrimSpace(match[1]))
	raw = strings.ReplaceAll(raw, " ", "_")
	decision, err := models.ParseDecision(raw)
	if err != nil {
		return Verdict{}, false
	}

	verdict := Verdict{
		Decision:  decision,
		FeatureID: extractFeatureID(text),
	}
	if jm := justificationRe.FindStringSubmatch(text); jm != nil {
		verdict.Justification = strings.TrimSpace(jm[1])
	}
	if verdict.Justification == "" {
		verdict.Justification = strings.TrimSpace(text)
	}
	return verdict, true
}

// extractFeatureID finds the first ticket-style identifier (e.g.
// FEAT-MS-001) in text, empty when none appears.
func extractFeatureID(text string) string {
	return featureIDRe.FindString(text)
}
