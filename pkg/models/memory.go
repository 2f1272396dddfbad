package models

import (
	"fmt"
	"time"
)

// Decision is the closed set of readiness verdicts.
type Decision string

const (
	DecisionReady      Decision = "ready"
	DecisionNotReady   Decision = "not_ready"
	DecisionBorderline Decision = "borderline"
)

// ParseDecision converts a decision string to a Decision, rejecting values
// outside the closed set. The match is exact; case and spacing are not
// normalized.
func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case DecisionReady, DecisionNotReady, DecisionBorderline:
		return Decision(s), nil
	}
	return "", fmt.Errorf("unknown decision %q", s)
}

// Memory is one persisted assessment outcome, retrievable on later
// assessments of the same or related features.
type Memory struct {
	ID            string         `json:"id"`
	FeatureID     string         `json:"feature_id"`
	Decision      Decision       `json:"decision"`
	Justification string         `json:"justification"`
	KeyFindings   map[string]any `json:"key_findings,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}
