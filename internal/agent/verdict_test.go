package agent

import (
	"testing"

	"github.com/haasonsaas/verdict/pkg/models"
)

func TestExtractVerdict(t *testing.T) {
	text := `FEAT-MS-001 has a green test suite and sign-off from both stakeholders.

DECISION: ready
JUSTIFICATION: All 412 tests passing, error rate 0.02%, and the review was approved on May 3.`

	verdict, ok := ExtractVerdict(text)
	if !ok {
		t.Fatal("ExtractVerdict() = false")
	}
	if verdict.Decision != models.DecisionReady {
		t.Errorf("decision = %s, want ready", verdict.Decision)
	}
	if verdict.FeatureID != "FEAT-MS-001" {
		t.Errorf("feature id = %q", verdict.FeatureID)
	}
	if verdict.Justification == "" || verdict.Justification[:3] != "All" {
		t.Errorf("justification = %q", verdict.Justification)
	}
}

func TestExtractVerdict_SpaceSeparatedDecision(t *testing.T) {
	verdict, ok := ExtractVerdict("DECISION: Not Ready\nJUSTIFICATION: checkout failures remain.")
	if !ok {
		t.Fatal("ExtractVerdict() = false")
	}
	if verdict.Decision != models.DecisionNotReady {
		t.Errorf("decision = %s, want not_ready", verdict.Decision)
	}
}

func TestExtractVerdict_NoMarker(t *testing.T) {
	if _, ok := ExtractVerdict("I could not reach a conclusion."); ok {
		t.Error("expected no verdict without marker")
	}
}

func TestExtractVerdict_UnknownDecision(t *testing.T) {
	if _, ok := ExtractVerdict("DECISION: maybe"); ok {
		t.Error("expected rejection of decision outside the closed set")
	}
}

func TestExtractFeatureID(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Is FEAT-MS-001 ready for production?", "FEAT-MS-001"},
		{"Can we promote FEAT-QR-002?", "FEAT-QR-002"},
		{"check the checkout flow", ""},
		{"PROJ-123 blocked by INFRA-9", "PROJ-123"},
	}
	for _, tt := range tests {
		if got := extractFeatureID(tt.text); got != tt.want {
			t.Errorf("extractFeatureID(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
