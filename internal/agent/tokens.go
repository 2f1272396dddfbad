package agent

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/haasonsaas/verdict/pkg/models"
)

// blockOverheadTokens approximates the per-block framing cost providers add
// around content blocks.
const blockOverheadTokens = 4

// Estimator produces cheap, deterministic token estimates for context
// accounting. It uses the cl100k_base byte-pair encoding when available and
// falls back to a bytes/4 heuristic otherwise. Estimates drive triggers
// (sub-conversation creation, context truncation) only and are never
// billed against.
type Estimator struct {
	encoding *tiktoken.Tiktoken
}

// NewEstimator builds an estimator. Failure to load the encoding is not an
// error; the heuristic path keeps the estimator total and deterministic.
func NewEstimator() *Estimator {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &Estimator{}
	}
	return &Estimator{encoding: encoding}
}

// CountText estimates tokens in a string.
func (e *Estimator) CountText(text string) int {
	if text == "" {
		return 0
	}
	if e.encoding != nil {
		return len(e.encoding.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// CountMessage estimates tokens in one message, including block framing.
func (e *Estimator) CountMessage(msg models.Message) int {
	total := 0
	for _, b := range msg.Content {
		total += blockOverheadTokens
		switch b.Type {
		case models.BlockText:
			total += e.CountText(b.Text)
		case models.BlockToolUse:
			total += e.CountText(b.Name) + e.CountText(string(b.Input))
		case models.BlockToolResult:
			total += e.CountText(b.Content)
		}
	}
	return total
}

// CountMessages estimates tokens across a message window.
func (e *Estimator) CountMessages(msgs []models.Message) int {
	total := 0
	for _, m := range msgs {
		total += e.CountMessage(m)
	}
	return total
}
