// Package main provides the CLI entry point for Verdict, the LLM-driven
// release-readiness investigation agent.
//
// # Basic Usage
//
// Start a new assessment:
//
//	verdict new "Is FEAT-MS-001 ready for production?"
//
// Continue an existing conversation by id prefix:
//
//	verdict continue 7f3a "What about the latency regressions?"
//
// Run the evaluation suite and compare against a baseline:
//
//	verdict eval --compare v1.2.0
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: provider credentials
//   - MODEL, MAX_TOKENS, MAX_MESSAGES, SUB_CONV_THRESHOLD_TOKENS
//   - CONVERSATIONS_DIR, TRACES_DIR, SYSTEM_PROMPT
//   - MCP_MEMORY_BACKEND: file | sqlite | chroma | graphiti | none
//   - MCP_ENABLED: gate for MCP tool bridging
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Exit codes contract: 0 ok, 1 generic failure, 2 unknown conversation,
// 3 evaluation regression detected.
const (
	exitOK         = 0
	exitFailure    = 1
	exitUnknown    = 2
	exitRegression = 3
)

// errRegression marks an eval run that detected a regression.
var errRegression = errors.New("evaluation regression detected")

// errUnknownConversation marks a continue against a missing or ambiguous id.
var errUnknownConversation = errors.New("unknown conversation")

func main() {
	// A local .env is a convenience, not a requirement.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		switch {
		case errors.Is(err, errUnknownConversation):
			os.Exit(exitUnknown)
		case errors.Is(err, errRegression):
			os.Exit(exitRegression)
		default:
			os.Exit(exitFailure)
		}
	}
	os.Exit(exitOK)
}
