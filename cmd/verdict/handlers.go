package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/verdict/internal/agent"
	"github.com/haasonsaas/verdict/internal/config"
	"github.com/haasonsaas/verdict/internal/conversations"
	"github.com/haasonsaas/verdict/internal/evaluator"
	"github.com/haasonsaas/verdict/internal/mcp"
	"github.com/haasonsaas/verdict/internal/mcp/bridge"
	"github.com/haasonsaas/verdict/internal/memory"
	"github.com/haasonsaas/verdict/internal/observability"
	"github.com/haasonsaas/verdict/internal/provider"
	"github.com/haasonsaas/verdict/internal/tools/release"
	"github.com/haasonsaas/verdict/pkg/models"
)

// runtime bundles everything a command needs, plus its shutdown hooks.
type runtime struct {
	cfg      config.Config
	logger   *observability.Logger
	agent    *agent.Agent
	store    *conversations.Store
	shutdown []func()
}

func (r *runtime) close() {
	for i := len(r.shutdown) - 1; i >= 0; i-- {
		r.shutdown[i]()
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// buildRuntime assembles the agent from config: provider, tracer, tool
// registry (built-ins plus bridged MCP tools), memory store, and the
// conversation store.
func buildRuntime(configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	rt := &runtime{cfg: cfg, logger: logger}

	tracer, stopTracer := observability.NewTracer(cfg.TracesDir, logger)
	rt.shutdown = append(rt.shutdown, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = stopTracer(ctx)
	})

	anthropicProvider, err := provider.NewAnthropic(provider.AnthropicConfig{
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
	})
	if err != nil {
		rt.close()
		return nil, err
	}

	store, err := conversations.NewStore(cfg.ConversationsDir)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.store = store

	registry := agent.NewRegistry(tracer, logger)
	if err := release.New(cfg.DataDir).Register(registry); err != nil {
		rt.close()
		return nil, err
	}

	ctx := context.Background()
	if cfg.MCP.Enabled {
		for _, serverCfg := range cfg.MCP.Servers {
			client := mcp.NewClient(serverCfg.ToMCP(), logger.Slog())
			if err := client.Connect(ctx); err != nil {
				logger.Warn(ctx, "skipping MCP server", "server", serverCfg.ID, "error", err)
				continue
			}
			rt.shutdown = append(rt.shutdown, func() { _ = client.Close() })
			names, err := bridge.Tools(client, registry, logger)
			if err != nil {
				logger.Warn(ctx, "failed to bridge MCP tools", "server", serverCfg.ID, "error", err)
				continue
			}
			logger.Info(ctx, "bridged MCP tools", "server", serverCfg.ID, "count", len(names))
		}
	}

	memStore, err := memory.Open(ctx, memory.Config{
		Backend: cfg.Memory.Backend,
		Dir:     cfg.Memory.Dir,
		Path:    cfg.Memory.Path,
		Server:  cfg.Memory.Server.ToMCP(),
	}, logger)
	if err != nil {
		logger.Warn(ctx, "memory backend unavailable, continuing without recall", "error", err)
		memStore = nil
	}
	if memStore != nil {
		rt.shutdown = append(rt.shutdown, func() { _ = memStore.Close() })
	}

	agentCfg := agent.DefaultConfig()
	agentCfg.SystemPrompt = cfg.SystemPrompt
	agentCfg.MaxMessages = cfg.MaxMessages
	agentCfg.MaxTokens = cfg.MaxTokens
	agentCfg.SubConv.Threshold = cfg.SubConvThresholdTokens
	agentCfg.SubConv.Model = cfg.SummaryModel

	a, err := agent.New(anthropicProvider, registry, store, memStore, tracer, logger, agentCfg)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.agent = a
	return rt, nil
}

func runNew(cmd *cobra.Command, configPath, question string) error {
	rt, err := buildRuntime(configPath)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := signalContext()
	defer cancel()

	conv := rt.agent.NewConversation()
	answer, err := rt.agent.SendMessage(ctx, conv, question)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), answer)
	fmt.Fprintf(cmd.OutOrStdout(), "\nconversation: %s\n", conv.ID)
	return nil
}

func runContinue(cmd *cobra.Command, configPath, idPrefix, question string) error {
	rt, err := buildRuntime(configPath)
	if err != nil {
		return err
	}
	defer rt.close()

	conv, err := rt.store.Load(idPrefix)
	if err != nil {
		if errors.Is(err, conversations.ErrNotFound) || errors.Is(err, conversations.ErrAmbiguous) {
			return fmt.Errorf("%w: %v", errUnknownConversation, err)
		}
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	answer, err := rt.agent.SendMessage(ctx, conv, question)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), answer)
	return nil
}

func runList(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, err := conversations.NewStore(cfg.ConversationsDir)
	if err != nil {
		return err
	}

	entries, err := store.ListAll()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no conversations")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", e.ID, e.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func runEval(cmd *cobra.Command, configPath, scenariosPath, saveBaseline, compareBaseline string) error {
	rt, err := buildRuntime(configPath)
	if err != nil {
		return err
	}
	defer rt.close()

	scenarios := evaluator.DefaultScenarios()
	if scenariosPath != "" {
		scenarios, err = evaluator.LoadScenarios(scenariosPath)
		if err != nil {
			return err
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	eval := evaluator.New(rt.logger)
	suite := eval.RunSuite(ctx, rt.agent, scenarios)
	printSuite(cmd, suite)

	if saveBaseline != "" {
		baselines, err := evaluator.NewBaselines(rt.cfg.BaselinesDir)
		if err != nil {
			return err
		}
		if err := baselines.Save(suite, saveBaseline); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "baseline saved: %s\n", saveBaseline)
	}

	if compareBaseline != "" {
		baselines, err := evaluator.NewBaselines(rt.cfg.BaselinesDir)
		if err != nil {
			return err
		}
		baseline, err := baselines.Load(compareBaseline)
		if err != nil {
			return err
		}
		comparison := evaluator.Compare(suite, baseline)
		printComparison(cmd, comparison)
		if comparison.HasRegression {
			return errRegression
		}
	}
	return nil
}

func runTrace(cmd *cobra.Command, configPath, traceID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	records, err := observability.ReadTraceFile(filepath.Join(cfg.TracesDir, traceID+".json"))
	if err != nil {
		return fmt.Errorf("load trace %s: %w", traceID, err)
	}

	byParent := map[string][]observability.SpanRecord{}
	for _, r := range records {
		byParent[r.ParentSpanID] = append(byParent[r.ParentSpanID], r)
	}
	var print func(parent string, depth int)
	print = func(parent string, depth int) {
		children := byParent[parent]
		sort.Slice(children, func(i, j int) bool {
			return children[i].StartTime.Before(children[j].StartTime)
		})
		for _, r := range children {
			fmt.Fprintf(cmd.OutOrStdout(), "%s%s  %.1fms  [%s]\n",
				strings.Repeat("  ", depth), r.Name, r.DurationMs, r.Status)
			print(r.SpanID, depth+1)
		}
	}
	print("", 0)
	return nil
}

func printSuite(cmd *cobra.Command, suite *models.SuiteResults) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "scenarios: %d  passed: %d  pass rate: %.0f%%  duration: %s\n",
		suite.Total, suite.Passed, suite.PassRate*100, suite.Duration.Round(time.Millisecond))
	dims := make([]string, 0, len(suite.AvgScores))
	for dim := range suite.AvgScores {
		dims = append(dims, dim)
	}
	sort.Strings(dims)
	for _, dim := range dims {
		fmt.Fprintf(out, "  %-24s %.2f\n", dim, suite.AvgScores[dim])
	}
	for _, result := range suite.ScenarioResults {
		status := "PASS"
		if !result.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(out, "  %s %-32s overall=%.2f", status, result.ScenarioID, result.Scores[models.DimOverall])
		if result.Error != "" {
			fmt.Fprintf(out, "  error=%s", result.Error)
		}
		fmt.Fprintln(out)
	}
}

func printComparison(cmd *cobra.Command, comparison *models.Comparison) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "compared to baseline %s:\n", comparison.BaselineVersion)
	dims := make([]string, 0, len(comparison.Deltas))
	for dim := range comparison.Deltas {
		dims = append(dims, dim)
	}
	sort.Strings(dims)
	for _, dim := range dims {
		fmt.Fprintf(out, "  %-24s %+.3f\n", dim, comparison.Deltas[dim])
	}
	if len(comparison.Regressions) > 0 {
		fmt.Fprintf(out, "regressions: %s\n", strings.Join(comparison.Regressions, ", "))
	}
	if len(comparison.Improvements) > 0 {
		fmt.Fprintf(out, "improvements: %s\n", strings.Join(comparison.Improvements, ", "))
	}
}
