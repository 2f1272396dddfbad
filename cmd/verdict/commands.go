package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "verdict",
		Short:         "LLM-driven release readiness assessments",
		Long:          "Verdict investigates whether a software feature is ready to promote,\ngathering evidence through tools and producing a structured decision.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "verdict.yaml", "path to optional config file")

	root.AddCommand(newNewCmd(&configPath))
	root.AddCommand(newContinueCmd(&configPath))
	root.AddCommand(newListCmd(&configPath))
	root.AddCommand(newEvalCmd(&configPath))
	root.AddCommand(newTraceCmd(&configPath))
	return root
}

func newNewCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "new <question>",
		Short: "Start a new assessment conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNew(cmd, *configPath, args[0])
		},
	}
}

func newContinueCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "continue <id-prefix> <question>",
		Short: "Continue an existing conversation by id prefix",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContinue(cmd, *configPath, args[0], args[1])
		},
	}
}

func newListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, *configPath)
		},
	}
}

func newEvalCmd(configPath *string) *cobra.Command {
	var scenariosPath string
	var saveBaseline string
	var compareBaseline string

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Run the evaluation suite",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd, *configPath, scenariosPath, saveBaseline, compareBaseline)
		},
	}
	cmd.Flags().StringVar(&scenariosPath, "scenarios", "", "scenario suite file (defaults to the built-in suite)")
	cmd.Flags().StringVar(&saveBaseline, "baseline", "", "save results as baseline under this version")
	cmd.Flags().StringVar(&compareBaseline, "compare", "", "compare results against this baseline version")
	return cmd
}

func newTraceCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "trace <trace-id>",
		Short: "Pretty-print one trace file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd, *configPath, args[0])
		},
	}
}
