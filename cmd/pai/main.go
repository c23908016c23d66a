// Package main provides the CLI entry point for the PAI agent platform.
//
// PAI runs a fleet of tool-using LLM agents over a Redis bus with a
// three-tier learning memory (Redis, Qdrant, filesystem archive).
//
// # Basic Usage
//
// Start the agent fleet:
//
//	pai serve --config pai.yaml
//
// Dispatch a one-off task and wait for the result:
//
//	pai dispatch --agent developer --message "list the files in /tmp"
//
// # Environment Variables
//
//   - PAI_CONFIG: Path to configuration file (default: pai.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for the agent LLM
//   - OPENAI_API_KEY: OpenAI API key for embeddings
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "pai",
		Short:        "PAI - multi-agent AI platform",
		Long:         `PAI runs tool-using LLM agents over a shared bus with layered learning memory.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildDispatchCmd(),
	)
	return rootCmd
}

func defaultConfigPath() string {
	if path := os.Getenv("PAI_CONFIG"); path != "" {
		return path
	}
	return "pai.yaml"
}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the configured agent fleet",
		Long: `Start every configured agent with the shared infrastructure:

1. Load configuration (environment variables are expanded)
2. Connect Redis (bus and key-value store) and Qdrant (vector store)
3. Initialize the memory tiers, skill library, and phase memory
4. Register the builtin tools under each agent's permission context
5. Start the agents and the Prometheus endpoint

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(),
		"Path to YAML configuration file")
	return cmd
}

func buildDispatchCmd() *cobra.Command {
	var (
		configPath string
		agentType  string
		message    string
		taskType   string
	)

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Dispatch a task to a running agent and wait for the response",
		RunE: func(cmd *cobra.Command, args []string) error {
			if agentType == "" || message == "" {
				return fmt.Errorf("--agent and --message are required")
			}
			return runDispatch(cmd.Context(), configPath, agentType, taskType, message)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(),
		"Path to YAML configuration file")
	cmd.Flags().StringVar(&agentType, "agent", "", "Target agent type")
	cmd.Flags().StringVar(&message, "message", "", "Task message")
	cmd.Flags().StringVar(&taskType, "type", "work", "Task type")
	return cmd
}
