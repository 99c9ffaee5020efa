// Command agentd serves agent tasks over HTTP, SSE and WebSocket.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/agentd/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "agentd",
	Short:         "agentd - agent task orchestrator",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		slog.SetDefault(newLogger(cfg.LogLevel, cfg.LogFormat))
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket server",
	RunE:  runServe,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a workspace, an agent and a task",
	RunE:  runInit,
}

var toolsetsCmd = &cobra.Command{
	Use:   "toolsets",
	Short: "Connect every toolset and print its status",
	RunE:  runToolsets,
}

func init() {
	initCmd.Flags().StringVar(&initOpts.workspaceName, "workspace", "default", "Workspace name")
	initCmd.Flags().StringVar(&initOpts.directory, "dir", ".", "Workspace directory")
	initCmd.Flags().StringVar(&initOpts.agentName, "agent", "assistant", "Agent name")
	initCmd.Flags().StringVar(&initOpts.instruction, "instruction", "", "Agent instruction")
	initCmd.Flags().StringVar(&initOpts.provider, "provider", "openai", "Model provider (openai, anthropic, mock)")
	initCmd.Flags().StringVar(&initOpts.model, "model", "gpt-4o-mini", "Model name")
	initCmd.Flags().StringVar(&initOpts.baseURL, "base-url", "", "Provider base URL")
	initCmd.Flags().StringVar(&initOpts.apiKeyEnv, "api-key-env", "", "Environment variable holding the provider API key")
	initCmd.Flags().IntVar(&initOpts.contextSize, "context-size", 128000, "Model context window in tokens")
	initCmd.Flags().StringVar(&initOpts.title, "title", "", "Task title")

	rootCmd.AddCommand(serveCmd, initCmd, toolsetsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
