package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cedar/internal/config"
	"cedar/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	projectID  int64
	branchID   int64

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "cedar",
	Short: "Cedar - multi-agent chat assistant",
	Long: `Cedar dispatches a question to several independent answer agents,
reconciles their candidates into one final answer, and tracks the whole
interaction as a durable, numbered chat that survives restarts.

Chats are scoped to a (project, branch) pair and numbered sequentially
within that scope.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := logging.Initialize(cfg.DataDir); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// chatCmd groups the chat subcommands
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Create, inspect, and drive chats",
}

var chatNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a new chat in the current scope",
	RunE:  runChatNew,
}

var chatListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chats in the current scope, most recently updated first",
	RunE:  runChatList,
}

var chatShowCmd = &cobra.Command{
	Use:   "show [chat-number]",
	Short: "Show the full record of a chat",
	Args:  cobra.ExactArgs(1),
	RunE:  runChatShow,
}

var chatActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "Show the currently active chat number, if any",
	RunE:  runChatActive,
}

var chatAskCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question and run a full agent round",
	Long: `Dispatches the question to the answer agents, aggregates their
candidates into one final answer, and records everything on a chat.

By default a fresh chat is created; use --chat to target an existing
active chat.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChatAsk,
}

// cleanupCmd removes old chats
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove chats older than the retention window",
	RunE:  runCleanup,
}

// projectCmd groups project maintenance subcommands
var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Project maintenance",
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete [project-id]",
	Short: "Delete all chats and counters for a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectDelete,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: <data-dir>/config.yaml)")
	rootCmd.PersistentFlags().Int64VarP(&projectID, "project", "p", 1, "Project ID")
	rootCmd.PersistentFlags().Int64VarP(&branchID, "branch", "b", 1, "Branch ID")

	chatNewCmd.Flags().String("title", "", "Chat title (default: Chat <number>)")
	chatListCmd.Flags().Int("limit", 0, "Maximum chats to list")
	chatAskCmd.Flags().Int64("chat", 0, "Existing chat number to continue (default: create a new chat)")
	cleanupCmd.Flags().Duration("older-than", 0, "Retention override (e.g. 720h)")

	chatCmd.AddCommand(chatNewCmd, chatListCmd, chatShowCmd, chatActiveCmd, chatAskCmd)
	projectCmd.AddCommand(projectDeleteCmd)
	rootCmd.AddCommand(chatCmd, cleanupCmd, projectCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.Path(config.DefaultConfig().DataDir)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func main() {
	start := time.Now()
	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Error("command failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
