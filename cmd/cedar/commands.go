package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cedar/internal/agents"
	"cedar/internal/chat"
	"cedar/internal/config"
	"cedar/internal/llm"
	"cedar/internal/orchestrator"
	"cedar/internal/session"
	"cedar/internal/store"
)

// app holds the wired collaborators for one command invocation.
type app struct {
	cfg      *config.Config
	store    *store.ChatStore
	sessions *session.Manager
	runner   *orchestrator.Runner
}

// newApp constructs the full stack from config. Commands that never run
// an agent round can pass needLLM=false and work without an API key.
func newApp(needLLM bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	st, err := store.NewChatStore(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	sessions := session.NewManager(st, session.Config{
		ActiveScanLimit:  cfg.Chat.ActiveScanLimit,
		DefaultListLimit: cfg.Chat.ListLimit,
	})

	a := &app{cfg: cfg, store: st, sessions: sessions}
	if !needLLM {
		return a, nil
	}

	if err := cfg.Validate(); err != nil {
		st.Close()
		return nil, err
	}
	client := llm.NewOpenAIClientWithConfig(llm.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.GetLLMTimeout(),
	})
	agentList, err := agents.LoadRegistry(cfg.RegistryPath(), client)
	if err != nil {
		st.Close()
		return nil, err
	}
	a.runner = orchestrator.NewRunner(
		sessions,
		agents.NewDispatcher(agentList...),
		orchestrator.NewAggregator(client),
	)
	return a, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logger.Warn("failed to close chat store", zap.Error(err))
	}
}

func scope() chat.Scope {
	return chat.Scope{ProjectID: projectID, BranchID: branchID}
}

func runChatNew(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	title, _ := cmd.Flags().GetString("title")
	c, err := a.sessions.Create(cmd.Context(), scope(), title)
	if err != nil {
		return err
	}

	fmt.Printf("Created chat %d (%s) in project %d, branch %d\n", c.Number, c.Title, c.ProjectID, c.BranchID)
	return nil
}

func runChatList(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	summaries, err := a.sessions.ListChats(cmd.Context(), scope(), limit)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("No chats found.")
		return nil
	}

	for _, s := range summaries {
		last := ""
		if s.LastMessage != nil {
			last = s.LastMessage.Content
			if len(last) > 60 {
				last = last[:60] + "..."
			}
		}
		fmt.Printf("#%-4d %-10s %-30s %3d msgs  %s  %s\n",
			s.Number, s.Status, s.Title, s.MessageCount,
			s.UpdatedAt.Local().Format("2006-01-02 15:04"), last)
	}
	return nil
}

func runChatShow(cmd *cobra.Command, args []string) error {
	number, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat number %q", args[0])
	}

	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	key := chat.Key{ProjectID: projectID, BranchID: branchID, Number: number}
	c, err := a.sessions.Get(cmd.Context(), key)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode chat: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func runChatActive(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	number, ok, err := a.sessions.ActiveChat(cmd.Context(), scope())
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("No active chat.")
		return nil
	}
	fmt.Printf("Active chat: %d\n", number)
	return nil
}

func runChatAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")

	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	number, _ := cmd.Flags().GetInt64("chat")
	if number == 0 {
		c, err := a.sessions.Create(ctx, scope(), "")
		if err != nil {
			return err
		}
		number = c.Number
		fmt.Printf("Created chat %d\n", number)
	}
	key := chat.Key{ProjectID: projectID, BranchID: branchID, Number: number}

	final, err := a.runner.RunRound(ctx, key, question)
	if err != nil {
		return err
	}

	if final.Title != "" {
		fmt.Printf("== %s ==\n", final.Title)
	}
	fmt.Println(final.Text)
	if len(final.RunSummary) > 0 {
		fmt.Println("\nRun summary:")
		for _, line := range final.RunSummary {
			fmt.Printf("  - %s\n", line)
		}
	}
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	retention, _ := cmd.Flags().GetDuration("older-than")
	if retention <= 0 {
		retention = a.cfg.GetRetention()
	}

	removed, err := a.sessions.Cleanup(cmd.Context(), retention)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d chats older than %s\n", removed, retention)
	return nil
}

func runProjectDelete(cmd *cobra.Command, args []string) error {
	project, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid project ID %q", args[0])
	}

	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	removed, err := a.sessions.DeleteProject(cmd.Context(), project)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted project %d: %d chats removed\n", project, removed)
	return nil
}

