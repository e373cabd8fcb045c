package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cedar/internal/chat"
	"cedar/internal/config"
	"cedar/internal/orchestrator"
)

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Start an interactive chat session",
	Long: `Reads questions from stdin and runs a full agent round for each.

Resumes the scope's active chat if one exists; otherwise a new chat is
created. Because every round completes or fails durably, the session
can be resumed after an interrupt or restart.

Commands inside the session:
  /new    start a fresh chat
  /list   list recent chats in this scope
  /exit   quit`,
	RunE: runInteractive,
}

func init() {
	rootCmd.AddCommand(interactiveCmd)
}

func runInteractive(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nInterrupted.")
		cancel()
	}()

	// Pick up config edits (model, logging) without a restart.
	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = config.Path(a.cfg.DataDir)
	}
	watcher, err := config.NewWatcher(cfgPath, func(cfg *config.Config) {
		logger.Info("configuration reloaded", zap.String("model", cfg.LLM.Model))
	})
	if err == nil {
		if err := watcher.Start(ctx); err == nil {
			defer watcher.Stop()
		}
	}

	key, err := resumeOrCreate(ctx, a)
	if err != nil {
		return err
	}
	fmt.Printf("Chat %d (project %d, branch %d). Type /exit to quit.\n", key.Number, key.ProjectID, key.BranchID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/exit", "/quit":
			return nil
		case "/new":
			c, err := a.sessions.Create(ctx, scope(), "")
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			key = c.Key()
			fmt.Printf("Started chat %d\n", key.Number)
			continue
		case "/list":
			if err := runChatList(cmd, nil); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
			continue
		}

		final, err := a.runner.RunRound(ctx, key, line)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, orchestrator.ErrInvalidResponse) {
				fmt.Println("The aggregator returned malformed output; the round was discarded.")
			} else {
				fmt.Printf("Error: %v\n", err)
			}
			// A failed round leaves the chat in status error; keep the
			// audit trail and continue on a fresh chat.
			c, cerr := a.sessions.Create(ctx, scope(), "")
			if cerr != nil {
				return cerr
			}
			key = c.Key()
			fmt.Printf("Continuing on chat %d\n", key.Number)
			continue
		}

		fmt.Println(final.Text)

		// Completed chats are immutable; the next question opens a new one.
		c, err := a.sessions.Create(ctx, scope(), "")
		if err != nil {
			return err
		}
		key = c.Key()
	}
	return scanner.Err()
}

func resumeOrCreate(ctx context.Context, a *app) (chat.Key, error) {
	number, ok, err := a.sessions.ActiveChat(ctx, scope())
	if err != nil {
		return chat.Key{}, err
	}
	if ok {
		return chat.Key{ProjectID: projectID, BranchID: branchID, Number: number}, nil
	}
	c, err := a.sessions.Create(ctx, scope(), "")
	if err != nil {
		return chat.Key{}, err
	}
	return c.Key(), nil
}
