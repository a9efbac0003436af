package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"

	"github.com/Gokhulnath/Manus/internal/models"
	"github.com/Gokhulnath/Manus/internal/turn"
	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	var (
		configPath string
		chatID     string
		once       bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream a chat's messages in real-time",
		Long:  "Refreshes a chat's history on the configured background schedule and prints each message that is new or whose status changed. The first refresh prints the existing history.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, configPath, chatID, once)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Manus config file")
	cmd.Flags().StringVar(&chatID, "chat", "", "chat to watch (required)")
	cmd.Flags().BoolVar(&once, "once", false, "refresh once and exit")
	cmd.MarkFlagRequired("chat")
	return cmd
}

func runWatch(cmd *cobra.Command, configPath, chatID string, once bool) error {
	cfg, log, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	c, err := newClient(cfg, log)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var mu sync.Mutex
	r, err := turn.NewRefresher(turn.RefresherOpts{
		Source:   c,
		Schedule: cfg.Poll.BackgroundSchedule,
		Timeout:  cfg.Client.Timeout,
		Log:      log,
		OnSnapshot: func(s turn.Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			for _, m := range s.Changed {
				printWatchMessage(out, m)
			}
		},
	})
	if err != nil {
		return err
	}
	r.SetChat(chatID)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if _, err := r.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh chat %s: %w", chatID, err)
	}
	if once {
		return nil
	}

	fmt.Fprintf(out, "Watching chat %s... (Ctrl+C to stop)\n", chatID)
	r.Start()
	<-ctx.Done()
	r.Stop()
	return nil
}

func printWatchMessage(out io.Writer, m models.Message) {
	ts := m.CreatedAt.Format("15:04:05")
	fmt.Fprintf(out, "[%s] %s/%s %s: %s\n", ts, m.Role, m.Task, m.Status, truncate(oneLine(m.Content), 200))
}
