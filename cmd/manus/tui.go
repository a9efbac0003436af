package main

import (
	"fmt"
	"io"

	"github.com/Gokhulnath/Manus/internal/tui"
	"github.com/Gokhulnath/Manus/internal/turn"
	"github.com/Gokhulnath/Manus/internal/viewer"
	"github.com/spf13/cobra"
)

func newTUICmd() *cobra.Command {
	var (
		configPath string
		chatID     string
		newChat    bool
	)

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive chat and document viewer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			// The screen belongs to the program; keep logs off it.
			if isTerminal(cmd.ErrOrStderr()) {
				log.SetOutput(io.Discard)
			}

			c, err := newClient(cfg, log)
			if err != nil {
				return err
			}
			if newChat {
				chat, err := c.CreateChat(cmd.Context(), "")
				if err != nil {
					return err
				}
				chatID = chat.ID
			}

			bridge := tui.NewBridge()
			opts := loopOpts(cfg, c, bridge, log)
			opts.OnState = bridge.OnState
			opts.OnRefresh = bridge.OnRefresh
			loop, err := turn.NewLoop(opts)
			if err != nil {
				return err
			}
			v, err := viewer.New(viewer.Opts{Fetcher: c, Log: log})
			if err != nil {
				return err
			}

			m, err := tui.New(tui.Opts{
				Context: cmd.Context(),
				Turns:   loop,
				Chats:   c,
				Docs:    v,
				Bridge:  bridge,
				ChatID:  chatID,
				Log:     log,
			})
			if err != nil {
				return err
			}
			if err := tui.Run(m); err != nil {
				return fmt.Errorf("tui: %w", err)
			}
			loop.Cancel()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Manus config file")
	cmd.Flags().StringVar(&chatID, "chat", "", "chat to open")
	cmd.Flags().BoolVar(&newChat, "new", false, "start in a new chat")
	cmd.MarkFlagsMutuallyExclusive("chat", "new")
	return cmd
}
