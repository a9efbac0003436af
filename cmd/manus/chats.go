package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newChatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List chats",
		Long:  "Lists the chats known to the message API, newest first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			c, err := newClient(cfg, log)
			if err != nil {
				return err
			}

			chats, err := c.ListChats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(chats) == 0 {
				fmt.Fprintln(out, "No chats")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tCREATED")
			for _, ch := range chats {
				fmt.Fprintf(w, "%s\t%s\t%s\n", ch.ID, truncate(ch.Title, 50), ch.CreatedAt.Format("2006-01-02 15:04"))
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Manus config file")
	cmd.AddCommand(newChatsNewCmd())
	return cmd
}

func newChatsNewCmd() *cobra.Command {
	var (
		configPath string
		title      string
	)

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			c, err := newClient(cfg, log)
			if err != nil {
				return err
			}

			chat, err := c.CreateChat(cmd.Context(), title)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created chat %s (%s)\n", chat.ID, chat.Title)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Manus config file")
	cmd.Flags().StringVar(&title, "title", "", "chat title")
	return cmd
}
