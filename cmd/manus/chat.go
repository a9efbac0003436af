package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/Gokhulnath/Manus/internal/annotation"
	"github.com/Gokhulnath/Manus/internal/models"
	"github.com/Gokhulnath/Manus/internal/turn"
	"github.com/Gokhulnath/Manus/internal/viewer"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// excerptContext is how many runes of context surround a printed highlight.
const excerptContext = 60

func newChatCmd() *cobra.Command {
	var (
		configPath string
		chatID     string
		newChat    bool
		title      string
		showDocs   bool
	)

	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Ask one question and wait for the answer",
		Long:  "Posts a message to a chat, prints each analysed passage as it arrives and then the summary. Exits non-zero when the turn stalls or fails.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, chatOpts{
				configPath: configPath,
				chatID:     chatID,
				newChat:    newChat,
				title:      title,
				showDocs:   showDocs,
				content:    strings.Join(args, " "),
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Manus config file")
	cmd.Flags().StringVar(&chatID, "chat", "", "chat to post in")
	cmd.Flags().BoolVar(&newChat, "new", false, "create a new chat first")
	cmd.Flags().StringVar(&title, "title", "", "title for the new chat")
	cmd.Flags().BoolVar(&showDocs, "show-docs", false, "load each analysed document and print the highlighted passage")
	cmd.MarkFlagsMutuallyExclusive("chat", "new")
	return cmd
}

type chatOpts struct {
	configPath string
	chatID     string
	newChat    bool
	title      string
	showDocs   bool
	content    string
}

func runChat(cmd *cobra.Command, o chatOpts) error {
	cfg, log, err := loadConfig(cmd, o.configPath)
	if err != nil {
		return err
	}
	c, err := newClient(cfg, log)
	if err != nil {
		return err
	}
	notifier, err := newNotifier(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	out := cmd.OutOrStdout()
	chatID := o.chatID
	if o.newChat {
		chat, err := c.CreateChat(ctx, o.title)
		if err != nil {
			return err
		}
		chatID = chat.ID
		fmt.Fprintf(out, "Created chat %s\n", chat.ID)
	}
	if chatID == "" {
		return fmt.Errorf("one of --chat or --new is required")
	}

	p := &chatPrinter{out: out, parser: annotation.NewParser(log), mark: marker(out), log: log}
	if o.showDocs {
		p.viewer, err = viewer.New(viewer.Opts{Fetcher: c, Log: log})
		if err != nil {
			return err
		}
	}

	loop, err := turn.NewLoop(loopOpts(cfg, c, p, log))
	if err != nil {
		return err
	}
	loop.Switch(chatID)

	outcome, err := loop.Run(ctx, o.content)
	reportOutcome(context.WithoutCancel(ctx), notifier, log, chatID, loop.Current(), outcome)

	var failed *turn.FailedError
	switch {
	case errors.As(err, &failed):
		fmt.Fprintf(out, "\n%s\n", failed.Message.Content)
	case errors.Is(err, turn.ErrTurnStalled):
		fmt.Fprintln(out, "\nNo answer yet. The turn stalled; run the command again with --chat to see later results.")
	}
	return err
}

// chatPrinter is the loop's consumer for the chat command.
type chatPrinter struct {
	out    io.Writer
	parser *annotation.Parser
	viewer *viewer.Viewer
	mark   func(string) string
	log    logrus.FieldLogger
}

func (p *chatPrinter) OnAnalyse(ctx context.Context, msg models.Message) error {
	a := p.parser.Parse(msg.Content)
	line := "Analysed " + a.NameOr(annotation.PlaceholderName)
	if a.CharacterRange != nil {
		line += " (" + *a.CharacterRange + ")"
	}
	fmt.Fprintln(p.out, line)

	if p.viewer == nil {
		return nil
	}
	doc, err := p.viewer.Show(ctx, a)
	if err != nil {
		fmt.Fprintf(p.out, "  document unavailable: %v\n", err)
		return nil
	}
	if doc.Split.Empty() {
		return nil
	}
	fmt.Fprintf(p.out, "  line %d: %s\n", doc.Split.Line()+1, excerpt(doc.Split, excerptContext, p.mark))
	return nil
}

func (p *chatPrinter) OnSummary(ctx context.Context, msg models.Message) error {
	fmt.Fprintf(p.out, "\n%s\n", msg.Content)
	return nil
}
