package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/Gokhulnath/Manus/internal/alert"
	"github.com/Gokhulnath/Manus/internal/alert/discord"
	"github.com/Gokhulnath/Manus/internal/alert/slack"
	"github.com/Gokhulnath/Manus/internal/client"
	"github.com/Gokhulnath/Manus/internal/config"
	"github.com/Gokhulnath/Manus/internal/highlight"
	"github.com/Gokhulnath/Manus/internal/logging"
	"github.com/Gokhulnath/Manus/internal/turn"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const defaultConfigPath = "manus.yaml"

// loadConfig reads the config file, falling back to defaults when it does
// not exist, and builds the logger that writes to the command's stderr.
func loadConfig(cmd *cobra.Command, configPath string) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logging.NewWithOutput(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format), nil
}

func newClient(cfg *config.Config, log logrus.FieldLogger) (*client.Client, error) {
	return client.New(client.Opts{
		BaseURL:   cfg.APIBase,
		Timeout:   cfg.Client.Timeout,
		RateLimit: cfg.Client.RateLimit,
		Burst:     cfg.Client.Burst,
		Log:       log,
	})
}

func loopOpts(cfg *config.Config, src turn.Source, consumer turn.Consumer, log logrus.FieldLogger) turn.Opts {
	return turn.Opts{
		Source:           src,
		Consumer:         consumer,
		Interval:         cfg.Poll.Interval,
		MaxFetchFailures: cfg.Poll.MaxFetchFailures,
		BackoffBase:      cfg.Poll.BackoffBase,
		BackoffMax:       cfg.Poll.BackoffMax,
		StallTimeout:     cfg.Poll.StallTimeout,
		Log:              log,
	}
}

// newNotifier builds a notifier for every configured alert channel. The
// result is empty, and a no-op, when none is configured.
func newNotifier(cfg *config.Config) (alert.Multi, error) {
	var m alert.Multi
	if c := cfg.Alerts.Slack; c.Enabled() {
		n, err := slack.New(slack.Opts{BotToken: c.BotToken, ChannelID: c.ChannelID})
		if err != nil {
			return nil, err
		}
		m = append(m, n)
	}
	if c := cfg.Alerts.Discord; c.Enabled() {
		n, err := discord.New(discord.Opts{BotToken: c.BotToken, ChannelID: c.ChannelID})
		if err != nil {
			return nil, err
		}
		m = append(m, n)
	}
	return m, nil
}

// reportOutcome sends an alert for a stalled or failed turn. Delivery
// errors are logged; they never change the command's result.
func reportOutcome(ctx context.Context, n alert.Notifier, log logrus.FieldLogger, chatID string, t *turn.Turn, out turn.Outcome) {
	if t == nil {
		return
	}
	r, ok := alert.FromOutcome(chatID, t.UserMessage(), out)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := n.Notify(ctx, r); err != nil {
		log.WithError(err).Warn("alert delivery failed")
	}
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// marker renders highlighted text: coloured on a terminal, bracketed
// otherwise.
func marker(w io.Writer) func(string) string {
	if !isTerminal(w) {
		return func(s string) string { return "[[" + s + "]]" }
	}
	style := lipgloss.NewStyle().
		Background(lipgloss.Color("#ffeb3b")).
		Foreground(lipgloss.Color("#000000"))
	return func(s string) string { return style.Render(s) }
}

// excerpt is the highlight with up to n runes of context on each side,
// on one line.
func excerpt(s highlight.Split, n int, mark func(string) string) string {
	prefix := []rune(s.Prefix)
	if len(prefix) > n {
		prefix = append([]rune("…"), prefix[len(prefix)-n:]...)
	}
	suffix := []rune(s.Suffix)
	if len(suffix) > n {
		suffix = append(suffix[:n:n], '…')
	}
	return oneLine(string(prefix)) + mark(oneLine(s.Highlighted)) + oneLine(string(suffix))
}

// oneLine collapses every whitespace run in s, edges included, to a
// single space.
func oneLine(s string) string {
	if s == "" {
		return ""
	}
	out := strings.Join(strings.Fields(s), " ")
	if out == "" {
		return " "
	}
	if first, _ := utf8.DecodeRuneInString(s); unicode.IsSpace(first) {
		out = " " + out
	}
	if last, _ := utf8.DecodeLastRuneInString(s); unicode.IsSpace(last) {
		out += " "
	}
	return out
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
