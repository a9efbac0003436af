package tui

import (
	"context"

	"github.com/Gokhulnath/Manus/internal/models"
	"github.com/Gokhulnath/Manus/internal/turn"
	tea "github.com/charmbracelet/bubbletea"
)

// analyseMsg carries an analyse message; done is closed once the model
// has rendered its document.
type analyseMsg struct {
	msg  models.Message
	done chan struct{}
}

type summaryMsg struct{ msg models.Message }

type stateMsg struct{ state turn.State }

type refreshMsg struct{ history []models.Message }

// Bridge carries loop callbacks into the program as tea messages. It is
// the loop's Consumer and supplies its OnState and OnRefresh hooks.
type Bridge struct {
	ch   chan tea.Msg
	done chan struct{}
}

// NewBridge creates a Bridge.
func NewBridge() *Bridge {
	return &Bridge{ch: make(chan tea.Msg, 256), done: make(chan struct{})}
}

// OnAnalyse implements turn.Consumer. It returns once the model has
// shown the message's document, so the loop never hands over the next
// message while a load is still in flight.
func (b *Bridge) OnAnalyse(ctx context.Context, msg models.Message) error {
	done := make(chan struct{})
	if err := b.send(ctx, analyseMsg{msg: msg, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnSummary implements turn.Consumer.
func (b *Bridge) OnSummary(ctx context.Context, msg models.Message) error {
	return b.send(ctx, summaryMsg{msg: msg})
}

// OnState fits turn.Opts.OnState.
func (b *Bridge) OnState(s turn.State) {
	b.send(context.Background(), stateMsg{state: s})
}

// OnRefresh fits turn.Opts.OnRefresh.
func (b *Bridge) OnRefresh(history []models.Message) {
	b.send(context.Background(), refreshMsg{history: history})
}

// Close releases any sender or waiter blocked on the bridge.
func (b *Bridge) Close() {
	select {
	case <-b.done:
	default:
		close(b.done)
	}
}

func (b *Bridge) send(ctx context.Context, m tea.Msg) error {
	select {
	case b.ch <- m:
		return nil
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func ack(done chan struct{}) {
	if done != nil {
		close(done)
	}
}

// wait returns a command that delivers the next bridged message.
func (b *Bridge) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case m := <-b.ch:
			return m
		case <-b.done:
			return nil
		}
	}
}
