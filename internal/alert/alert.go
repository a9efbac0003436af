// Package alert reports turns that ended without a summary to chat
// channels. Notifier implementations live in the slack and discord
// subpackages.
package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gokhulnath/Manus/internal/models"
	"github.com/Gokhulnath/Manus/internal/turn"
)

// Sidebar colors by severity.
const (
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// maxQuestionLen caps how much of the user's message a report quotes.
const maxQuestionLen = 200

// Report describes a turn that needs attention.
type Report struct {
	ChatID        string
	UserMessageID string
	Question      string
	State         turn.State
	Reason        string
	Err           error
	Elapsed       time.Duration
	At            time.Time
}

// Field is one labelled value in a formatted report.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Formatted is a platform-neutral rendering of a Report.
type Formatted struct {
	Title  string
	Body   string
	Color  string
	Fields []Field
}

// Notifier delivers a Report somewhere a person will see it.
type Notifier interface {
	Notify(ctx context.Context, r Report) error
}

// FromOutcome builds a Report for a turn outcome. ok is false for outcomes
// that need no alert.
func FromOutcome(chatID string, user models.Message, out turn.Outcome) (r Report, ok bool) {
	if out.State != turn.Stalled && out.State != turn.Failed {
		return Report{}, false
	}
	r = Report{
		ChatID:        chatID,
		UserMessageID: user.ID,
		Question:      user.Content,
		State:         out.State,
		Err:           out.Err,
		At:            time.Now(),
	}
	var se *turn.StalledError
	if errors.As(out.Err, &se) {
		r.Reason = se.Reason
		r.Elapsed = se.Elapsed
	}
	return r, true
}

// Format renders r for a chat message.
func Format(r Report) Formatted {
	f := Formatted{Color: ColorWarning}
	switch r.State {
	case turn.Failed:
		f.Title = "Turn failed"
		f.Color = ColorError
	default:
		f.Title = "Turn stalled"
	}
	if r.Err != nil {
		f.Body = r.Err.Error()
	}

	f.Fields = append(f.Fields, Field{Name: "Chat", Value: r.ChatID, Short: true})
	if r.UserMessageID != "" {
		f.Fields = append(f.Fields, Field{Name: "Message", Value: r.UserMessageID, Short: true})
	}
	if r.Reason != "" {
		f.Fields = append(f.Fields, Field{Name: "Reason", Value: r.Reason, Short: true})
	}
	if r.Elapsed > 0 {
		f.Fields = append(f.Fields, Field{Name: "Elapsed", Value: r.Elapsed.Round(time.Millisecond).String(), Short: true})
	}
	if r.Question != "" {
		f.Fields = append(f.Fields, Field{Name: "Question", Value: truncate(r.Question, maxQuestionLen)})
	}
	return f
}

// Summary is the one-line plain-text form of r.
func Summary(r Report) string {
	f := Format(r)
	if r.Reason != "" {
		return fmt.Sprintf("%s in chat %s (%s)", f.Title, r.ChatID, r.Reason)
	}
	return fmt.Sprintf("%s in chat %s", f.Title, r.ChatID)
}

// Multi fans a report out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, r Report) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
