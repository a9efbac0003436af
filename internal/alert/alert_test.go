package alert

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Gokhulnath/Manus/internal/models"
	"github.com/Gokhulnath/Manus/internal/turn"
)

type recordingNotifier struct {
	reports []Report
	err     error
}

func (n *recordingNotifier) Notify(ctx context.Context, r Report) error {
	n.reports = append(n.reports, r)
	return n.err
}

// --- FromOutcome ---

func TestFromOutcome(t *testing.T) {
	user := models.Message{ID: "u1", Content: "What is the notice period?"}
	stalled := &turn.StalledError{ChatID: "c1", Reason: turn.StallTimeout, Elapsed: 2 * time.Minute}

	tests := []struct {
		name   string
		out    turn.Outcome
		wantOK bool
		reason string
	}{
		{"summarized", turn.Outcome{State: turn.Summarized}, false, ""},
		{"cancelled", turn.Outcome{State: turn.Cancelled, Err: turn.ErrCancelled}, false, ""},
		{"stalled", turn.Outcome{State: turn.Stalled, Err: stalled}, true, turn.StallTimeout},
		{"failed", turn.Outcome{State: turn.Failed, Err: &turn.FailedError{ChatID: "c1"}}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := FromOutcome("c1", user, tt.out)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if r.ChatID != "c1" || r.UserMessageID != "u1" || r.Question != user.Content {
				t.Errorf("report = %+v", r)
			}
			if r.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", r.Reason, tt.reason)
			}
		})
	}
}

// --- Format ---

func TestFormat_Stalled(t *testing.T) {
	f := Format(Report{
		ChatID:        "c1",
		UserMessageID: "u1",
		Question:      "q",
		State:         turn.Stalled,
		Reason:        turn.StallTransport,
		Err:           errors.New("connection refused"),
		Elapsed:       1500 * time.Millisecond,
	})
	if f.Title != "Turn stalled" || f.Color != ColorWarning {
		t.Errorf("Title/Color = %q/%q", f.Title, f.Color)
	}
	if f.Body != "connection refused" {
		t.Errorf("Body = %q", f.Body)
	}
	names := make([]string, 0, len(f.Fields))
	for _, field := range f.Fields {
		names = append(names, field.Name)
	}
	if got := strings.Join(names, ","); got != "Chat,Message,Reason,Elapsed,Question" {
		t.Errorf("fields = %s", got)
	}
}

func TestFormat_Failed(t *testing.T) {
	f := Format(Report{ChatID: "c1", State: turn.Failed})
	if f.Title != "Turn failed" || f.Color != ColorError {
		t.Errorf("Title/Color = %q/%q", f.Title, f.Color)
	}
	if len(f.Fields) != 1 {
		t.Errorf("fields = %+v, want only Chat", f.Fields)
	}
}

func TestFormat_TruncatesQuestion(t *testing.T) {
	f := Format(Report{ChatID: "c1", State: turn.Stalled, Question: strings.Repeat("é", 300)})
	q := f.Fields[len(f.Fields)-1]
	if q.Name != "Question" || len([]rune(q.Value)) != maxQuestionLen+1 {
		t.Errorf("question field = %d runes", len([]rune(q.Value)))
	}
}

func TestSummary(t *testing.T) {
	if got := Summary(Report{ChatID: "c1", State: turn.Stalled, Reason: "timeout"}); got != "Turn stalled in chat c1 (timeout)" {
		t.Errorf("Summary = %q", got)
	}
	if got := Summary(Report{ChatID: "c1", State: turn.Failed}); got != "Turn failed in chat c1" {
		t.Errorf("Summary = %q", got)
	}
}

// --- Multi ---

func TestMulti_NotifiesAllAndJoinsErrors(t *testing.T) {
	errA := errors.New("slack down")
	a := &recordingNotifier{err: errA}
	b := &recordingNotifier{}
	m := Multi{a, b}

	err := m.Notify(context.Background(), Report{ChatID: "c1"})
	if !errors.Is(err, errA) {
		t.Errorf("err = %v, want %v", err, errA)
	}
	if len(a.reports) != 1 || len(b.reports) != 1 {
		t.Errorf("reports = %d/%d, want 1/1", len(a.reports), len(b.reports))
	}
}

func TestMulti_Empty(t *testing.T) {
	if err := (Multi{}).Notify(context.Background(), Report{}); err != nil {
		t.Errorf("err = %v", err)
	}
}
