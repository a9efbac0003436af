package turn

import (
	"context"

	"github.com/Gokhulnath/Manus/internal/logging"
	"github.com/Gokhulnath/Manus/internal/models"
	"github.com/sirupsen/logrus"
)

// Plan is what one poll tick found in the current segment.
type Plan struct {
	Analyse       []models.Message // completed analyse messages, segment order
	Summary       *models.Message  // first completed summarize message
	Failed        *models.Message  // first failed summarize message
	FailedAnalyse []models.Message // failed analyse messages, segment order
}

// BuildPlan classifies a segment by task and status.
func BuildPlan(segment []models.Message) Plan {
	var p Plan
	for i := range segment {
		m := segment[i]
		switch {
		case m.Is(models.TaskAnalyse, models.StatusCompleted):
			p.Analyse = append(p.Analyse, m)
		case m.Is(models.TaskAnalyse, models.StatusFailed):
			p.FailedAnalyse = append(p.FailedAnalyse, m)
		case m.Is(models.TaskSummarize, models.StatusCompleted):
			if p.Summary == nil {
				p.Summary = &segment[i]
			}
		case m.Is(models.TaskSummarize, models.StatusFailed):
			if p.Failed == nil {
				p.Failed = &segment[i]
			}
		}
	}
	return p
}

// Consumer receives a turn's results. Calls are made one at a time from
// the turn's goroutine; each call returns before the next begins.
type Consumer interface {
	OnAnalyse(ctx context.Context, msg models.Message) error
	OnSummary(ctx context.Context, msg models.Message) error
}

// ConsumerFuncs adapts a pair of functions to Consumer. Nil funcs are
// no-ops.
type ConsumerFuncs struct {
	Analyse func(ctx context.Context, msg models.Message) error
	Summary func(ctx context.Context, msg models.Message) error
}

func (f ConsumerFuncs) OnAnalyse(ctx context.Context, msg models.Message) error {
	if f.Analyse == nil {
		return nil
	}
	return f.Analyse(ctx, msg)
}

func (f ConsumerFuncs) OnSummary(ctx context.Context, msg models.Message) error {
	if f.Summary == nil {
		return nil
	}
	return f.Summary(ctx, msg)
}

// Dispatcher delivers a turn's plan to a Consumer in order, remembering
// which messages it already delivered so later ticks never repeat them.
// A Dispatcher belongs to exactly one turn.
type Dispatcher struct {
	consumer Consumer
	log      logrus.FieldLogger
	onEmit   func(models.Message)

	emitted  map[string]struct{}
	analysed int
}

// NewDispatcher creates a Dispatcher. onEmit, if set, is called after each
// delivered message and is where the caller-visible transcript grows.
func NewDispatcher(consumer Consumer, log logrus.FieldLogger, onEmit func(models.Message)) *Dispatcher {
	return &Dispatcher{
		consumer: consumer,
		log:      logging.OrDiscard(log),
		onEmit:   onEmit,
		emitted:  make(map[string]struct{}),
	}
}

// HasNew reports whether Dispatch would deliver anything for p.
func (d *Dispatcher) HasNew(p Plan) bool {
	for _, m := range p.Analyse {
		if !d.Emitted(m) {
			return true
		}
	}
	return p.Summary != nil && !d.Emitted(*p.Summary)
}

// Emitted reports whether msg was already handled.
func (d *Dispatcher) Emitted(msg models.Message) bool {
	_, ok := d.emitted[emitKey(msg)]
	return ok
}

// Analysed returns how many analyse messages were delivered.
func (d *Dispatcher) Analysed() int { return d.analysed }

// Dispatch delivers every not-yet-delivered analyse message, then the
// summary if present. It returns summarized=true once the summary has been
// delivered. A cancelled ctx stops delivery before the next callback and
// its error is returned. A failed summarize with no completed summary
// returns a *FailedError.
func (d *Dispatcher) Dispatch(ctx context.Context, p Plan) (summarized bool, err error) {
	for _, m := range p.FailedAnalyse {
		if d.Emitted(m) {
			continue
		}
		d.mark(m)
		d.log.WithField("message_id", m.ID).Warn("turn: analyse task failed; skipping")
	}

	for _, m := range p.Analyse {
		if d.Emitted(m) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := d.consumer.OnAnalyse(ctx, m); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			d.log.WithError(err).WithField("message_id", m.ID).Warn("turn: analyse consumer failed")
		}
		d.mark(m)
		d.analysed++
		if d.onEmit != nil {
			d.onEmit(m)
		}
	}

	if p.Summary != nil {
		if d.Emitted(*p.Summary) {
			return true, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := d.consumer.OnSummary(ctx, *p.Summary); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			d.log.WithError(err).WithField("message_id", p.Summary.ID).Warn("turn: summary consumer failed")
		}
		d.mark(*p.Summary)
		if d.onEmit != nil {
			d.onEmit(*p.Summary)
		}
		return true, nil
	}

	if p.Failed != nil {
		return false, &FailedError{ChatID: p.Failed.ChatID, Message: *p.Failed}
	}
	return false, nil
}

func (d *Dispatcher) mark(m models.Message) {
	d.emitted[emitKey(m)] = struct{}{}
}

// emitKey identifies a message for de-duplication. Messages without an id
// fall back to their task and content.
func emitKey(m models.Message) string {
	if m.ID != "" {
		return m.ID
	}
	return string(m.Task) + "\x00" + m.Content
}
