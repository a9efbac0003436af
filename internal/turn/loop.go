// Package turn reconciles a polled, flat message list into the ordered
// events of one chat turn: the analyse results as they complete, then the
// summary that ends the turn.
package turn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gokhulnath/Manus/internal/logging"
	"github.com/Gokhulnath/Manus/internal/models"
	"github.com/sirupsen/logrus"
)

// Default loop timings.
const (
	DefaultInterval         = 500 * time.Millisecond
	DefaultMaxFetchFailures = 5
	DefaultBackoffBase      = 500 * time.Millisecond
	DefaultBackoffMax       = 8 * time.Second
	DefaultStallTimeout     = 2 * time.Minute
)

// Source is the message store the loop reads from and posts to.
type Source interface {
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)
	SendMessage(ctx context.Context, chatID, content string) (*models.Message, error)
}

// Opts holds parameters for creating a Loop.
type Opts struct {
	Source           Source
	Consumer         Consumer
	Interval         time.Duration // defaults to DefaultInterval
	MaxFetchFailures int           // defaults to DefaultMaxFetchFailures
	BackoffBase      time.Duration // defaults to DefaultBackoffBase
	BackoffMax       time.Duration // defaults to DefaultBackoffMax
	StallTimeout     time.Duration // defaults to DefaultStallTimeout; < 0 disables
	Log              logrus.FieldLogger

	// OnState is called on every state change of the active turn.
	OnState func(State)
	// OnRefresh receives the full history fetched once after a summary.
	OnRefresh func([]models.Message)
}

// Outcome is how a turn ended.
type Outcome struct {
	State    State
	Summary  *models.Message
	Analysed int
	Err      error
}

// Loop owns the active chat and at most one in-flight turn in it. Every
// call to Switch or Cancel starts a new generation; work scheduled by an
// older generation becomes a no-op.
type Loop struct {
	source       Source
	consumer     Consumer
	interval     time.Duration
	maxFailures  int
	backoffBase  time.Duration
	backoffMax   time.Duration
	stallTimeout time.Duration
	log          logrus.FieldLogger
	onState      func(State)
	onRefresh    func([]models.Message)

	mu         sync.Mutex
	gen        uint64
	chatID     string
	current    *Turn
	transcript []models.Message
}

// NewLoop creates a Loop.
func NewLoop(opts Opts) (*Loop, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("turn: source is required")
	}
	if opts.Consumer == nil {
		return nil, fmt.Errorf("turn: consumer is required")
	}
	l := &Loop{
		source:       opts.Source,
		consumer:     opts.Consumer,
		interval:     opts.Interval,
		maxFailures:  opts.MaxFetchFailures,
		backoffBase:  opts.BackoffBase,
		backoffMax:   opts.BackoffMax,
		stallTimeout: opts.StallTimeout,
		log:          logging.OrDiscard(opts.Log),
		onState:      opts.OnState,
		onRefresh:    opts.OnRefresh,
	}
	if l.interval <= 0 {
		l.interval = DefaultInterval
	}
	if l.maxFailures <= 0 {
		l.maxFailures = DefaultMaxFetchFailures
	}
	if l.backoffBase <= 0 {
		l.backoffBase = DefaultBackoffBase
	}
	if l.backoffMax < l.backoffBase {
		l.backoffMax = DefaultBackoffMax
		if l.backoffMax < l.backoffBase {
			l.backoffMax = l.backoffBase
		}
	}
	if l.stallTimeout == 0 {
		l.stallTimeout = DefaultStallTimeout
	}
	return l, nil
}

// Switch makes chatID the active chat. Any in-flight turn is cancelled and
// the transcript is cleared.
func (l *Loop) Switch(chatID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen++
	if l.current != nil {
		l.current.cancel()
	}
	l.chatID = chatID
	l.transcript = nil
}

// Cancel stops the in-flight turn, if any, without changing the chat.
func (l *Loop) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen++
	if l.current != nil {
		l.current.cancel()
	}
}

// ChatID returns the active chat.
func (l *Loop) ChatID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chatID
}

// Processing reports whether a turn of the current generation is running.
func (l *Loop) Processing() bool {
	l.mu.Lock()
	t := l.current
	gen := l.gen
	l.mu.Unlock()
	return t != nil && t.gen == gen && !t.State().Terminal()
}

// State returns the state of the current generation's turn, or Idle.
func (l *Loop) State() State {
	l.mu.Lock()
	t := l.current
	gen := l.gen
	l.mu.Unlock()
	if t == nil || t.gen != gen {
		return Idle
	}
	return t.State()
}

// Current returns the most recent turn of the current generation, or nil.
func (l *Loop) Current() *Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil || l.current.gen != l.gen {
		return nil
	}
	return l.current
}

// Transcript returns a copy of the transcript of the active chat.
func (l *Loop) Transcript() []models.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Message, len(l.transcript))
	copy(out, l.transcript)
	return out
}

// Refresh replaces the transcript with the store's full history. While a
// turn is in flight the transcript belongs to the turn and Refresh leaves
// it alone.
func (l *Loop) Refresh(ctx context.Context) ([]models.Message, error) {
	l.mu.Lock()
	chatID := l.chatID
	gen := l.gen
	l.mu.Unlock()
	if chatID == "" {
		return nil, ErrNoChat
	}
	history, err := l.source.ListMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !l.Processing() {
		l.replaceTranscript(gen, history)
	}
	return history, nil
}

// Start posts content as a user message in the active chat and begins
// reconciling its turn in the background.
func (l *Loop) Start(ctx context.Context, content string) (*Turn, error) {
	l.mu.Lock()
	if l.chatID == "" {
		l.mu.Unlock()
		return nil, ErrNoChat
	}
	prev := l.current
	if prev != nil && prev.gen == l.gen && !prev.State().Terminal() {
		l.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	chatID, gen := l.chatID, l.gen
	l.mu.Unlock()

	// The previous turn may still be unwinding after a cancel or its final
	// refresh; it must be gone before this turn touches the transcript.
	if prev != nil {
		select {
		case <-prev.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	user, err := l.source.SendMessage(ctx, chatID, content)
	if err != nil {
		return nil, fmt.Errorf("turn: send: %w", err)
	}

	l.mu.Lock()
	if l.gen != gen {
		l.mu.Unlock()
		return nil, ErrCancelled
	}
	t := l.newTurn(ctx, gen, chatID, *user, nil)
	l.current = t
	l.transcript = append(l.transcript, *user)
	l.mu.Unlock()

	t.setState(Sent)
	go t.run()
	return t, nil
}

// Retry resumes a stalled turn. The new attempt polls for the same user
// message and never repeats results the stalled attempt delivered.
func (l *Loop) Retry(ctx context.Context) (*Turn, error) {
	l.mu.Lock()
	prev := l.current
	if prev == nil || prev.gen != l.gen {
		l.mu.Unlock()
		return nil, fmt.Errorf("turn: nothing to retry")
	}
	if prev.State() != Stalled {
		l.mu.Unlock()
		return nil, fmt.Errorf("turn: cannot retry a %s turn", prev.State())
	}
	l.mu.Unlock()

	<-prev.done

	l.mu.Lock()
	if l.current != prev || prev.gen != l.gen {
		l.mu.Unlock()
		return nil, ErrCancelled
	}
	t := l.newTurn(ctx, prev.gen, prev.chatID, prev.user, prev.dispatcher)
	l.current = t
	l.mu.Unlock()

	go t.run()
	return t, nil
}

// Run starts a turn and waits for it to finish.
func (l *Loop) Run(ctx context.Context, content string) (Outcome, error) {
	t, err := l.Start(ctx, content)
	if err != nil {
		return Outcome{State: Idle, Err: err}, err
	}
	return t.Wait(ctx)
}

// Resume retries a stalled turn and waits for it to finish.
func (l *Loop) Resume(ctx context.Context) (Outcome, error) {
	t, err := l.Retry(ctx)
	if err != nil {
		return Outcome{State: l.State(), Err: err}, err
	}
	return t.Wait(ctx)
}

func (l *Loop) newTurn(ctx context.Context, gen uint64, chatID string, user models.Message, d *Dispatcher) *Turn {
	tctx, cancel := context.WithCancel(ctx)
	t := &Turn{
		loop:   l,
		gen:    gen,
		chatID: chatID,
		user:   user,
		ctx:    tctx,
		cancel: cancel,
		done:   make(chan struct{}),
		log: l.log.WithFields(logrus.Fields{
			"chat_id":    chatID,
			"message_id": user.ID,
			"gen":        gen,
		}),
	}
	if d == nil {
		d = NewDispatcher(l.consumer, t.log, func(m models.Message) { l.appendTranscript(gen, m) })
	}
	t.dispatcher = d
	return t
}

func (l *Loop) owns(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen == gen
}

func (l *Loop) appendTranscript(gen uint64, m models.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen == gen {
		l.transcript = append(l.transcript, m)
	}
}

func (l *Loop) replaceTranscript(gen uint64, history []models.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen == gen {
		l.transcript = append([]models.Message(nil), history...)
	}
}

// backoff returns the wait after the n-th consecutive fetch failure.
func (l *Loop) backoff(n int) time.Duration {
	d := l.backoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= l.backoffMax {
			return l.backoffMax
		}
	}
	return d
}

// Turn is one user submission being reconciled.
type Turn struct {
	loop       *Loop
	gen        uint64
	chatID     string
	user       models.Message
	ctx        context.Context
	cancel     context.CancelFunc
	dispatcher *Dispatcher
	log        logrus.FieldLogger
	done       chan struct{}

	mu      sync.Mutex
	state   State
	outcome Outcome
}

// UserMessage returns the stored user message that opened the turn.
func (t *Turn) UserMessage() models.Message { return t.user }

// State returns the turn's current state.
func (t *Turn) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done is closed once the turn's goroutine has exited.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Wait blocks until the turn ends or ctx is done.
func (t *Turn) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-t.done:
		o := t.Outcome()
		return o, o.Err
	case <-ctx.Done():
		return Outcome{State: t.State(), Err: ctx.Err()}, ctx.Err()
	}
}

// Outcome returns how the turn ended; it is only meaningful after Done.
func (t *Turn) Outcome() Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome
}

func (t *Turn) setState(s State) {
	t.mu.Lock()
	if t.state.Terminal() || t.state == s {
		t.mu.Unlock()
		return
	}
	t.state = s
	t.mu.Unlock()

	t.log.WithField("state", s.String()).Debug("turn: state change")
	if t.loop.onState != nil && t.loop.owns(t.gen) {
		t.loop.onState(s)
	}
}

func (t *Turn) finish(s State, summary *models.Message, err error) {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	t.outcome = Outcome{State: s, Summary: summary, Analysed: t.dispatcher.Analysed(), Err: err}
	t.mu.Unlock()
	t.setState(s)

	entry := t.log.WithField("analysed", t.outcome.Analysed)
	switch s {
	case Summarized:
		entry.Info("turn: summarized")
	case Cancelled:
		entry.Debug("turn: cancelled")
	default:
		entry.WithError(err).Warn("turn: ended without summary")
	}
}

func (t *Turn) run() {
	defer close(t.done)
	defer t.cancel()

	started := time.Now()
	var deadline <-chan time.Time
	if t.loop.stallTimeout > 0 {
		timer := time.NewTimer(t.loop.stallTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	t.setState(Polling)
	failures := 0
	warnedNoUser := false

	for {
		if !t.loop.owns(t.gen) || t.ctx.Err() != nil {
			t.finish(Cancelled, nil, ErrCancelled)
			return
		}

		wait := t.loop.interval
		history, err := t.loop.source.ListMessages(t.ctx, t.chatID)
		switch {
		case err != nil && t.ctx.Err() != nil:
			t.finish(Cancelled, nil, ErrCancelled)
			return

		case err != nil:
			failures++
			t.log.WithError(err).WithField("attempt", failures).Warn("turn: fetch failed")
			if failures >= t.loop.maxFailures {
				t.finish(Stalled, nil, &StalledError{
					ChatID:        t.chatID,
					UserMessageID: t.user.ID,
					Reason:        StallTransport,
					Attempts:      failures,
					Elapsed:       time.Since(started),
					Err:           err,
				})
				return
			}
			wait = t.loop.backoff(failures)

		default:
			failures = 0
			if !t.loop.owns(t.gen) {
				t.finish(Cancelled, nil, ErrCancelled)
				return
			}

			segment, found := SegmentAfter(history, t.user.ID)
			if !found && t.user.ID == "" && !warnedNoUser {
				warnedNoUser = true
				t.log.Warn("turn: history has no user message; treating all of it as this turn")
			}

			plan := BuildPlan(segment)
			if t.dispatcher.HasNew(plan) {
				t.setState(Draining)
			}
			summarized, derr := t.dispatcher.Dispatch(t.ctx, plan)
			switch {
			case errors.Is(derr, ErrTurnFailed):
				t.finish(Failed, nil, derr)
				return
			case derr != nil:
				t.finish(Cancelled, nil, ErrCancelled)
				return
			case summarized:
				t.finish(Summarized, plan.Summary, nil)
				t.finalRefresh()
				return
			}
			t.setState(Polling)
		}

		timer := time.NewTimer(wait)
		select {
		case <-t.ctx.Done():
			timer.Stop()
			t.finish(Cancelled, nil, ErrCancelled)
			return
		case <-deadline:
			timer.Stop()
			t.finish(Stalled, nil, &StalledError{
				ChatID:        t.chatID,
				UserMessageID: t.user.ID,
				Reason:        StallTimeout,
				Elapsed:       time.Since(started),
			})
			return
		case <-timer.C:
		}
	}
}

// finalRefresh fetches the full history once after the summary so the
// transcript matches the store.
func (t *Turn) finalRefresh() {
	history, err := t.loop.source.ListMessages(t.ctx, t.chatID)
	if err != nil {
		t.log.WithError(err).Warn("turn: final refresh failed")
		return
	}
	if !t.loop.owns(t.gen) {
		return
	}
	t.loop.replaceTranscript(t.gen, history)
	if t.loop.onRefresh != nil {
		t.loop.onRefresh(history)
	}
}
