package turn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Gokhulnath/Manus/internal/logging"
	"github.com/Gokhulnath/Manus/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultRefreshSchedule is the background refresh cadence.
const DefaultRefreshSchedule = "@every 3s"

// HistorySource reads a chat's full history.
type HistorySource interface {
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)
}

// Snapshot is one background refresh result. Changed holds the messages
// that are new or whose status moved since the previous refresh; on the
// first refresh of a chat it holds the whole history.
type Snapshot struct {
	ChatID  string
	History []models.Message
	Changed []models.Message
	At      time.Time
}

// RefresherOpts holds parameters for creating a Refresher.
type RefresherOpts struct {
	Source     HistorySource
	Schedule   string        // cron spec; defaults to DefaultRefreshSchedule
	Timeout    time.Duration // per-refresh fetch timeout; defaults to 10s
	OnSnapshot func(Snapshot)
	Log        logrus.FieldLogger
}

// Refresher keeps a chat's history fresh on a cron schedule, independently
// of any turn. It only reads.
type Refresher struct {
	source     HistorySource
	schedule   cron.Schedule
	spec       string
	timeout    time.Duration
	onSnapshot func(Snapshot)
	log        logrus.FieldLogger
	cron       *cron.Cron

	mu       sync.Mutex
	chatID   string
	snapshot map[string]models.Status // message id -> last seen status
	seeded   bool
}

// NewRefresher creates a Refresher. The schedule accepts standard 5-field
// cron expressions and descriptors such as "@every 3s".
func NewRefresher(opts RefresherOpts) (*Refresher, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("turn: refresher: source is required")
	}
	spec := opts.Schedule
	if spec == "" {
		spec = DefaultRefreshSchedule
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("turn: refresher: schedule %q: %w", spec, err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log := logging.OrDiscard(opts.Log)

	return &Refresher{
		source:     opts.Source,
		schedule:   sched,
		spec:       spec,
		timeout:    timeout,
		onSnapshot: opts.OnSnapshot,
		log:        log,
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(log)))),
		snapshot:   make(map[string]models.Status),
	}, nil
}

// SetChat selects the chat to refresh and forgets what was seen before.
func (r *Refresher) SetChat(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chatID = chatID
	r.snapshot = make(map[string]models.Status)
	r.seeded = false
}

// Next returns when the schedule fires after t.
func (r *Refresher) Next(t time.Time) time.Time {
	return r.schedule.Next(t)
}

// Start begins refreshing on the schedule. Stop ends it.
func (r *Refresher) Start() {
	r.cron.Schedule(r.schedule, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if _, err := r.Refresh(ctx); err != nil {
			r.log.WithError(err).Warn("turn: background refresh failed")
		}
	}))
	r.cron.Start()
}

// Stop halts the schedule and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
}

// Refresh runs one refresh cycle for the selected chat. It is a no-op when
// no chat is selected.
func (r *Refresher) Refresh(ctx context.Context) (Snapshot, error) {
	r.mu.Lock()
	chatID := r.chatID
	r.mu.Unlock()
	if chatID == "" {
		return Snapshot{}, nil
	}

	history, err := r.source.ListMessages(ctx, chatID)
	if err != nil {
		return Snapshot{}, err
	}

	r.mu.Lock()
	if r.chatID != chatID {
		// The chat changed while fetching.
		r.mu.Unlock()
		return Snapshot{}, nil
	}
	var changed []models.Message
	for _, m := range history {
		old, ok := r.snapshot[m.ID]
		if !ok || old != m.Status {
			changed = append(changed, m)
			r.snapshot[m.ID] = m.Status
		}
	}
	r.seeded = true
	r.mu.Unlock()

	snap := Snapshot{ChatID: chatID, History: history, Changed: changed, At: time.Now()}
	if r.onSnapshot != nil {
		r.onSnapshot(snap)
	}
	return snap, nil
}

// Seeded reports whether the selected chat has been refreshed at least once.
func (r *Refresher) Seeded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seeded
}
