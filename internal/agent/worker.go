// Package agent is the development backend's stand-in for the analysis
// service. It picks up pending user messages, searches the data room and
// writes analyse and summarize messages back into the chat.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Gokhulnath/Manus/internal/logging"
	"github.com/Gokhulnath/Manus/internal/messaging"
	"github.com/Gokhulnath/Manus/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Default worker settings.
const (
	DefaultPollInterval = time.Second
	DefaultTopK         = 5
)

// noResults is the summary written when nothing in the data room matches.
const noResults = "I couldn't find anything relevant to your question in the data room."

// Result describes one processed user message.
type Result struct {
	ChatID    string
	MessageID string
	Analysed  int
	Elapsed   time.Duration
	Err       error
}

// WorkerOpts holds parameters for creating a Worker.
type WorkerOpts struct {
	DB           *gorm.DB
	DataRoom     string        // directory of searchable documents
	PollInterval time.Duration // defaults to DefaultPollInterval
	Delay        time.Duration // pause before each written message; 0 writes immediately
	TopK         int           // defaults to DefaultTopK
	ChunkSize    int           // defaults to DefaultChunkSize
	Overlap      int           // defaults to DefaultOverlap
	Log          logrus.FieldLogger
	OnProcessed  func(Result)
}

// Worker answers pending user messages.
type Worker struct {
	db          *gorm.DB
	dataRoom    string
	interval    time.Duration
	delay       time.Duration
	search      Searcher
	log         logrus.FieldLogger
	onProcessed func(Result)

	mu sync.Mutex // serialises Poll
}

// NewWorker creates a Worker.
func NewWorker(opts WorkerOpts) (*Worker, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("agent: db is required")
	}
	if opts.DataRoom == "" {
		return nil, fmt.Errorf("agent: data room is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Overlap <= 0 {
		opts.Overlap = DefaultOverlap
	}
	return &Worker{
		db:          opts.DB,
		dataRoom:    opts.DataRoom,
		interval:    opts.PollInterval,
		delay:       opts.Delay,
		search:      Searcher{ChunkSize: opts.ChunkSize, Overlap: opts.Overlap, TopK: opts.TopK},
		log:         logging.OrDiscard(opts.Log),
		onProcessed: opts.OnProcessed,
	}, nil
}

// Poll processes every pending user message once and returns how many
// were handled. Failures of individual messages are recorded in the chat
// and reported through OnProcessed; only store errors are returned.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	pending, err := messaging.PendingUserMessages(w.db, 0)
	if err != nil {
		return 0, fmt.Errorf("agent: poll: %w", err)
	}
	n := 0
	for _, msg := range pending {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		res := w.Process(ctx, msg)
		n++
		if w.onProcessed != nil {
			w.onProcessed(res)
		}
	}
	return n, nil
}

// Run polls on the configured interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.log.WithError(err).Warn("agent: poll failed")
			}
		}
	}
}

// Process answers one user message: an acknowledgement, one analyse
// message per matching chunk and a closing summary. The user message ends
// completed, or failed alongside a failed summary.
func (w *Worker) Process(ctx context.Context, user models.Message) Result {
	start := time.Now()
	res := Result{ChatID: user.ChatID, MessageID: user.ID}
	log := w.log.WithFields(logrus.Fields{"chat": user.ChatID, "message": user.ID})

	if err := messaging.SetStatus(w.db, user.ID, models.StatusInProgress); err != nil {
		res.Err = err
		res.Elapsed = time.Since(start)
		return res
	}

	analysed, err := w.answer(ctx, user)
	res.Analysed = analysed
	if err != nil {
		log.WithError(err).Warn("agent: turn failed")
		res.Err = err
		if _, ferr := messaging.Send(w.db, user.ChatID, "Analysis failed: "+err.Error(), messaging.SendOpts{
			Role: models.RoleAssistant, Task: models.TaskSummarize, Status: models.StatusFailed,
		}); ferr != nil {
			log.WithError(ferr).Error("agent: write failure summary")
		}
		if serr := messaging.SetStatus(w.db, user.ID, models.StatusFailed); serr != nil {
			log.WithError(serr).Error("agent: mark message failed")
		}
	} else if err := messaging.SetStatus(w.db, user.ID, models.StatusCompleted); err != nil {
		res.Err = err
	}
	res.Elapsed = time.Since(start)
	log.WithFields(logrus.Fields{"analysed": analysed, "elapsed": res.Elapsed}).Debug("agent: turn done")
	return res
}

func (w *Worker) answer(ctx context.Context, user models.Message) (int, error) {
	if err := w.write(ctx, user.ChatID, "Searching the data room for: "+user.Content, nil, models.TaskChat); err != nil {
		return 0, err
	}

	docs, err := LoadLibrary(w.dataRoom, w.log)
	if err != nil {
		return 0, err
	}
	hits := w.search.Search(docs, user.Content)

	for i, h := range hits {
		id := h.ChunkID
		if err := w.write(ctx, user.ChatID, SourceRepr(h), &id, models.TaskAnalyse); err != nil {
			return i, err
		}
	}
	if err := w.write(ctx, user.ChatID, Summarize(hits), nil, models.TaskSummarize); err != nil {
		return len(hits), err
	}
	return len(hits), nil
}

func (w *Worker) write(ctx context.Context, chatID, content string, chunkID *string, task models.Task) error {
	if w.delay > 0 {
		t := time.NewTimer(w.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	_, err := messaging.Send(w.db, chatID, content, messaging.SendOpts{
		ChunkID: chunkID,
		Role:    models.RoleAssistant,
		Task:    task,
		Status:  models.StatusCompleted,
	})
	return err
}

// Summarize writes the closing answer for a set of hits, quoting the best
// passage from each document in rank order.
func Summarize(hits []Hit) string {
	if len(hits) == 0 {
		return noResults
	}
	var names []string
	seen := make(map[string]bool)
	var b strings.Builder
	for _, h := range hits {
		if seen[h.Document.Name] {
			continue
		}
		seen[h.Document.Name] = true
		names = append(names, h.Document.Name)
		fmt.Fprintf(&b, "\n- %s (characters %d-%d): %s", h.Document.Name, h.Span.Start, h.Span.End, excerpt(h.Text))
	}
	return fmt.Sprintf("Found %d relevant passage(s) in %s.\n%s", len(hits), strings.Join(names, ", "), b.String())
}

func excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 160 {
		return string(r[:160]) + "..."
	}
	return s
}
