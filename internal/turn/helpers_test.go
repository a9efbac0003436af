package turn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Gokhulnath/Manus/internal/models"
)

// fakeSource is an in-memory message store with scriptable failures.
type fakeSource struct {
	mu      sync.Mutex
	chats   map[string][]models.Message
	hidden  map[string]bool
	calls   int
	failFor int
	sendErr error
	nextID  int
	onList  func(call int)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		chats:  make(map[string][]models.Message),
		hidden: make(map[string]bool),
	}
}

func (f *fakeSource) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls++
	call := f.calls
	hook := f.onList
	if f.failFor > 0 {
		f.failFor--
		f.mu.Unlock()
		if hook != nil {
			hook(call)
		}
		return nil, errors.New("connection refused")
	}
	var out []models.Message
	for _, m := range f.chats[chatID] {
		if !f.hidden[m.ID] {
			out = append(out, m)
		}
	}
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return out, nil
}

func (f *fakeSource) SendMessage(ctx context.Context, chatID, content string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextID++
	m := models.Message{
		ID:      fmt.Sprintf("u%d", f.nextID),
		ChatID:  chatID,
		Content: content,
		Role:    models.RoleUser,
		Task:    models.TaskChat,
		Status:  models.StatusPending,
	}
	f.chats[chatID] = append(f.chats[chatID], m)
	return &m, nil
}

func (f *fakeSource) add(chatID string, msgs ...models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		m.ChatID = chatID
		f.chats[chatID] = append(f.chats[chatID], m)
	}
}

func (f *fakeSource) setHidden(id string, hidden bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hidden[id] = hidden
}

func (f *fakeSource) setFailFor(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFor = n
}

func (f *fakeSource) setOnList(fn func(call int)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onList = fn
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recorder is a Consumer that records delivered message ids in order.
type recorder struct {
	mu      sync.Mutex
	ids     []string
	block   map[string]chan struct{}
	entered map[string]chan struct{}
}

func newRecorder() *recorder {
	return &recorder{
		block:   make(map[string]chan struct{}),
		entered: make(map[string]chan struct{}),
	}
}

// blockOn makes the consumer wait inside the callback for id until the
// returned release func is called. entered is closed once the callback runs.
func (r *recorder) blockOn(id string) (entered <-chan struct{}, release func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rel := make(chan struct{})
	ent := make(chan struct{})
	r.block[id] = rel
	r.entered[id] = ent
	return ent, func() { close(rel) }
}

func (r *recorder) record(ctx context.Context, m models.Message) error {
	r.mu.Lock()
	r.ids = append(r.ids, m.ID)
	rel := r.block[m.ID]
	ent := r.entered[m.ID]
	r.mu.Unlock()
	if ent != nil {
		close(ent)
		<-rel
	}
	return nil
}

func (r *recorder) OnAnalyse(ctx context.Context, m models.Message) error { return r.record(ctx, m) }
func (r *recorder) OnSummary(ctx context.Context, m models.Message) error { return r.record(ctx, m) }

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func analyse(id string) models.Message {
	return models.Message{ID: id, Role: models.RoleAssistant, Task: models.TaskAnalyse, Status: models.StatusCompleted,
		Content: fmt.Sprintf("{'document_name': '%s.docx', 'start_char_index': 0, 'end_char_index': 4}", id)}
}

func summary(id string) models.Message {
	return models.Message{ID: id, Role: models.RoleAssistant, Task: models.TaskSummarize, Status: models.StatusCompleted, Content: "done"}
}

func user(id string) models.Message {
	return models.Message{ID: id, Role: models.RoleUser, Task: models.TaskChat, Status: models.StatusCompleted, Content: "question"}
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
