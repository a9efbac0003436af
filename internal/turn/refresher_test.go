package turn

import (
	"context"
	"testing"
	"time"

	"github.com/Gokhulnath/Manus/internal/models"
)

func TestNewRefresher_Validation(t *testing.T) {
	if _, err := NewRefresher(RefresherOpts{}); err == nil {
		t.Error("expected error without source")
	}
	if _, err := NewRefresher(RefresherOpts{Source: newFakeSource(), Schedule: "not a schedule"}); err == nil {
		t.Error("expected error for bad schedule")
	}
}

func TestRefresher_Next(t *testing.T) {
	r, err := NewRefresher(RefresherOpts{Source: newFakeSource()})
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if got := r.Next(now); got != now.Add(3*time.Second) {
		t.Errorf("Next = %v, want %v", got, now.Add(3*time.Second))
	}
}

func TestRefresher_NoChatIsNoop(t *testing.T) {
	src := newFakeSource()
	r, _ := NewRefresher(RefresherOpts{Source: src})
	snap, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.ChatID != "" || src.callCount() != 0 {
		t.Errorf("snap = %+v, calls = %d", snap, src.callCount())
	}
	if r.Seeded() {
		t.Error("Seeded = true before any refresh")
	}
}

func TestRefresher_ChangeDetection(t *testing.T) {
	src := newFakeSource()
	pending := analyse("a1")
	pending.Status = models.StatusInProgress
	src.add("c1", user("u0"), pending)

	var snaps []Snapshot
	r, _ := NewRefresher(RefresherOpts{Source: src, OnSnapshot: func(s Snapshot) { snaps = append(snaps, s) }})
	r.SetChat("c1")
	ctx := context.Background()

	first, err := r.Refresh(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(first.Changed); !equalIDs(got, []string{"u0", "a1"}) {
		t.Errorf("first Changed = %v", got)
	}
	if !r.Seeded() {
		t.Error("Seeded = false after refresh")
	}

	second, _ := r.Refresh(ctx)
	if len(second.Changed) != 0 {
		t.Errorf("second Changed = %v, want none", ids(second.Changed))
	}

	// a1 completes and a summary arrives.
	src.mu.Lock()
	src.chats["c1"][1].Status = models.StatusCompleted
	src.mu.Unlock()
	src.add("c1", summary("s1"))

	third, _ := r.Refresh(ctx)
	if got := ids(third.Changed); !equalIDs(got, []string{"a1", "s1"}) {
		t.Errorf("third Changed = %v, want [a1 s1]", got)
	}
	if len(third.History) != 3 {
		t.Errorf("History = %v", ids(third.History))
	}
	if len(snaps) != 3 {
		t.Errorf("OnSnapshot called %d times, want 3", len(snaps))
	}
}

func TestRefresher_SetChatResets(t *testing.T) {
	src := newFakeSource()
	src.add("c1", user("u0"))
	src.add("c2", user("v0"))
	r, _ := NewRefresher(RefresherOpts{Source: src})

	r.SetChat("c1")
	r.Refresh(context.Background())
	r.SetChat("c2")
	if r.Seeded() {
		t.Error("Seeded = true after SetChat")
	}
	snap, _ := r.Refresh(context.Background())
	if snap.ChatID != "c2" || !equalIDs(ids(snap.Changed), []string{"v0"}) {
		t.Errorf("snap = %+v", snap)
	}
}

func TestRefresher_StartStop(t *testing.T) {
	src := newFakeSource()
	src.add("c1", user("u0"))
	got := make(chan Snapshot, 8)
	r, err := NewRefresher(RefresherOpts{
		Source:     src,
		Schedule:   "@every 1s",
		OnSnapshot: func(s Snapshot) { got <- s },
	})
	if err != nil {
		t.Fatal(err)
	}
	r.SetChat("c1")
	r.Start()
	defer r.Stop()

	select {
	case s := <-got:
		if s.ChatID != "c1" {
			t.Errorf("ChatID = %q", s.ChatID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no scheduled refresh")
	}
}
