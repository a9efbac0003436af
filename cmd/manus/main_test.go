package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Gokhulnath/Manus/internal/agent"
	"github.com/Gokhulnath/Manus/internal/config"
	"github.com/Gokhulnath/Manus/internal/db"
	"github.com/Gokhulnath/Manus/internal/highlight"
	"github.com/Gokhulnath/Manus/internal/messaging"
	"github.com/Gokhulnath/Manus/internal/server"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const leaseText = "The tenant must give a notice period of three months."

type testBackend struct {
	db       *gorm.DB
	dataRoom string
	config   string
}

// newTestBackend serves the message API from an in-memory store and points
// the CLI at it. With an agent data room set, a worker answers messages.
func newTestBackend(t *testing.T, agentDataRoom func(dir string) string) *testBackend {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gormDB, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "lease.txt"), []byte(leaseText), 0o644); err != nil {
		t.Fatal(err)
	}

	router, err := server.NewRouter(server.Opts{DB: gormDB, DataRoom: dir})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	t.Setenv("MANUS_API_BASE_URL", ts.URL)

	if agentDataRoom != nil {
		w, err := agent.NewWorker(agent.WorkerOpts{
			DB:           gormDB,
			DataRoom:     agentDataRoom(dir),
			PollInterval: 20 * time.Millisecond,
		})
		if err != nil {
			t.Fatalf("NewWorker: %v", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			w.Run(ctx)
			close(done)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
	}

	return &testBackend{
		db:       gormDB,
		dataRoom: dir,
		config:   filepath.Join(t.TempDir(), "manus.yaml"),
	}
}

func sameDir(dir string) string { return dir }

func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// --- version and help ---

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "", "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "manus dev") {
		t.Errorf("expected output to contain 'manus dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	out, err := runCmd(t, "", "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	for _, want := range []string{"manus 1.0.0", "commit: abc123", "built: 2026-01-01"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got: %s", want, out)
		}
	}
}

func TestRootCmdHelp(t *testing.T) {
	out, err := runCmd(t, "", "--help")
	if err != nil {
		t.Fatalf("help command failed: %v", err)
	}
	if !strings.Contains(out, "Manus") {
		t.Errorf("expected help output to contain 'Manus', got: %s", out)
	}
	for _, sub := range []string{"chat", "chats", "watch", "view", "tui", "serve", "version"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help output to list %q, got: %s", sub, out)
		}
	}
}

func TestRootCmdUnknownCommand(t *testing.T) {
	if _, err := runCmd(t, "", "nonexistent"); err == nil {
		t.Error("expected error for unknown command")
	}

	cmd := newRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"nonexistent"})
	if code := execute(cmd); code != 1 {
		t.Errorf("execute() = %d, want 1", code)
	}
}

// --- chats ---

func TestChatsCmd(t *testing.T) {
	b := newTestBackend(t, nil)

	out, err := runCmd(t, "", "chats", "-c", b.config)
	if err != nil {
		t.Fatalf("chats: %v", err)
	}
	if !strings.Contains(out, "No chats") {
		t.Errorf("output = %q, want No chats", out)
	}

	out, err = runCmd(t, "", "chats", "new", "-c", b.config, "--title", "Lease review")
	if err != nil {
		t.Fatalf("chats new: %v", err)
	}
	if !strings.Contains(out, "Created chat") || !strings.Contains(out, "Lease review") {
		t.Errorf("output = %q", out)
	}

	out, err = runCmd(t, "", "chats", "-c", b.config)
	if err != nil {
		t.Fatalf("chats: %v", err)
	}
	if !strings.Contains(out, "TITLE") || !strings.Contains(out, "Lease review") {
		t.Errorf("output = %q", out)
	}
}

func TestChatsCmd_BackendDown(t *testing.T) {
	t.Setenv("MANUS_API_BASE_URL", "http://127.0.0.1:1")
	if _, err := runCmd(t, "", "chats", "-c", filepath.Join(t.TempDir(), "manus.yaml")); err == nil {
		t.Error("expected transport error")
	}
}

// --- chat ---

func TestChatCmd_PrintsAnalysesAndSummary(t *testing.T) {
	b := newTestBackend(t, sameDir)

	out, err := runCmd(t, "", "chat", "-c", b.config, "--new", "--show-docs", "What", "is", "the", "notice", "period?")
	if err != nil {
		t.Fatalf("chat: %v\n%s", err, out)
	}
	for _, want := range []string{
		"Created chat",
		"Analysed lease.txt (characters 0-53)",
		"[[" + leaseText + "]]",
		"Found 1 relevant passage(s) in lease.txt.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "Analysed") > strings.Index(out, "Found 1") {
		t.Errorf("summary printed before the analysis:\n%s", out)
	}
}

func TestChatCmd_ExistingChat(t *testing.T) {
	b := newTestBackend(t, sameDir)
	chat, err := messaging.CreateChat(b.db, "")
	if err != nil {
		t.Fatal(err)
	}

	out, err := runCmd(t, "", "chat", "-c", b.config, "--chat", chat.ID, "unrelated zebra")
	if err != nil {
		t.Fatalf("chat: %v\n%s", err, out)
	}
	if strings.Contains(out, "Analysed") {
		t.Errorf("unexpected analysis:\n%s", out)
	}
	if !strings.Contains(out, "couldn't find anything relevant") {
		t.Errorf("output = %q", out)
	}
}

func TestChatCmd_FailedTurnExitsNonZero(t *testing.T) {
	b := newTestBackend(t, func(dir string) string { return filepath.Join(dir, "missing") })

	out, err := runCmd(t, "", "chat", "-c", b.config, "--new", "notice period")
	if err == nil {
		t.Fatalf("expected error, output:\n%s", out)
	}
	if !strings.Contains(out, "Analysis failed") {
		t.Errorf("output = %q, want the failure message", out)
	}
}

func TestChatCmd_Validation(t *testing.T) {
	b := newTestBackend(t, nil)
	tests := []struct {
		name string
		args []string
	}{
		{"no chat", []string{"chat", "-c", b.config, "hello"}},
		{"no message", []string{"chat", "-c", b.config, "--new"}},
		{"chat and new", []string{"chat", "-c", b.config, "--new", "--chat", "x", "hello"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCmd(t, "", tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// --- watch ---

func TestWatchCmd_Once(t *testing.T) {
	b := newTestBackend(t, nil)
	chat, err := messaging.CreateChat(b.db, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := messaging.Send(b.db, chat.ID, "hello\nthere", messaging.SendOpts{}); err != nil {
		t.Fatal(err)
	}

	out, err := runCmd(t, "", "watch", "-c", b.config, "--chat", chat.ID, "--once")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if !strings.Contains(out, "user/chat pending: hello there") {
		t.Errorf("output = %q", out)
	}
}

func TestWatchCmd_RequiresChat(t *testing.T) {
	if _, err := runCmd(t, "", "watch", "--once"); err == nil {
		t.Error("expected error without --chat")
	}
}

// --- view ---

func leaseAnnotation() string {
	start := strings.Index(leaseText, "notice period")
	return fmt.Sprintf("{'document_name': 'lease.txt', 'start_char_index': %d, 'end_char_index': %d}", start, start+len("notice period"))
}

func TestViewCmd(t *testing.T) {
	b := newTestBackend(t, nil)

	tests := []struct {
		name  string
		stdin string
		args  []string
		want  []string
	}{
		{
			name: "argument",
			args: []string{"view", "-c", b.config, leaseAnnotation()},
			want: []string{"lease.txt (txt) characters 23-36, line 1", "a [[notice period]] of"},
		},
		{
			name:  "stdin",
			stdin: leaseAnnotation(),
			args:  []string{"view", "-c", b.config},
			want:  []string{"[[notice period]]"},
		},
		{
			name: "full",
			args: []string{"view", "-c", b.config, "--full", leaseAnnotation()},
			want: []string{"The tenant must give a [[notice period]] of three months."},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCmd(t, tt.stdin, tt.args...)
			if err != nil {
				t.Fatalf("view: %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestViewCmd_Errors(t *testing.T) {
	b := newTestBackend(t, nil)
	tests := []struct {
		name  string
		stdin string
		args  []string
	}{
		{"empty", "  ", []string{"view", "-c", b.config}},
		{"no name", "", []string{"view", "-c", b.config, "{'start_char_index': 1}"}},
		{"missing document", "", []string{"view", "-c", b.config, "{'document_name': 'nope.txt'}"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCmd(t, tt.stdin, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// --- helpers ---

func TestExcerpt(t *testing.T) {
	mark := func(s string) string { return "[[" + s + "]]" }
	tests := []struct {
		name  string
		split highlight.Split
		n     int
		want  string
	}{
		{"short", highlight.Split{Prefix: "a ", Highlighted: "b", Suffix: " c"}, 10, "a [[b]] c"},
		{"newlines collapse", highlight.Split{Prefix: "x\n\n", Highlighted: "y\nz", Suffix: "\tw"}, 10, "x [[y z]] w"},
		{"clipped", highlight.Split{Prefix: "abcdef", Highlighted: "G", Suffix: "hijklm"}, 3, "…def[[G]]hij…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := excerpt(tt.split, tt.n, mark); got != tt.want {
				t.Errorf("excerpt() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMarker_NonTerminal(t *testing.T) {
	if got := marker(new(bytes.Buffer))("x"); got != "[[x]]" {
		t.Errorf("marker() = %q, want [[x]]", got)
	}
}

func TestNewNotifier(t *testing.T) {
	cfg := config.Default()
	n, err := newNotifier(cfg)
	if err != nil || len(n) != 0 {
		t.Fatalf("newNotifier() = %v, %v; want empty", n, err)
	}

	cfg.Alerts.Slack.BotToken, cfg.Alerts.Slack.ChannelID = "xoxb-test", "C1"
	cfg.Alerts.Discord.BotToken, cfg.Alerts.Discord.ChannelID = "token", "123"
	n, err = newNotifier(cfg)
	if err != nil {
		t.Fatalf("newNotifier: %v", err)
	}
	if len(n) != 2 {
		t.Errorf("len = %d, want 2", len(n))
	}
}
