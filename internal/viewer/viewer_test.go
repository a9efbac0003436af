package viewer

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gokhulnath/Manus/internal/annotation"
	"github.com/Gokhulnath/Manus/internal/docx"
)

type fakeFetcher struct {
	mu    sync.Mutex
	docs  map[string][]byte
	gates map[string]chan struct{}
	calls []string
}

func newFakeFetcher(docs map[string][]byte) *fakeFetcher {
	return &fakeFetcher{docs: docs, gates: make(map[string]chan struct{})}
}

func (f *fakeFetcher) gate(name string) (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[name] = ch
	return func() { close(ch) }
}

func (f *fakeFetcher) FetchDocument(ctx context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	gate := f.gates[name]
	data, ok := f.docs[name]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if !ok {
		return nil, errors.New("404 not found")
	}
	return data, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestViewer(t *testing.T, f Fetcher, onChange func(Document)) *Viewer {
	t.Helper()
	v, err := New(Opts{Fetcher: f, OnChange: onChange})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func buildDocx(t *testing.T, paragraphs ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	body := `<?xml version="1.0" encoding="UTF-8"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`
	for _, p := range paragraphs {
		body += `<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`
	}
	body += `</w:body></w:document>`
	w.Write([]byte(body))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestNew_RequiresFetcher(t *testing.T) {
	if _, err := New(Opts{}); err == nil {
		t.Fatal("expected error")
	}
}

// --- Show ---

func TestShow_TextDocument(t *testing.T) {
	f := newFakeFetcher(map[string][]byte{"notes.txt": []byte("hello world")})
	var seen []State
	v := newTestViewer(t, f, func(d Document) { seen = append(seen, d.State) })

	doc, err := v.Show(context.Background(), annotation.Parse("{'document_name': 'notes.txt', 'start_char_index': 0, 'end_char_index': 5}"))
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if doc.State != Loaded || doc.Type != "txt" {
		t.Errorf("doc = %+v", doc)
	}
	if doc.Split.Prefix != "" || doc.Split.Highlighted != "hello" || doc.Split.Suffix != " world" {
		t.Errorf("Split = %+v", doc.Split)
	}
	if len(seen) != 2 || seen[0] != Loading || seen[1] != Loaded {
		t.Errorf("states = %v, want [loading loaded]", seen)
	}
	if got := v.Current(); got.Load != doc.Load || got.State != Loaded {
		t.Errorf("Current = %+v", got)
	}
}

func TestShow_Docx(t *testing.T) {
	data := buildDocx(t, "Employment Act", "Notice period is one month.")
	f := newFakeFetcher(map[string][]byte{"Employment Act.docx": data})
	v := newTestViewer(t, f, nil)

	doc, err := v.Show(context.Background(), annotation.Parse(
		`{"document_name": "Employment Act.docx", "document_type": "docx", "start_char_index": 16, "end_char_index": 22}`))
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if doc.Split.Highlighted != "Notice" {
		t.Errorf("Highlighted = %q, want Notice", doc.Split.Highlighted)
	}
	if doc.Split.Line() != 2 {
		t.Errorf("Line = %d, want 2", doc.Split.Line())
	}
}

func TestShow_ClampsOffsets(t *testing.T) {
	f := newFakeFetcher(map[string][]byte{"a.txt": []byte("hello")})
	v := newTestViewer(t, f, nil)

	doc, err := v.Show(context.Background(), annotation.Parse("{'document_name': 'a.txt', 'start_char_index': 3, 'end_char_index': 100}"))
	if err != nil {
		t.Fatal(err)
	}
	if doc.Split.Prefix != "hel" || doc.Split.Highlighted != "lo" || doc.Split.Suffix != "" {
		t.Errorf("Split = %+v", doc.Split)
	}
}

// --- failures ---

func TestShow_MissingName(t *testing.T) {
	f := newFakeFetcher(nil)
	v := newTestViewer(t, f, nil)

	doc, err := v.Show(context.Background(), annotation.Parse("not json at all"))
	var le *DocumentLoadError
	if !errors.As(err, &le) {
		t.Fatalf("err = %v, want *DocumentLoadError", err)
	}
	if !errors.Is(err, ErrNoDocumentName) {
		t.Errorf("err = %v, want ErrNoDocumentName", err)
	}
	if doc.State != Failed || doc.Name != annotation.PlaceholderName {
		t.Errorf("doc = %+v", doc)
	}
	if f.callCount() != 0 {
		t.Errorf("fetches = %d, want 0", f.callCount())
	}
}

func TestShow_LoadFailures(t *testing.T) {
	f := newFakeFetcher(map[string][]byte{
		"sheet.xlsx":  []byte("PK"),
		"broken.docx": []byte("not a zip"),
	})
	tests := []struct {
		name    string
		payload string
		is      error
	}{
		{"fetch fails", "{'document_name': 'missing.docx'}", nil},
		{"unsupported type", "{'document_name': 'sheet.xlsx'}", docx.ErrUnsupportedType},
		{"corrupt docx", "{'document_name': 'broken.docx'}", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestViewer(t, f, nil)
			doc, err := v.Show(context.Background(), annotation.Parse(tt.payload))
			var le *DocumentLoadError
			if !errors.As(err, &le) {
				t.Fatalf("err = %v, want *DocumentLoadError", err)
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("err = %v, want %v", err, tt.is)
			}
			if doc.State != Failed || v.Current().State != Failed {
				t.Errorf("State = %v, want Failed", doc.State)
			}
			if v.ScrollPending() {
				t.Error("ScrollPending = true after failed load")
			}
		})
	}
}

// --- ownership and scroll anchor ---

func TestCommitted_FiresOncePerLoad(t *testing.T) {
	f := newFakeFetcher(map[string][]byte{"a.txt": []byte("one\ntwo\nthree")})
	v := newTestViewer(t, f, nil)
	a := annotation.Parse("{'document_name': 'a.txt', 'start_char_index': 8, 'end_char_index': 13}")

	first, _ := v.Show(context.Background(), a)
	if !v.ScrollPending() {
		t.Error("ScrollPending = false after load")
	}
	if !v.Committed(first.Load) {
		t.Error("first Committed = false")
	}
	if v.Committed(first.Load) {
		t.Error("second Committed = true")
	}

	second, _ := v.Show(context.Background(), a)
	if v.Committed(first.Load) {
		t.Error("stale load fired")
	}
	if !v.Committed(second.Load) {
		t.Error("new load did not fire")
	}
}

func TestShow_NewerLoadSupersedes(t *testing.T) {
	f := newFakeFetcher(map[string][]byte{"slow.txt": []byte("slow"), "fast.txt": []byte("fast")})
	release := f.gate("slow.txt")
	v := newTestViewer(t, f, nil)

	type result struct {
		doc Document
		err error
	}
	slow := make(chan result, 1)
	go func() {
		d, err := v.Show(context.Background(), annotation.Parse("{'document_name': 'slow.txt'}"))
		slow <- result{d, err}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for f.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("slow fetch never started")
		}
		time.Sleep(time.Millisecond)
	}

	fast, err := v.Show(context.Background(), annotation.Parse("{'document_name': 'fast.txt'}"))
	if err != nil {
		t.Fatal(err)
	}
	release()

	r := <-slow
	if !errors.Is(r.err, ErrSuperseded) {
		t.Errorf("slow err = %v, want ErrSuperseded", r.err)
	}
	if got := v.Current(); got.Load != fast.Load || got.Text != "fast" {
		t.Errorf("Current = %+v, want fast document", got)
	}
	if v.Committed(r.doc.Load) {
		t.Error("superseded load fired")
	}
}

func TestDocumentType(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{"{'document_name': 'a.docx', 'document_type': 'TXT'}", "txt"},
		{"{'document_name': 'a.MD'}", "md"},
		{"{'document_name': 'contract'}", "docx"},
		{"{'document_type': '.docx'}", "docx"},
	}
	for _, tt := range tests {
		if got := documentType(annotation.Parse(tt.payload)); got != tt.want {
			t.Errorf("documentType(%s) = %q, want %q", tt.payload, got, tt.want)
		}
	}
}
