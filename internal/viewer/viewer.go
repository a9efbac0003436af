// Package viewer loads the data-room document an annotation points at and
// resolves its highlighted range.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/Gokhulnath/Manus/internal/annotation"
	"github.com/Gokhulnath/Manus/internal/docx"
	"github.com/Gokhulnath/Manus/internal/highlight"
	"github.com/Gokhulnath/Manus/internal/logging"
	"github.com/sirupsen/logrus"
)

// State is where the viewer is in loading its current document.
type State int

const (
	Empty State = iota
	Loading
	Loaded
	Failed
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

var (
	// ErrNoDocumentName is wrapped by DocumentLoadError when the annotation
	// does not name a document.
	ErrNoDocumentName = errors.New("viewer: annotation has no document name")
	// ErrSuperseded is returned by Show when a newer Show replaced the load
	// before it finished.
	ErrSuperseded = errors.New("viewer: load superseded")
)

// DocumentLoadError reports a document that could not be fetched or read.
type DocumentLoadError struct {
	Name string
	Type string
	Err  error
}

func (e *DocumentLoadError) Error() string {
	return fmt.Sprintf("viewer: failed to load document %q: %v", e.Name, e.Err)
}

func (e *DocumentLoadError) Unwrap() error { return e.Err }

// Fetcher returns the raw bytes of a data-room document.
type Fetcher interface {
	FetchDocument(ctx context.Context, name string) ([]byte, error)
}

// Document is a snapshot of what the viewer shows.
type Document struct {
	Load       uint64
	Annotation annotation.Annotation
	Name       string // display name; the placeholder when absent
	Type       string
	State      State
	Text       string
	Split      highlight.Split
	Err        error
}

// Opts holds parameters for creating a Viewer.
type Opts struct {
	Fetcher Fetcher
	Log     logrus.FieldLogger
	// OnChange is called after every state change of the current load.
	OnChange func(Document)
}

// Viewer shows one document at a time. The most recent Show owns it.
type Viewer struct {
	fetcher  Fetcher
	log      logrus.FieldLogger
	onChange func(Document)
	anchor   highlight.Anchor

	mu   sync.Mutex
	load uint64
	doc  Document
}

// New creates a Viewer.
func New(opts Opts) (*Viewer, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("viewer: fetcher is required")
	}
	return &Viewer{
		fetcher:  opts.Fetcher,
		log:      logging.OrDiscard(opts.Log),
		onChange: opts.OnChange,
	}, nil
}

// Show loads the document a names and resolves its highlight. It always
// leaves the load in Loaded or Failed; a failure is returned as a
// *DocumentLoadError and recorded on the Document.
func (v *Viewer) Show(ctx context.Context, a annotation.Annotation) (Document, error) {
	name := a.NameOr(annotation.PlaceholderName)

	v.mu.Lock()
	v.load++
	doc := Document{
		Load:       v.load,
		Annotation: a,
		Name:       name,
		Type:       documentType(a),
		State:      Loading,
	}
	v.doc = doc
	v.mu.Unlock()
	v.notify(doc)

	log := v.log.WithFields(logrus.Fields{"document": name, "load": doc.Load})

	if a.NameOr("") == "" {
		return v.fail(doc, log, ErrNoDocumentName)
	}

	data, err := v.fetcher.FetchDocument(ctx, name)
	if err != nil {
		return v.fail(doc, log, err)
	}
	text, err := docx.Extract(doc.Type, data)
	if err != nil {
		return v.fail(doc, log, err)
	}

	start, end := a.Offsets()
	doc.Text = text
	doc.Split = highlight.Resolve(text, start, end)
	doc.State = Loaded

	if !v.commit(doc) {
		return doc, ErrSuperseded
	}
	v.anchor.Arm(doc.Load)
	log.WithField("line", doc.Split.Line()).Debug("viewer: document loaded")
	v.notify(doc)
	return doc, nil
}

// Current returns the document the viewer is showing.
func (v *Viewer) Current() Document {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.doc
}

// Committed is called once the view has rendered the text of load. It
// returns true exactly once per successful load, when the view should
// scroll to the highlighted span.
func (v *Viewer) Committed(load uint64) bool {
	return v.anchor.Commit(load)
}

// ScrollPending reports whether a loaded document still awaits its scroll.
func (v *Viewer) ScrollPending() bool {
	return v.anchor.Pending()
}

func (v *Viewer) fail(doc Document, log logrus.FieldLogger, err error) (Document, error) {
	lerr := &DocumentLoadError{Name: doc.Name, Type: doc.Type, Err: err}
	doc.State = Failed
	doc.Err = lerr
	if !v.commit(doc) {
		return doc, ErrSuperseded
	}
	log.WithError(err).Warn("viewer: document load failed")
	v.notify(doc)
	return doc, lerr
}

// commit stores doc if its load is still the newest.
func (v *Viewer) commit(doc Document) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.load != doc.Load {
		return false
	}
	v.doc = doc
	return true
}

func (v *Viewer) notify(doc Document) {
	if v.onChange != nil {
		v.onChange(doc)
	}
}

// documentType is the annotation's document_type, else the name's
// extension, else docx.
func documentType(a annotation.Annotation) string {
	if t := a.TypeOr(""); t != "" {
		return strings.ToLower(strings.TrimPrefix(t, "."))
	}
	if ext := path.Ext(a.NameOr("")); ext != "" {
		return strings.ToLower(strings.TrimPrefix(ext, "."))
	}
	return "docx"
}
