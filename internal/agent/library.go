package agent

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/Gokhulnath/Manus/internal/docx"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Chunking defaults, in runes.
const (
	DefaultChunkSize = 800
	DefaultOverlap   = 100
)

// Document is one extracted data-room file.
type Document struct {
	Name string // file name, as requested from /data-room/{name}
	Type string // docx, txt or md
	Path string
	Text string
}

// LoadLibrary extracts every supported document in dir. Files of other
// types are skipped; files that fail to extract are logged and skipped.
func LoadLibrary(dir string, log logrus.FieldLogger) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("agent: read data room: %w", err)
	}
	var docs []Document
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		typ := strings.ToLower(strings.TrimPrefix(filepath.Ext(e.Name()), "."))
		switch typ {
		case "docx", "txt", "md":
		default:
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("agent: read %s: %w", e.Name(), err)
		}
		text, err := docx.Extract(typ, data)
		if err != nil {
			log.WithError(err).WithField("document", e.Name()).Warn("agent: skipping unreadable document")
			continue
		}
		docs = append(docs, Document{Name: e.Name(), Type: typ, Path: path, Text: text})
	}
	return docs, nil
}

// Span is a half-open rune range.
type Span struct {
	Start int
	End   int
}

// ChunkText splits text into windows of size runes, each overlapping the
// previous one by overlap runes. Surrounding whitespace is trimmed from
// every window; windows that are only whitespace are dropped.
func ChunkText(text string, size, overlap int) []Span {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	runes := []rune(text)
	n := len(runes)

	var spans []Span
	for start := 0; start < n; {
		end := start + size
		if end > n {
			end = n
		}
		s, e := start, end
		for s < e && unicode.IsSpace(runes[s]) {
			s++
		}
		for e > s && unicode.IsSpace(runes[e-1]) {
			e--
		}
		if s < e {
			spans = append(spans, Span{Start: s, End: e})
		}
		if end == n {
			break
		}
		start = end - overlap
	}
	return spans
}

// Hit is a chunk that matched a query.
type Hit struct {
	Document *Document
	ChunkID  string
	Index    int // zero-based chunk index within the document
	Span     Span
	Text     string
	Score    float64
}

// Searcher ranks document chunks by keyword overlap with a query.
type Searcher struct {
	ChunkSize int
	Overlap   int
	TopK      int
}

// Search returns up to TopK chunks that share at least one keyword with
// query, best first. The score is the share of distinct query keywords
// the chunk contains.
func (s Searcher) Search(docs []Document, query string) []Hit {
	terms := keywords(query)
	if len(terms) == 0 {
		return nil
	}
	topK := s.TopK
	if topK <= 0 {
		topK = 5
	}

	var hits []Hit
	for i := range docs {
		doc := &docs[i]
		runes := []rune(doc.Text)
		for idx, sp := range ChunkText(doc.Text, s.ChunkSize, s.Overlap) {
			text := string(runes[sp.Start:sp.End])
			words := make(map[string]bool)
			for _, w := range tokenize(text) {
				words[w] = true
			}
			matched := 0
			for _, t := range terms {
				if words[t] {
					matched++
				}
			}
			if matched == 0 {
				continue
			}
			hits = append(hits, Hit{
				Document: doc,
				ChunkID:  chunkID(doc.Name, idx),
				Index:    idx,
				Span:     sp,
				Text:     text,
				Score:    math.Round(float64(matched)/float64(len(terms))*10000) / 10000,
			})
		}
	}

	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		if hits[a].Document.Name != hits[b].Document.Name {
			return hits[a].Document.Name < hits[b].Document.Name
		}
		return hits[a].Index < hits[b].Index
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// chunkID is stable for a document name and chunk index.
func chunkID(docName string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("data-room/%s#%d", docName, index))).String()
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "be": true, "by": true,
	"can": true, "do": true, "does": true, "for": true, "from": true, "how": true, "in": true,
	"is": true, "it": true, "of": true, "on": true, "or": true, "the": true, "this": true,
	"that": true, "to": true, "what": true, "when": true, "which": true, "who": true, "with": true,
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// keywords returns the distinct non-stopword tokens of s in first-seen order.
func keywords(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range tokenize(s) {
		if stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
