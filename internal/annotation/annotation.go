// Package annotation decodes the document reference carried by an analyse
// message. Payloads arrive as Python dict literals rather than JSON, so
// decoding goes through Repair first and never fails outward: Parse returns
// an empty Annotation when the payload cannot be understood.
package annotation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/Gokhulnath/Manus/internal/logging"
	"github.com/sirupsen/logrus"
)

// PlaceholderName is shown when an annotation carries no document name.
const PlaceholderName = "document"

// Annotation is a reference to a character range in a data-room document.
// Every field is optional; nil means the payload did not carry it.
type Annotation struct {
	DocumentName     *string
	DocumentType     *string
	DocumentFilepath *string
	ChunkID          *string
	ChunkIndex       *int
	StartCharIndex   *int
	EndCharIndex     *int
	CharacterRange   *string
	SimilarityScore  *float64
	ContentPreview   *string
}

// ParseError reports a payload that could not be decoded.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("annotation: parse %q: %v", e.Raw, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Empty reports whether no field was decoded.
func (a Annotation) Empty() bool {
	return a == Annotation{}
}

// NameOr returns the document name, or fallback when absent or blank.
func (a Annotation) NameOr(fallback string) string {
	if a.DocumentName == nil || strings.TrimSpace(*a.DocumentName) == "" {
		return fallback
	}
	return *a.DocumentName
}

// TypeOr returns the document type, or fallback when absent.
func (a Annotation) TypeOr(fallback string) string {
	if a.DocumentType == nil || *a.DocumentType == "" {
		return fallback
	}
	return *a.DocumentType
}

// Offsets returns the start and end character indexes. Absent values read
// as zero; use HasRange to tell them apart.
func (a Annotation) Offsets() (start, end int) {
	if a.StartCharIndex != nil {
		start = *a.StartCharIndex
	}
	if a.EndCharIndex != nil {
		end = *a.EndCharIndex
	}
	return start, end
}

// HasRange reports whether both offsets were present.
func (a Annotation) HasRange() bool {
	return a.StartCharIndex != nil && a.EndCharIndex != nil
}

// Parser turns raw analyse payloads into Annotations, logging failures.
type Parser struct {
	log logrus.FieldLogger
}

// NewParser creates a Parser. A nil logger discards failure logs.
func NewParser(log logrus.FieldLogger) *Parser {
	return &Parser{log: logging.OrDiscard(log)}
}

// Parse decodes raw and returns the empty Annotation on any failure.
func (p *Parser) Parse(raw any) Annotation {
	a, err := Decode(raw)
	if err != nil {
		p.log.WithError(err).Warn("annotation: falling back to empty record")
		return Annotation{}
	}
	return a
}

// Parse decodes raw without logging.
func Parse(raw any) Annotation {
	a, _ := Decode(raw)
	return a
}

// Decode accepts a string, []byte, map[string]any or Annotation and
// returns the decoded record, or a *ParseError.
func Decode(raw any) (Annotation, error) {
	switch v := raw.(type) {
	case Annotation:
		return v, nil
	case *Annotation:
		if v == nil {
			return Annotation{}, &ParseError{Err: errors.New("nil payload")}
		}
		return *v, nil
	case map[string]any:
		return fromMap(v), nil
	case string:
		return decodeText(v)
	case []byte:
		return decodeText(string(v))
	case json.RawMessage:
		return decodeText(string(v))
	case nil:
		return Annotation{}, &ParseError{Err: errors.New("nil payload")}
	default:
		return Annotation{}, &ParseError{Raw: fmt.Sprint(v), Err: fmt.Errorf("unsupported payload type %T", raw)}
	}
}

func decodeText(text string) (Annotation, error) {
	if strings.TrimSpace(text) == "" {
		return Annotation{}, &ParseError{Err: errors.New("empty payload")}
	}
	repaired := Repair(text)

	dec := json.NewDecoder(strings.NewReader(repaired))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return Annotation{}, &ParseError{Raw: truncate(text, 120), Err: err}
	}
	if obj == nil {
		return Annotation{}, &ParseError{Raw: truncate(text, 120), Err: errors.New("payload is not an object")}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Annotation{}, &ParseError{Raw: truncate(text, 120), Err: errors.New("trailing data after object")}
	}
	return fromMap(obj), nil
}

func fromMap(m map[string]any) Annotation {
	return Annotation{
		DocumentName:     stringField(m, "document_name"),
		DocumentType:     stringField(m, "document_type"),
		DocumentFilepath: stringField(m, "document_filepath"),
		ChunkID:          stringField(m, "chunk_id"),
		ChunkIndex:       intField(m, "chunk_index"),
		StartCharIndex:   intField(m, "start_char_index"),
		EndCharIndex:     intField(m, "end_char_index"),
		CharacterRange:   stringField(m, "character_range"),
		SimilarityScore:  floatField(m, "similarity_score"),
		ContentPreview:   stringField(m, "content_preview"),
	}
}

func stringField(m map[string]any, key string) *string {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	default:
		s = fmt.Sprint(t)
	}
	return &s
}

func intField(m map[string]any, key string) *int {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	var n int
	switch t := v.(type) {
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			f, ferr := t.Float64()
			if ferr != nil || f != math.Trunc(f) {
				return nil
			}
			n = saturate(f)
			break
		}
		n = int(i)
	case float64:
		if t != math.Trunc(t) {
			return nil
		}
		n = saturate(t)
	case int:
		n = t
	case int64:
		n = int(t)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return nil
		}
		n = i
	default:
		return nil
	}
	return &n
}

func floatField(m map[string]any, key string) *float64 {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	var f float64
	switch t := v.(type) {
	case json.Number:
		x, err := t.Float64()
		if err != nil {
			return nil
		}
		f = x
	case float64:
		f = t
	case int:
		f = float64(t)
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		f = x
	default:
		return nil
	}
	return &f
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// MarshalJSON encodes only the fields that are present, using the payload's
// snake_case keys.
func (a Annotation) MarshalJSON() ([]byte, error) {
	m := make(map[string]any)
	put := func(key string, present bool, v any) {
		if present {
			m[key] = v
		}
	}
	put("document_name", a.DocumentName != nil, deref(a.DocumentName))
	put("document_type", a.DocumentType != nil, deref(a.DocumentType))
	put("document_filepath", a.DocumentFilepath != nil, deref(a.DocumentFilepath))
	put("chunk_id", a.ChunkID != nil, deref(a.ChunkID))
	put("chunk_index", a.ChunkIndex != nil, derefInt(a.ChunkIndex))
	put("start_char_index", a.StartCharIndex != nil, derefInt(a.StartCharIndex))
	put("end_char_index", a.EndCharIndex != nil, derefInt(a.EndCharIndex))
	put("character_range", a.CharacterRange != nil, deref(a.CharacterRange))
	if a.SimilarityScore != nil {
		m["similarity_score"] = *a.SimilarityScore
	}
	put("content_preview", a.ContentPreview != nil, deref(a.ContentPreview))

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}

// saturate converts an integral f to int, clamping values outside the int
// range to its bounds.
func saturate(f float64) int {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt:
		return math.MaxInt
	case f <= math.MinInt:
		return math.MinInt
	}
	return int(f)
}
