package agent

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// previewLen is how much chunk text a source quotes.
const previewLen = 200

// field is one key of a Python dict literal.
type field struct {
	key   string
	value interface{}
}

// SourceRepr renders a hit the way the analysis backend stores it: the
// str() of a Python dict.
func SourceRepr(h Hit) string {
	preview := h.Text
	if r := []rune(preview); len(r) > previewLen {
		preview = string(r[:previewLen]) + "..."
	}
	return pyDict([]field{
		{"document_name", h.Document.Name},
		{"document_type", h.Document.Type},
		{"document_filepath", h.Document.Path},
		{"chunk_id", h.ChunkID},
		{"chunk_index", h.Index + 1},
		{"start_char_index", h.Span.Start},
		{"end_char_index", h.Span.End},
		{"character_range", fmt.Sprintf("characters %d-%d", h.Span.Start, h.Span.End)},
		{"similarity_score", h.Score},
		{"content_preview", preview},
	})
}

func pyDict(fields []field) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pyStr(f.key))
		b.WriteString(": ")
		b.WriteString(pyValue(f.value))
	}
	b.WriteByte('}')
	return b.String()
}

func pyValue(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return "None"
	case bool:
		if v {
			return "True"
		}
		return "False"
	case int:
		return strconv.Itoa(v)
	case float64:
		s := strconv.FormatFloat(v, 'f', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case string:
		return pyStr(v)
	default:
		return pyStr(fmt.Sprint(v))
	}
}

// pyStr quotes s like Python's repr: single quotes unless s contains a
// single quote and no double quote.
func pyStr(s string) string {
	quote := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		quote = '"'
	}
	var b strings.Builder
	b.WriteByte(quote)
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == rune(quote):
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\x%02x`, r)
		case r > 0x7f && !unicode.IsPrint(r):
			if r <= 0xffff {
				fmt.Fprintf(&b, `\u%04x`, r)
			} else {
				fmt.Fprintf(&b, `\U%08x`, r)
			}
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(quote)
	return b.String()
}
