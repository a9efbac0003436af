package annotation

import (
	"strings"
)

// Repair rewrites a loosely formatted, single-quoted dict literal (as
// produced by Python's str(dict)) into strict JSON text. It does not
// validate the result; Decode does that.
//
// The rewrite is a single left-to-right scan that tracks whether it is
// inside a double-quoted string, inside a single-quoted string, or between
// tokens:
//
//   - A backslash that does not begin a JSON escape is doubled.
//   - A single-quoted key or value is re-emitted double-quoted. Embedded
//     double quotes are escaped and \' becomes a bare apostrophe.
//   - A single quote only closes a single-quoted string when the next
//     non-space character is one of : , } ] or the end of input. Any other
//     single quote is kept as a literal apostrophe.
//   - The bare words True, False and None become true, false and null.
func Repair(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + 16)

	const (
		outside = iota
		inDouble
		inSingle
	)
	state := outside

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch state {
		case outside:
			switch {
			case c == '"':
				b.WriteByte('"')
				state = inDouble
			case c == '\'':
				b.WriteByte('"')
				state = inSingle
			case isWordByte(c):
				j := i
				for j < len(raw) && isWordByte(raw[j]) {
					j++
				}
				b.WriteString(pythonLiteral(raw[i:j]))
				i = j - 1
			default:
				b.WriteByte(c)
			}

		case inDouble:
			switch c {
			case '\\':
				i += writeEscape(&b, raw, i, false) - 1
			case '"':
				b.WriteByte('"')
				state = outside
			default:
				writeStringByte(&b, c)
			}

		case inSingle:
			switch c {
			case '\\':
				i += writeEscape(&b, raw, i, true) - 1
			case '"':
				b.WriteString(`\"`)
			case '\'':
				if closesSingle(raw, i+1) {
					b.WriteByte('"')
					state = outside
				} else {
					b.WriteByte('\'')
				}
			default:
				writeStringByte(&b, c)
			}
		}
	}
	return b.String()
}

// writeEscape handles a backslash at raw[i] inside a string and returns the
// number of input bytes consumed.
func writeEscape(b *strings.Builder, raw string, i int, single bool) int {
	if i+1 >= len(raw) {
		b.WriteString(`\\`)
		return 1
	}
	next := raw[i+1]
	switch next {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
		b.WriteByte('\\')
		b.WriteByte(next)
		return 2
	case 'u':
		if i+6 <= len(raw) && isHex(raw[i+2:i+6]) {
			b.WriteString(raw[i : i+6])
			return 6
		}
	case '\'':
		if single {
			b.WriteByte('\'')
			return 2
		}
	}
	b.WriteString(`\\`)
	return 1
}

// writeStringByte copies c into a JSON string body, escaping raw control
// characters that strict JSON rejects.
func writeStringByte(b *strings.Builder, c byte) {
	switch c {
	case '\n':
		b.WriteString(`\n`)
	case '\r':
		b.WriteString(`\r`)
	case '\t':
		b.WriteString(`\t`)
	default:
		b.WriteByte(c)
	}
}

// closesSingle reports whether a single quote whose following byte is at
// raw[j] terminates a single-quoted string.
func closesSingle(raw string, j int) bool {
	for ; j < len(raw); j++ {
		switch raw[j] {
		case ' ', '\t', '\n', '\r':
			continue
		case ':', ',', '}', ']':
			return true
		default:
			return false
		}
	}
	return true
}

func pythonLiteral(word string) string {
	switch word {
	case "True":
		return "true"
	case "False":
		return "false"
	case "None":
		return "null"
	}
	return word
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
