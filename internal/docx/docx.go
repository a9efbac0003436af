// Package docx extracts plain text from data-room documents.
//
// Word documents are read from word/document.xml inside the OOXML zip.
// Paragraphs become lines, <w:tab/> becomes a tab and <w:br/> a newline,
// which matches the raw-text view the offsets in analyse payloads were
// computed against.
package docx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// ErrUnsupportedType is returned for document types Extract cannot read.
var ErrUnsupportedType = errors.New("docx: unsupported document type")

const wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// Extract returns the plain text of data, interpreted according to
// docType ("docx", "txt" or "md"; case-insensitive, leading dot allowed).
func Extract(docType string, data []byte) (string, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(docType)), ".") {
	case "docx":
		return ExtractDocx(data)
	case "txt", "md", "text", "markdown":
		if !utf8.Valid(data) {
			return "", fmt.Errorf("docx: %s document is not valid UTF-8", docType)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, docType)
	}
}

// ExtractDocx returns the raw text of a .docx file.
func ExtractDocx(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("docx: open archive: %w", err)
	}
	var body *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return "", fmt.Errorf("docx: word/document.xml not found")
	}
	rc, err := body.Open()
	if err != nil {
		return "", fmt.Errorf("docx: open document.xml: %w", err)
	}
	defer rc.Close()

	text, err := extractBody(rc)
	if err != nil {
		return "", fmt.Errorf("docx: read document.xml: %w", err)
	}
	return text, nil
}

func extractBody(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		b          strings.Builder
		inText     bool
		inTabStops bool
		paragraphs int
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "p":
				if paragraphs > 0 {
					b.WriteString("\n\n")
				}
				paragraphs++
			case "t":
				inText = true
			case "tabs":
				inTabStops = true
			case "tab":
				if !inTabStops {
					b.WriteByte('\t')
				}
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "tabs":
				inTabStops = false
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}
