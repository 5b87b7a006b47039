// Package docx extracts Word (OOXML) documents.
package docx

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

const (
	documentPart = "word/document.xml"
	corePart     = "docProps/core.xml"
)

// Extractor handles DOCX documents.
type Extractor struct{}

// New creates a new DOCX extractor.
func New() *Extractor {
	return &Extractor{}
}

// FileTypes returns the formats this extractor handles.
func (e *Extractor) FileTypes() []domain.FileType {
	return []domain.FileType{domain.FileTypeDOCX}
}

// Extract returns the body text with one blank line between paragraphs.
func (e *Extractor) Extract(ctx context.Context, content []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("%w: not a docx archive: %w", domain.ErrExtractionFailure, err)
	}

	rc, err := openPart(reader, documentPart)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	return parseDocument(ctx, rc)
}

// parseDocument walks document.xml as a token stream so large bodies are
// never unmarshalled in full.
func parseDocument(ctx context.Context, r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		out       strings.Builder
		para      strings.Builder
		inText    bool
		paragraph int
	)

	flush := func() {
		text := strings.TrimSpace(para.String())
		para.Reset()
		if text == "" {
			return
		}
		if out.Len() > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString(text)
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: malformed document.xml: %w", domain.ErrExtractionFailure, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t", "instrText":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte('\n')
			case "tc":
				if para.Len() > 0 {
					para.WriteByte('\t')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t", "instrText":
				inText = false
			case "p":
				flush()
				paragraph++
				if paragraph%256 == 0 {
					if err := ctx.Err(); err != nil {
						return "", err
					}
				}
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	flush()
	return out.String(), nil
}

// Title returns dc:title from the core properties, or "".
func (e *Extractor) Title(content []byte) string {
	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return ""
	}
	rc, err := openPart(reader, corePart)
	if err != nil {
		return ""
	}
	defer rc.Close()

	var core struct {
		Title string `xml:"title"`
	}
	if err := xml.NewDecoder(rc).Decode(&core); err != nil {
		return ""
	}
	return strings.TrimSpace(core.Title)
}

func openPart(reader *zip.Reader, name string) (io.ReadCloser, error) {
	for _, file := range reader.File {
		if file.Name != name {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %w", domain.ErrExtractionFailure, name, err)
		}
		return rc, nil
	}
	return nil, fmt.Errorf("%w: missing %s", domain.ErrExtractionFailure, name)
}
