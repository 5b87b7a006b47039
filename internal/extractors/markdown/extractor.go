// Package markdown extracts Markdown files as plain text.
package markdown

import (
	"bufio"
	"bytes"
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
	"github.com/custodia-labs/mizan/internal/extractors/plaintext"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

var (
	frontMatter  = regexp.MustCompile(`(?s)\A---\n.*?\n---\n`)
	inlineCode   = regexp.MustCompile("`([^`]+)`")
	images       = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	links        = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	headings     = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	emphasis     = regexp.MustCompile(`\*\*([^*\n]+?)\*\*|__([^_\n]+?)__|\*([^*\n]+?)\*|_([^_\n]+?)_`)
	blockquote   = regexp.MustCompile(`(?m)^>\s?`)
	rule         = regexp.MustCompile(`(?m)^\s*([-*_]\s*){3,}$`)
	listMarker   = regexp.MustCompile(`(?m)^(\s*)[-*+]\s+`)
	tableDivider = regexp.MustCompile(`(?m)^\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?\s*$`)
	htmlTag      = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
	blankRuns    = regexp.MustCompile(`\n{3,}`)
)

// Extractor handles Markdown files.
type Extractor struct{}

// New creates a new Markdown extractor.
func New() *Extractor {
	return &Extractor{}
}

// FileTypes returns the formats this extractor handles.
func (e *Extractor) FileTypes() []domain.FileType {
	return []domain.FileType{domain.FileTypeMarkdown}
}

// Extract strips Markdown syntax. Code block contents and link texts are
// kept; blank lines between blocks survive as paragraph breaks.
func (e *Extractor) Extract(_ context.Context, content []byte) (string, error) {
	text := plaintext.Normalise(string(content))
	text = frontMatter.ReplaceAllString(text, "")

	var out, prose strings.Builder
	inFence := false
	for _, line := range strings.SplitAfter(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if !inFence {
				out.WriteString(stripProse(prose.String()))
				prose.Reset()
			}
			inFence = !inFence
			continue
		}
		if inFence {
			out.WriteString(line)
		} else {
			prose.WriteString(line)
		}
	}
	out.WriteString(stripProse(prose.String()))

	return strings.TrimSpace(blankRuns.ReplaceAllString(out.String(), "\n\n")), nil
}

// stripProse removes the syntax of text outside fenced code.
func stripProse(text string) string {
	text = images.ReplaceAllString(text, "$1")
	text = links.ReplaceAllString(text, "$1")
	text = headings.ReplaceAllString(text, "")
	text = blockquote.ReplaceAllString(text, "")
	text = rule.ReplaceAllString(text, "")
	text = tableDivider.ReplaceAllString(text, "")
	text = listMarker.ReplaceAllString(text, "$1")
	text = htmlTag.ReplaceAllString(text, "")

	// Inline code is kept verbatim; emphasis is only stripped around it.
	var b strings.Builder
	last := 0
	for _, m := range inlineCode.FindAllStringSubmatchIndex(text, -1) {
		b.WriteString(stripEmphasis(text[last:m[0]]))
		b.WriteString(text[m[2]:m[3]])
		last = m[1]
	}
	b.WriteString(stripEmphasis(text[last:]))
	return b.String()
}

// stripEmphasis drops matching *, **, _ and __ delimiters. A delimiter
// run counts only when it hugs its text and is not inside a word, so
// snake_case names and arithmetic such as "a * b" survive.
func stripEmphasis(text string) string {
	var b strings.Builder
	last := 0
	for _, m := range emphasis.FindAllStringSubmatchIndex(text, -1) {
		inner := ""
		for g := 1; g <= 4; g++ {
			if m[2*g] >= 0 {
				inner = text[m[2*g]:m[2*g+1]]
			}
		}
		if !emphasized(text, m[0], m[1], inner) {
			continue
		}
		b.WriteString(text[last:m[0]])
		b.WriteString(inner)
		last = m[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

func emphasized(text string, start, end int, inner string) bool {
	if strings.TrimSpace(inner) != inner {
		return false
	}
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(text[:start]); isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		if r, _ := utf8.DecodeRuneInString(text[end:]); isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Title returns the first level-one heading, or "".
func (e *Extractor) Title(content []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}
