package chunker

import (
	"iter"
	"unicode"
)

// Segment is one window over the text. Offsets count runes.
type Segment struct {
	Index int
	Start int
	End   int

	// Overlap is how many leading runes the previous segment also covered.
	Overlap int

	Text string
}

// Fresh returns the runes of the segment not covered by its predecessor.
func (s Segment) Fresh() string {
	r := []rune(s.Text)
	return string(r[s.Overlap:])
}

// Sequence is a finite, restartable sequence of segments.
// Nothing is computed until it is iterated.
type Sequence struct {
	text []rune
	cfg  Chunker
}

// All yields the segments in order. Each call starts from the beginning.
func (s *Sequence) All() iter.Seq[Segment] {
	return func(yield func(Segment) bool) {
		n := len(s.text)
		start, prevEnd := 0, 0
		for index := 0; start < n; index++ {
			end := min(start+s.cfg.targetSize, n)
			if end < n {
				end = s.snap(start, end)
			}

			seg := Segment{
				Index:   index,
				Start:   start,
				End:     end,
				Overlap: prevEnd - start,
				Text:    string(s.text[start:end]),
			}
			if !yield(seg) || end == n {
				return
			}

			prevEnd = end
			start = end - s.cfg.overlap
		}
	}
}

// Count returns the number of segments.
func (s *Sequence) Count() int {
	n := 0
	for range s.All() {
		n++
	}
	return n
}

// Break strengths, weakest first.
const (
	breakNone = iota
	breakSpace
	breakSentence
	breakLine
	breakParagraph
)

// snap pulls end back to the strongest break within tolerance. The result
// always leaves more than overlap runes after start so the window advances.
func (s *Sequence) snap(start, end int) int {
	lo := max(end-s.cfg.tolerance, start+s.cfg.overlap+1)
	best, bestKind := end, breakNone
	for b := end; b >= lo; b-- {
		kind := s.breakBefore(b)
		if kind > bestKind {
			best, bestKind = b, kind
			if kind == breakParagraph {
				break
			}
		}
	}
	return best
}

// breakBefore classifies the boundary between text[b-1] and text[b].
func (s *Sequence) breakBefore(b int) int {
	if b < 1 || b > len(s.text) {
		return breakNone
	}
	prev := s.text[b-1]
	switch {
	case prev == '\n' && b >= 2 && s.text[b-2] == '\n':
		return breakParagraph
	case prev == '\n':
		return breakLine
	case unicode.IsSpace(prev) && b >= 2 && isTerminator(s.text[b-2]):
		return breakSentence
	case unicode.IsSpace(prev):
		return breakSpace
	default:
		return breakNone
	}
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', ';', '؟', '۔':
		return true
	default:
		return false
	}
}
