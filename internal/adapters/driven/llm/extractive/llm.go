// Package extractive provides an offline answer generator. Instead of
// running a language model it selects the passage sentences that best
// overlap the question and cites them, so the whole pipeline works without
// network access.
package extractive

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/custodia-labs/mizan/internal/core/ports/driven"
)

// Ensure LLMService implements the interface.
var _ driven.LLMService = (*LLMService)(nil)

// Default configuration values.
const (
	DefaultModel        = "extractive-v1"
	DefaultMaxSentences = 3
)

// NoAnswer is returned when no passages were supplied.
const NoAnswer = "The available documents do not cover this question."

var (
	passageLine   = regexp.MustCompile(`^\[(\d+)\]`)
	sentenceSplit = regexp.MustCompile(`[^.!?؟]+[.!?؟]+["')\]]*|[^.!?؟]+$`)
	wordPattern   = regexp.MustCompile(`[\p{L}\p{N}]+`)
	quoted        = regexp.MustCompile(`"([^"]+)"`)
)

// LLMService composes answers from the passages in the prompt.
type LLMService struct {
	model        string
	maxSentences int
}

// Option configures the generator.
type Option func(*LLMService)

// WithMaxSentences caps how many passage sentences an answer quotes.
func WithMaxSentences(n int) Option {
	return func(s *LLMService) {
		if n > 0 {
			s.maxSentences = n
		}
	}
}

// NewLLMService creates an extractive generator.
func NewLLMService(opts ...Option) *LLMService {
	s := &LLMService{model: DefaultModel, maxSentences: DefaultMaxSentences}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// answer responds to the last user message. A quoted sentence in the
// system message is treated as the closing disclaimer.
func (s *LLMService) answer(ctx context.Context, messages []driven.ChatMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	system, user := split(messages)
	return s.compose(system, user), nil
}

// ChatStream emits the composed answer word by word.
func (s *LLMService) ChatStream(
	ctx context.Context,
	messages []driven.ChatMessage,
	_ driven.ChatOptions,
	onDelta func(string) error,
) error {
	text, err := s.answer(ctx, messages)
	if err != nil {
		return err
	}
	for _, piece := range fragments(text) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onDelta(piece); err != nil {
			return err
		}
	}
	return nil
}

func split(messages []driven.ChatMessage) (system, user string) {
	for _, m := range messages {
		switch m.Role {
		case driven.RoleSystem:
			system = m.Content
		case driven.RoleUser:
			user = m.Content
		}
	}
	return system, user
}

// fragments splits s after each space, keeping the spaces so the pieces
// concatenate back to s.
func fragments(s string) []string {
	var out []string
	for len(s) > 0 {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}

type passage struct {
	ref  int
	text strings.Builder
}

type prompt struct {
	question    string
	calculation []string
	passages    []*passage
}

func parse(message string) prompt {
	var (
		p       prompt
		section string
	)
	lines := strings.Split(message, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, driven.PromptQuestionHeader):
			rest := append([]string{strings.TrimPrefix(trimmed, driven.PromptQuestionHeader)}, lines[i+1:]...)
			p.question = strings.TrimSpace(strings.Join(rest, "\n"))
			return p
		case trimmed == driven.PromptPassagesHeader || trimmed == driven.PromptCalculationHeader:
			section = trimmed
		case section == driven.PromptCalculationHeader:
			if trimmed != "" {
				p.calculation = append(p.calculation, trimmed)
			}
		case section == driven.PromptPassagesHeader:
			if m := passageLine.FindStringSubmatch(trimmed); m != nil {
				var ref int
				_, _ = fmt.Sscanf(m[1], "%d", &ref)
				p.passages = append(p.passages, &passage{ref: ref})
				continue
			}
			if len(p.passages) > 0 && trimmed != "" {
				cur := p.passages[len(p.passages)-1]
				if cur.text.Len() > 0 {
					cur.text.WriteByte(' ')
				}
				cur.text.WriteString(trimmed)
			}
		}
	}
	// No question header: the whole message is the question.
	p.question = strings.TrimSpace(message)
	return p
}

type candidate struct {
	order int
	ref   int
	text  string
	score int
}

func (s *LLMService) compose(system, message string) string {
	p := parse(message)

	var parts []string
	if len(p.calculation) > 0 {
		parts = append(parts, strings.Join(p.calculation, "\n"))
	}

	if quotes := s.quotes(p); len(quotes) > 0 {
		parts = append(parts, strings.Join(quotes, " "))
	} else if len(p.calculation) == 0 {
		parts = append(parts, NoAnswer)
	}

	if m := quoted.FindAllStringSubmatch(system, -1); len(m) > 0 {
		parts = append(parts, m[len(m)-1][1])
	}
	return strings.Join(parts, "\n\n")
}

// quotes ranks passage sentences by overlap with the question and returns
// the best ones in passage order, each with its citation.
func (s *LLMService) quotes(p prompt) []string {
	query := terms(p.question)

	var candidates []candidate
	for _, ps := range p.passages {
		for _, sentence := range sentenceSplit.FindAllString(ps.text.String(), -1) {
			sentence = strings.TrimSpace(sentence)
			if sentence == "" {
				continue
			}
			score := 0
			for t := range terms(sentence) {
				if _, ok := query[t]; ok {
					score++
				}
			}
			candidates = append(candidates, candidate{order: len(candidates), ref: ps.ref, text: sentence, score: score})
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	ranked := slices.Clone(candidates)
	slices.SortStableFunc(ranked, func(a, b candidate) int { return b.score - a.score })
	if ranked[0].score == 0 {
		// Nothing overlaps; the top-ranked passage still leads.
		ranked = ranked[:1]
	}
	var picked []candidate
	for _, c := range ranked {
		if len(picked) == s.maxSentences || (c.score == 0 && len(picked) > 0) {
			break
		}
		picked = append(picked, c)
	}
	slices.SortFunc(picked, func(a, b candidate) int { return a.order - b.order })

	out := make([]string, len(picked))
	for i, c := range picked {
		out[i] = fmt.Sprintf("%s [%d]", c.text, c.ref)
	}
	return out
}

func terms(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if len([]rune(w)) < 3 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		out[strings.TrimSuffix(w, "s")] = struct{}{}
	}
	return out
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "are": {}, "was": {}, "were": {}, "this": {},
	"that": {}, "these": {}, "those": {}, "from": {}, "what": {}, "how": {}, "does": {}, "which": {},
	"who": {}, "why": {}, "when": {}, "can": {}, "will": {}, "should": {}, "about": {}, "into": {},
	"between": {}, "difference": {},
}

// ModelName returns the name of the generator.
func (s *LLMService) ModelName() string {
	return s.model
}

// Ping always succeeds; there is nothing to reach.
func (s *LLMService) Ping(context.Context) error {
	return nil
}

// Close releases resources.
func (s *LLMService) Close() error {
	return nil
}
