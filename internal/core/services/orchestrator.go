package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
	"github.com/custodia-labs/mizan/internal/core/ports/driving"
	"github.com/custodia-labs/mizan/internal/logger"
	"github.com/custodia-labs/mizan/internal/metrics"
)

// Ensure QueryService implements the interface.
var _ driving.QueryService = (*QueryService)(nil)

// historyTurns is how many previous exchanges are replayed to the generator.
const historyTurns = 3

// QueryDeps are the collaborators of a QueryService.
type QueryDeps struct {
	Router     driven.QueryRouter
	Calculator driven.Calculator
	Compliance driven.ComplianceChecker
	Search     *SearchService
	LLM        driven.LLMService
	Prompts    driven.PromptStore
	Sessions   *SessionManager
	Metrics    *metrics.Metrics
}

// QueryService runs the question answering pipeline:
// connected, routing, retrieving, optionally calculating, generating,
// compliance checking and done. Each query runs in its own goroutine.
type QueryService struct {
	deps      QueryDeps
	retrieval domain.RetrievalSettings
	retry     domain.RetrySettings
	llm       domain.LLMSettings
	buffer    int
	now       func() time.Time
}

// NewQueryService creates the query orchestrator.
func NewQueryService(deps QueryDeps, cfg domain.Config) *QueryService {
	return &QueryService{
		deps:      deps,
		retrieval: cfg.Retrieval,
		retry:     cfg.Retry,
		llm:       cfg.LLM,
		buffer:    max(cfg.StreamBuffer, 1),
		now:       time.Now,
	}
}

// Stream validates req and starts the pipeline. Events arrive in order and
// the channel closes after the single done or error event. Cancelling ctx
// stops the pipeline promptly.
func (s *QueryService) Stream(ctx context.Context, req domain.QueryRequest) (<-chan domain.Event, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.Query = strings.TrimSpace(req.Query)

	out := make(chan domain.Event, s.buffer)
	go func() {
		defer close(out)
		s.run(ctx, req, &emitter{ctx: ctx, out: out, stage: domain.StageConnected, now: s.now, metrics: s.deps.Metrics})
	}()
	return out, nil
}

// Ask runs the pipeline and returns only its result. Failures are
// returned as *domain.PipelineError.
func (s *QueryService) Ask(ctx context.Context, req domain.QueryRequest) (*domain.OrchestratorResult, error) {
	events, err := s.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	var (
		result *domain.OrchestratorResult
		failed *domain.PipelineError
	)
	for ev := range events {
		switch ev.Type {
		case domain.EventDone:
			result = ev.Result
		case domain.EventError:
			failed = ev.Err
		}
	}
	switch {
	case failed != nil:
		return nil, failed
	case result == nil:
		// The stream was abandoned before a terminal event could be queued.
		return nil, domain.NewPipelineError(domain.StageConnected, ctx.Err())
	}
	return result, nil
}

//nolint:gocyclo // Pipeline orchestration with sequential steps
func (s *QueryService) run(ctx context.Context, req domain.QueryRequest, em *emitter) {
	start := s.now()
	logger.Section("Query")
	logger.Debug("Query: %q session=%q", req.Query, req.SessionID)

	// CONNECTED
	session, created, err := s.deps.Sessions.GetOrCreate(ctx, req.SessionID)
	if err != nil {
		s.fail(em, "", err)
		return
	}
	if created && req.SessionID != "" {
		logger.Info("Session %s unavailable, continuing in %s", req.SessionID, session.ID)
	}
	em.sessionID = session.ID
	log := logger.With("session", session.ID)
	if !em.send(domain.Event{Type: domain.EventConnected, SessionID: session.ID}) {
		return
	}

	// ROUTING
	if !em.enter(domain.StageRouting) {
		return
	}
	routing, err := s.deps.Router.Route(ctx, req.Query)
	if err != nil {
		s.fail(em, "", err)
		return
	}
	if !em.send(domain.Event{Type: domain.EventRouting, Routing: &routing}) {
		return
	}
	strat := strategyFor(routing, s.retrieval.RoutingThreshold, req.Inputs)
	category := strat.category()
	log.Debug("Routed to %s (%.2f), answering as %s", routing.Category, routing.Confidence, category)

	// RETRIEVING
	if !em.enter(domain.StageRetrieving) {
		return
	}
	matches, err := s.retrieve(ctx, req.Query, strat)
	if err != nil {
		s.fail(em, category, err)
		return
	}

	// CALCULATING
	var calc *domain.Calculation
	if strat.calculates() {
		if !em.enter(domain.StageCalculating) {
			return
		}
		calc, err = s.deps.Calculator.Calculate(ctx, req.Query, req.Inputs)
		if err != nil {
			s.fail(em, category, err)
			return
		}
	}

	// GENERATING
	if !em.enter(domain.StageGenerating) {
		return
	}
	messages, err := s.messages(req.Query, category, session, matches, calc)
	if err != nil {
		s.fail(em, category, err)
		return
	}
	// Drafts a fragment screen cannot judge are held until Check passes them.
	hold := !s.deps.Compliance.Streamable(category, calc != nil)
	g, err := s.generate(ctx, em, messages, category, hold)
	if err != nil {
		s.fail(em, category, err)
		return
	}
	draft, screened := strings.TrimSpace(g.all.String()), g.screened

	// COMPLIANCE CHECKING
	if !em.enter(domain.StageComplianceChecking) {
		return
	}
	verdict, err := s.deps.Compliance.Check(ctx, driven.Draft{Answer: draft, Category: category, Calculation: calc})
	if err != nil {
		s.fail(em, category, err)
		return
	}
	if screened && verdict.Status != domain.ComplianceFail {
		verdict.Status = domain.ComplianceFail
		verdict.Reasons = append(verdict.Reasons, "stream screen stopped the answer")
	}
	if verdict.Status != domain.ComplianceFail {
		for _, text := range g.held {
			if em.content(text) != nil {
				return
			}
		}
	} else if len(g.held) > 0 {
		log.Debug("Discarded %d held fragments", len(g.held))
	}
	if !em.send(domain.Event{Type: domain.EventCompliance, Compliance: &verdict}) {
		return
	}

	answer := draft
	if verdict.Status == domain.ComplianceFail {
		log.Warn("Answer %s withheld: %v", verdict.AnswerRef,
			fmt.Errorf("%w: %s", domain.ErrComplianceViolation, strings.Join(verdict.Reasons, "; ")))
		answer = s.deps.Compliance.Fallback()
	}

	result := &domain.OrchestratorResult{
		Answer:      answer,
		Category:    category,
		Sources:     sources(matches),
		Calculation: calc,
		Metadata: domain.ResultMetadata{
			RoutingConfidence: routing.Confidence,
			ProcessingTime:    s.now().Sub(start),
			ComplianceStatus:  verdict.Status,
			ComplianceReasons: verdict.Reasons,
			SessionID:         session.ID,
		},
	}

	err = s.deps.Sessions.AppendHistory(ctx, session.ID, domain.Exchange{
		Query:    req.Query,
		Answer:   answer,
		Category: category,
	})
	if err != nil {
		log.Warn("Failed to record history: %v", err)
	}

	// DONE
	if em.finish(domain.Event{Type: domain.EventDone, Result: result}) {
		s.deps.Metrics.QueryOutcome(category, string(verdict.Status))
		log.Info("Answered in %s (%s, %s)", result.Metadata.ProcessingTime, category, verdict.Status)
	}
}

// fail emits the terminal error event for the current stage.
func (s *QueryService) fail(em *emitter, category domain.Category, err error) {
	if ctxErr := em.ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = errors.Join(ctxErr, err)
	}
	pe := domain.NewPipelineError(em.stage, err)
	logger.With("session", em.sessionID).Warn("Query failed at %s: %v", em.stage, err)
	em.finish(domain.Event{Type: domain.EventError, Err: pe})
	s.deps.Metrics.QueryOutcome(category, "error")
}

// retrieve searches with the strategy's filters and widens once to an
// unfiltered search when the narrowed one finds nothing.
func (s *QueryService) retrieve(ctx context.Context, query string, strat strategy) ([]domain.SearchMatch, error) {
	q := strat.query(s.retrieval.Limit, s.retrieval.Threshold)
	matches, err := s.deps.Search.retrieve(ctx, query, q)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 && !q.Filters.IsZero() {
		logger.Debug("No matches in %s, widening search", q.Filters.Category)
		q.Filters = domain.SearchFilters{}
		return s.deps.Search.retrieve(ctx, query, q)
	}
	return matches, nil
}

// messages builds the chat for the generator: system prompt, recent
// history, then the passages and question.
func (s *QueryService) messages(
	query string,
	category domain.Category,
	session *domain.Session,
	matches []domain.SearchMatch,
	calc *domain.Calculation,
) ([]driven.ChatMessage, error) {
	system, err := s.deps.Prompts.Load(driven.PromptAnswerSystem)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrGeneration, err)
	}
	instructions, err := s.deps.Prompts.Load(driven.PromptAnswerPrefix + string(category))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrGeneration, err)
	}

	msgs := []driven.ChatMessage{{Role: driven.RoleSystem, Content: system}}
	history := session.History
	if len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}
	for _, ex := range history {
		msgs = append(msgs,
			driven.ChatMessage{Role: driven.RoleUser, Content: ex.Query},
			driven.ChatMessage{Role: driven.RoleAssistant, Content: ex.Answer},
		)
	}
	return append(msgs, driven.ChatMessage{
		Role:    driven.RoleUser,
		Content: buildPrompt(instructions, query, matches, calc),
	}), nil
}

// buildPrompt lays out the user message under the well-known headers.
func buildPrompt(instructions, query string, matches []domain.SearchMatch, calc *domain.Calculation) string {
	var b strings.Builder
	if instructions != "" {
		b.WriteString(instructions)
		b.WriteString("\n\n")
	}
	if calc != nil {
		b.WriteString(driven.PromptCalculationHeader)
		b.WriteByte('\n')
		for _, step := range calc.Steps {
			b.WriteString(step)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	if len(matches) > 0 {
		b.WriteString(driven.PromptPassagesHeader)
		b.WriteByte('\n')
		for i, m := range matches {
			fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, m.DocumentTitle, strings.TrimSpace(m.Content))
		}
	}
	b.WriteString(driven.PromptQuestionHeader)
	b.WriteByte(' ')
	b.WriteString(query)
	return b.String()
}

// errScreened stops generation when streamed text trips the screen.
var errScreened = errors.New("content screen tripped")

// generate streams the answer through the sentence gate. Attempts that
// fail transiently are retried only while nothing has been emitted. With
// hold set the gate keeps released text in held instead of emitting it.
func (s *QueryService) generate(
	ctx context.Context,
	em *emitter,
	msgs []driven.ChatMessage,
	category domain.Category,
	hold bool,
) (*gate, error) {
	opts := driven.ChatOptions{MaxTokens: s.llm.MaxTokens, Temperature: s.llm.Temperature}
	screen := func(text string) bool { return s.deps.Compliance.Screen(category, text) }

	var g *gate
	err := Retry(ctx, s.retry, func(attempt int) error {
		genCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		g = &gate{screen: screen, emit: em.content, hold: hold}
		err := s.deps.LLM.ChatStream(genCtx, msgs, opts, g.write)
		if err == nil {
			err = g.flush()
		}
		switch {
		case err == nil, errors.Is(err, errScreened):
			return nil
		case g.emitted:
			return Permanent(err)
		default:
			logger.Debug("Generation attempt %d failed: %v", attempt, err)
			return err
		}
	})
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, domain.ErrGeneration) {
			err = fmt.Errorf("%w: %w", domain.ErrGeneration, err)
		}
		return nil, err
	}
	if g.screened {
		logger.Warn("Content screen stopped generation")
	}
	return g, nil
}

// sentenceEnd matches a sentence terminator and its trailing whitespace.
var sentenceEnd = regexp.MustCompile(`[.!?؟:]["')\]]*\s+|\n\s*\n`)

// gate releases generated text a sentence at a time once the screen
// accepts it.
type gate struct {
	screen   func(string) bool
	emit     func(string) error
	hold     bool
	held     []string
	pending  strings.Builder
	all      strings.Builder
	emitted  bool
	screened bool
}

func (g *gate) write(delta string) error {
	g.pending.WriteString(delta)
	g.all.WriteString(delta)

	text := g.pending.String()
	ends := sentenceEnd.FindAllStringIndex(text, -1)
	if len(ends) == 0 {
		return nil
	}
	cut := ends[len(ends)-1][1]
	g.pending.Reset()
	g.pending.WriteString(text[cut:])
	return g.release(text[:cut])
}

func (g *gate) flush() error {
	text := g.pending.String()
	g.pending.Reset()
	if text == "" {
		return nil
	}
	return g.release(text)
}

func (g *gate) release(text string) error {
	if !g.screen(text) {
		g.screened = true
		return errScreened
	}
	if g.hold {
		g.held = append(g.held, text)
		return nil
	}
	if err := g.emit(text); err != nil {
		return err
	}
	g.emitted = true
	return nil
}

func sources(matches []domain.SearchMatch) []domain.SourceAttribution {
	out := make([]domain.SourceAttribution, len(matches))
	for i, m := range matches {
		out[i] = domain.SourceAttribution{
			DocumentID: m.DocumentID,
			ChunkID:    m.ChunkID,
			Title:      m.DocumentTitle,
			Score:      m.Score,
		}
	}
	return out
}

// emitter sends a query's events and enforces the stage order.
type emitter struct {
	ctx       context.Context
	out       chan<- domain.Event
	stage     domain.Stage
	entered   time.Time
	sessionID string
	done      bool
	now       func() time.Time
	metrics   *metrics.Metrics
}

// send delivers ev. If the consumer has gone away the stream is ended
// with a cancellation error instead.
func (e *emitter) send(ev domain.Event) bool {
	if e.done {
		return false
	}
	ev.SessionID = e.sessionID
	select {
	case e.out <- ev:
		return true
	case <-e.ctx.Done():
		e.finish(domain.Event{Type: domain.EventError, Err: domain.NewPipelineError(e.stage, e.ctx.Err())})
		return false
	}
}

// enter moves to stage, announcing the stages clients track.
func (e *emitter) enter(stage domain.Stage) bool {
	if !e.stage.CanTransitionTo(stage) {
		panic(fmt.Sprintf("illegal stage transition %s -> %s", e.stage, stage))
	}
	if err := e.ctx.Err(); err != nil {
		e.finish(domain.Event{Type: domain.EventError, Err: domain.NewPipelineError(e.stage, err)})
		return false
	}
	now := e.now()
	if !e.entered.IsZero() {
		e.metrics.ObserveStage(e.stage, now.Sub(e.entered))
	}
	e.stage, e.entered = stage, now
	logger.Section(strings.ReplaceAll(string(stage), "_", " "))

	switch stage {
	case domain.StageRouting, domain.StageRetrieving, domain.StageCalculating, domain.StageGenerating:
		return e.send(domain.Event{Type: domain.EventStatus, Stage: stage})
	}
	return true
}

// content emits a released piece of the answer.
func (e *emitter) content(text string) error {
	if !e.send(domain.Event{Type: domain.EventContent, Content: text}) {
		return e.ctx.Err()
	}
	return nil
}

// finish emits the terminal event. When the consumer has cancelled, the
// event is queued only if the buffer has room. It reports whether the
// event was delivered.
func (e *emitter) finish(ev domain.Event) bool {
	if e.done {
		return false
	}
	if !e.entered.IsZero() {
		e.metrics.ObserveStage(e.stage, e.now().Sub(e.entered))
	}
	if ev.Type == domain.EventDone {
		e.stage = domain.StageDone
	}
	ev.SessionID = e.sessionID
	delivered := false
	if e.ctx.Err() == nil {
		delivered = e.send(ev)
	} else {
		select {
		case e.out <- ev:
			delivered = true
		default:
		}
	}
	e.done = true
	return delivered
}
