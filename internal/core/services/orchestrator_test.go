package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vectormem "github.com/custodia-labs/mizan/internal/adapters/driven/vector/memory"
	"github.com/custodia-labs/mizan/internal/core/domain"
)

const murabahaText = `Murabaha is a cost-plus sale. The bank buys the asset and sells it to the customer at a disclosed markup.

Murabaha financing works because the profit comes from the sale, not from lending money. The customer pays in instalments.`

const ribaText = `Riba is any predetermined excess on a loan. Its prohibition is the foundation of Islamic finance.

Profit must follow risk sharing rather than the passage of time.`

func content(events []domain.Event) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == domain.EventContent {
			b.WriteString(ev.Content)
		}
	}
	return b.String()
}

func terminal(t *testing.T, events []domain.Event) domain.Event {
	t.Helper()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.True(t, last.Type.IsTerminal(), "last event is %s", last.Type)
	for _, ev := range events[:len(events)-1] {
		require.False(t, ev.Type.IsTerminal(), "terminal event %s before the end", ev.Type)
	}
	return last
}

func TestQueryService_ProductQuestion(t *testing.T) {
	p := newPipeline(t)
	doc := p.ingest(t, "Murabaha Guide", domain.CategoryProducts, murabahaText)
	require.Equal(t, domain.StatusIndexed, doc.Status)

	events, err := p.query.Stream(context.Background(), domain.QueryRequest{Query: "How does murabaha financing work?"})
	require.NoError(t, err)
	got := collect(t, events)

	assert.Equal(t, []domain.EventType{
		domain.EventConnected,
		domain.EventStatus,
		domain.EventRouting,
		domain.EventStatus,
		domain.EventStatus,
		domain.EventContent,
		domain.EventCompliance,
		domain.EventDone,
	}, eventTypes(got))

	assert.Equal(t, domain.StageRouting, got[1].Stage)
	assert.Equal(t, domain.CategoryProducts, got[2].Routing.Category)
	assert.Equal(t, domain.StageRetrieving, got[3].Stage)
	assert.Equal(t, domain.StageGenerating, got[4].Stage)

	done := terminal(t, got)
	result := done.Result
	require.NotNil(t, result)
	assert.Equal(t, domain.CategoryProducts, result.Category)
	assert.Equal(t, domain.CompliancePass, result.Metadata.ComplianceStatus)
	assert.Equal(t, got[0].SessionID, result.Metadata.SessionID)
	assert.NotEmpty(t, result.Metadata.SessionID)
	assert.Equal(t, 1.0, result.Metadata.RoutingConfidence)
	require.NotEmpty(t, result.Sources)
	assert.Equal(t, doc.ID, result.Sources[0].DocumentID)
	assert.Equal(t, "Murabaha Guide", result.Sources[0].Title)
	assert.Contains(t, result.Answer, "[1]")
	assert.Contains(t, result.Answer, "qualified Shariah scholar")
	assert.Equal(t, strings.TrimSpace(content(got)), result.Answer)
	assert.Nil(t, result.Calculation)
}

func TestQueryService_Calculation(t *testing.T) {
	p := newPipeline(t)

	result, err := p.query.Ask(context.Background(), domain.QueryRequest{Query: "Musharakah 60/40 split of $100,000 profit"})
	require.NoError(t, err)

	assert.Equal(t, domain.CategoryCalculation, result.Category)
	require.NotNil(t, result.Calculation)
	assert.Equal(t, map[string]float64{"partnerA": 60000, "partnerB": 40000}, result.Calculation.Outputs)
	assert.Contains(t, result.Answer, "60,000")
	assert.Contains(t, result.Answer, "40,000")
	assert.Equal(t, domain.CompliancePass, result.Metadata.ComplianceStatus)
}

func TestQueryService_CalculationStage(t *testing.T) {
	p := newPipeline(t)
	events, err := p.query.Stream(context.Background(), domain.QueryRequest{Query: "Musharakah 60/40 split of $100,000 profit"})
	require.NoError(t, err)

	var stages []domain.Stage
	for _, ev := range collect(t, events) {
		if ev.Type == domain.EventStatus {
			stages = append(stages, ev.Stage)
		}
	}
	assert.Equal(t, []domain.Stage{
		domain.StageRouting, domain.StageRetrieving, domain.StageCalculating, domain.StageGenerating,
	}, stages)
}

func TestQueryService_CalculationDraftHeldUntilChecked(t *testing.T) {
	llm := &scriptedLLM{script: func(_ context.Context, _ int, onDelta func(string) error) error {
		return stream(onDelta, "Each partner receives an equal share of the profit. ",
			"Consult a qualified Shariah scholar.")
	}}
	p := newPipeline(t, withLLM(llm))

	events, err := p.query.Stream(context.Background(), domain.QueryRequest{Query: "Musharakah 60/40 split of $100,000 profit"})
	require.NoError(t, err)
	got := collect(t, events)

	assert.Empty(t, content(got), "a draft missing the calculated figures must not be streamed")
	assert.NotContains(t, eventTypes(got), domain.EventContent)

	done := terminal(t, got)
	require.Equal(t, domain.EventDone, done.Type)
	assert.Equal(t, domain.ComplianceFail, done.Result.Metadata.ComplianceStatus)
	assert.NotContains(t, done.Result.Answer, "equal share")
}

func TestQueryService_CalculationDraftReleasedAfterCheck(t *testing.T) {
	llm := &scriptedLLM{script: func(_ context.Context, _ int, onDelta func(string) error) error {
		return stream(onDelta, "Partner A receives 60,000 and partner B receives 40,000. ",
			"Consult a qualified Shariah scholar.")
	}}
	p := newPipeline(t, withLLM(llm))

	events, err := p.query.Stream(context.Background(), domain.QueryRequest{Query: "Musharakah 60/40 split of $100,000 profit"})
	require.NoError(t, err)
	got := collect(t, events)

	types := eventTypes(got)
	require.Contains(t, types, domain.EventContent)
	assert.Equal(t, []domain.EventType{domain.EventContent, domain.EventCompliance, domain.EventDone}, types[len(types)-3:])

	done := terminal(t, got)
	require.Equal(t, domain.EventDone, done.Type)
	assert.Equal(t, domain.CompliancePass, done.Result.Metadata.ComplianceStatus)
	assert.Equal(t, done.Result.Answer, strings.TrimSpace(content(got)))
}

func TestQueryService_MissingInputsAreReported(t *testing.T) {
	p := newPipeline(t)
	events, err := p.query.Stream(context.Background(), domain.QueryRequest{
		Query:  "how would a musharakah split work?",
		Inputs: &domain.CalculationInputs{Ratio: []float64{60, 40}},
	})
	require.NoError(t, err)
	got := collect(t, events)

	last := terminal(t, got)
	require.Equal(t, domain.EventError, last.Type)
	assert.Equal(t, domain.StageCalculating, last.Err.Step)
	assert.Equal(t, domain.CodeMissingInputs, last.Err.Code)
	assert.Contains(t, last.Err.Message, "amount")
	assert.NotContains(t, eventTypes(got), domain.EventContent)
}

func TestQueryService_AskReturnsPipelineError(t *testing.T) {
	p := newPipeline(t)
	_, err := p.query.Ask(context.Background(), domain.QueryRequest{
		Query:  "musharakah split",
		Inputs: &domain.CalculationInputs{Ratio: []float64{120, -20}, Amount: new(float64)},
	})
	var pe *domain.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, domain.CodeInvalidInputs, pe.Code)
	assert.ErrorIs(t, err, domain.ErrInvalidInputs)
}

func TestQueryService_ValidationFailsBeforeStreaming(t *testing.T) {
	p := newPipeline(t)
	for _, q := range []string{"", "   ", strings.Repeat("a", domain.MaxQueryLength+1)} {
		events, err := p.query.Stream(context.Background(), domain.QueryRequest{Query: q})
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Nil(t, events)
	}
	assert.Zero(t, p.sessions.Len())
}

func TestQueryService_LowConfidenceSearchesEverything(t *testing.T) {
	rec := &recordingIndex{VectorIndex: vectormem.New(0)}
	p := newPipeline(t, withIndex(rec))
	p.ingest(t, "Riba", domain.CategoryPrinciples, ribaText)

	result, err := p.query.Ask(context.Background(), domain.QueryRequest{Query: "hello there"})
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryGeneral, result.Category)
	assert.Zero(t, result.Metadata.RoutingConfidence)

	queries := rec.recorded()
	require.Len(t, queries, 1)
	assert.True(t, queries[0].Filters.IsZero())
}

func TestQueryService_EmptyNarrowSearchWidensOnce(t *testing.T) {
	rec := &recordingIndex{VectorIndex: vectormem.New(0)}
	p := newPipeline(t, withIndex(rec))
	doc := p.ingest(t, "Riba", domain.CategoryPrinciples, ribaText)

	result, err := p.query.Ask(context.Background(), domain.QueryRequest{Query: "How does murabaha financing work?"})
	require.NoError(t, err)

	queries := rec.recorded()
	require.Len(t, queries, 2)
	assert.Equal(t, domain.CategoryProducts, queries[0].Filters.Category)
	assert.True(t, queries[1].Filters.IsZero())
	require.NotEmpty(t, result.Sources)
	assert.Equal(t, doc.ID, result.Sources[0].DocumentID)
}

func TestQueryService_ComparisonRetrievesMore(t *testing.T) {
	rec := &recordingIndex{VectorIndex: vectormem.New(0)}
	p := newPipeline(t, withIndex(rec))

	_, err := p.query.Ask(context.Background(), domain.QueryRequest{
		Query: "What is the difference between islamic and conventional mortgages?",
	})
	require.NoError(t, err)
	queries := rec.recorded()
	require.NotEmpty(t, queries)
	assert.Equal(t, domain.CategoryComparison, queries[0].Filters.Category)
	assert.Equal(t, 2*p.cfg.Retrieval.Limit, queries[0].Limit)
}

func TestQueryService_ScreenWithholdsFailingAnswer(t *testing.T) {
	llm := &scriptedLLM{script: func(_ context.Context, _ int, onDelta func(string) error) error {
		return stream(onDelta, "Sukuk are ", "asset backed certificates. ", "They pay guaranteed returns ", "every year. ")
	}}
	p := newPipeline(t, withLLM(llm))

	events, err := p.query.Stream(context.Background(), domain.QueryRequest{Query: "How does sukuk financing work?"})
	require.NoError(t, err)
	got := collect(t, events)

	streamed := content(got)
	assert.Equal(t, "Sukuk are asset backed certificates. ", streamed)
	assert.NotContains(t, streamed, "guaranteed")

	var verdict *domain.ComplianceResult
	for _, ev := range got {
		if ev.Type == domain.EventCompliance {
			verdict = ev.Compliance
		}
	}
	require.NotNil(t, verdict)
	assert.Equal(t, domain.ComplianceFail, verdict.Status)

	done := terminal(t, got)
	require.Equal(t, domain.EventDone, done.Type)
	assert.Contains(t, done.Result.Answer, "consult a qualified Shariah scholar")
	assert.NotContains(t, done.Result.Answer, "guaranteed")
	assert.Equal(t, domain.ComplianceFail, done.Result.Metadata.ComplianceStatus)
	assert.NotEmpty(t, done.Result.Metadata.ComplianceReasons)
}

func TestQueryService_FlaggedAnswerIsDelivered(t *testing.T) {
	llm := &scriptedLLM{script: func(_ context.Context, _ int, onDelta func(string) error) error {
		return stream(onDelta, "Takaful is cooperative insurance [1].")
	}}
	p := newPipeline(t, withLLM(llm))

	result, err := p.query.Ask(context.Background(), domain.QueryRequest{Query: "How does takaful work?"})
	require.NoError(t, err)
	assert.Equal(t, domain.ComplianceFlagged, result.Metadata.ComplianceStatus)
	assert.Equal(t, "Takaful is cooperative insurance [1].", result.Answer)
	assert.NotEmpty(t, result.Metadata.ComplianceReasons)
}

func transientErr() error {
	return fmt.Errorf("%w: %w: upstream 503", domain.ErrGeneration, domain.ErrTransient)
}

func TestQueryService_RetriesGenerationBeforeContent(t *testing.T) {
	llm := &scriptedLLM{script: func(_ context.Context, call int, onDelta func(string) error) error {
		if call == 1 {
			return transientErr()
		}
		return stream(onDelta, "Riba is forbidden. ")
	}}
	p := newPipeline(t, withLLM(llm))

	result, err := p.query.Ask(context.Background(), domain.QueryRequest{Query: "What is riba?"})
	require.NoError(t, err)
	assert.Equal(t, "Riba is forbidden.", result.Answer)
	assert.EqualValues(t, 2, llm.calls.Load())
}

func TestQueryService_NoRetryAfterContent(t *testing.T) {
	llm := &scriptedLLM{script: func(_ context.Context, _ int, onDelta func(string) error) error {
		if err := onDelta("Riba is forbidden. "); err != nil {
			return err
		}
		return transientErr()
	}}
	p := newPipeline(t, withLLM(llm))

	events, err := p.query.Stream(context.Background(), domain.QueryRequest{Query: "What is riba?"})
	require.NoError(t, err)
	got := collect(t, events)

	last := terminal(t, got)
	require.Equal(t, domain.EventError, last.Type)
	assert.Equal(t, domain.StageGenerating, last.Err.Step)
	assert.Equal(t, domain.CodeGeneration, last.Err.Code)
	assert.Equal(t, "Riba is forbidden. ", content(got))
	assert.EqualValues(t, 1, llm.calls.Load())
}

func TestQueryService_GenerationRetriesExhausted(t *testing.T) {
	llm := &scriptedLLM{script: func(context.Context, int, func(string) error) error {
		return transientErr()
	}}
	p := newPipeline(t, withLLM(llm))

	_, err := p.query.Ask(context.Background(), domain.QueryRequest{Query: "What is riba?"})
	var pe *domain.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, domain.CodeGeneration, pe.Code)
	assert.EqualValues(t, p.cfg.Retry.MaxAttempts, llm.calls.Load())
}

func TestQueryService_RetrievalErrorIsFatal(t *testing.T) {
	broken := &brokenIndex{VectorIndex: vectormem.New(0), err: errors.New("index file corrupted")}
	p := newPipeline(t, withIndex(broken))

	_, err := p.query.Ask(context.Background(), domain.QueryRequest{Query: "What is riba?"})
	var pe *domain.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, domain.StageRetrieving, pe.Step)
	assert.Equal(t, domain.CodeRetrieval, pe.Code)
	assert.Contains(t, pe.Message, "corrupted")
}

func TestQueryService_EmbeddingRetriedThenFails(t *testing.T) {
	calls := 0
	embedder := newHookedEmbedder(func(context.Context) error {
		calls++
		return fmt.Errorf("%w: %w: rate limited", domain.ErrEmbeddingProvider, domain.ErrTransient)
	})
	p := newPipeline(t, withEmbedder(embedder))

	_, err := p.query.Ask(context.Background(), domain.QueryRequest{Query: "What is riba?"})
	var pe *domain.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, domain.StageRetrieving, pe.Step)
	assert.Equal(t, domain.CodeEmbeddingProvider, pe.Code)
	assert.Equal(t, p.cfg.Retry.MaxAttempts, calls)
}

func TestQueryService_SessionContinuity(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	first, err := p.query.Ask(ctx, domain.QueryRequest{Query: "What is riba?"})
	require.NoError(t, err)
	id := first.Metadata.SessionID

	second, err := p.query.Ask(ctx, domain.QueryRequest{Query: "What is gharar?", SessionID: id})
	require.NoError(t, err)
	assert.Equal(t, id, second.Metadata.SessionID)

	s, err := p.manager.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, s.History, 2)
	assert.Equal(t, "What is riba?", s.History[0].Query)
	assert.Equal(t, "What is gharar?", s.History[1].Query)

	third, err := p.query.Ask(ctx, domain.QueryRequest{Query: "What is maysir?"})
	require.NoError(t, err)
	assert.NotEqual(t, id, third.Metadata.SessionID)
}

func TestQueryService_UnknownSessionGetsNewOne(t *testing.T) {
	p := newPipeline(t)
	result, err := p.query.Ask(context.Background(), domain.QueryRequest{Query: "What is riba?", SessionID: "stale"})
	require.NoError(t, err)
	assert.NotEqual(t, "stale", result.Metadata.SessionID)
	assert.NotEmpty(t, result.Metadata.SessionID)
}

func TestQueryService_CancellationStopsGeneration(t *testing.T) {
	started := make(chan struct{})
	stopped := make(chan struct{})
	llm := &scriptedLLM{script: func(ctx context.Context, _ int, onDelta func(string) error) error {
		defer close(stopped)
		if err := onDelta("Riba is forbidden. "); err != nil {
			return err
		}
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}
	p := newPipeline(t, withLLM(llm))

	ctx, cancel := context.WithCancel(context.Background())
	events, err := p.query.Stream(ctx, domain.QueryRequest{Query: "What is riba?"})
	require.NoError(t, err)

	<-started
	cancel()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("generation kept running after cancellation")
	}

	got := collect(t, events)
	last := terminal(t, got)
	require.Equal(t, domain.EventError, last.Type)
	assert.Equal(t, domain.CodeCancelled, last.Err.Code)
	assert.Equal(t, domain.StageGenerating, last.Err.Step)
}

func TestQueryService_ConcurrentQueries(t *testing.T) {
	p := newPipeline(t)
	p.ingest(t, "Riba", domain.CategoryPrinciples, ribaText)

	const n = 8
	errs := make(chan error, n)
	ids := make(chan string, n)
	for i := range n {
		go func() {
			r, err := p.query.Ask(context.Background(), domain.QueryRequest{Query: fmt.Sprintf("What is riba? (%d)", i)})
			if err == nil {
				ids <- r.Metadata.SessionID
			}
			errs <- err
		}()
	}
	seen := make(map[string]bool)
	for range n {
		require.NoError(t, <-errs)
		seen[<-ids] = true
	}
	assert.Len(t, seen, n)
}

func TestGate_ReleasesWholeSentences(t *testing.T) {
	var emitted []string
	g := &gate{
		screen: func(string) bool { return true },
		emit: func(s string) error {
			emitted = append(emitted, s)
			return nil
		},
	}
	require.NoError(t, g.write("Mudharabah is a "))
	assert.Empty(t, emitted)
	require.NoError(t, g.write("partnership. The investor "))
	assert.Equal(t, []string{"Mudharabah is a partnership. "}, emitted)
	require.NoError(t, g.write("supplies capital"))
	require.NoError(t, g.flush())
	assert.Equal(t, []string{"Mudharabah is a partnership. ", "The investor supplies capital"}, emitted)
	assert.True(t, g.emitted)
	assert.Equal(t, "Mudharabah is a partnership. The investor supplies capital", g.all.String())
}

func TestBuildPrompt(t *testing.T) {
	got := buildPrompt("Be brief.", "What is riba?",
		[]domain.SearchMatch{{DocumentTitle: "Basics", Content: " Riba is excess. "}},
		&domain.Calculation{Steps: []string{"a = 1", "b = 2"}})

	assert.Equal(t, "Be brief.\n\nCalculation:\na = 1\nb = 2\n\nPassages:\n[1] Basics\nRiba is excess.\n\nQuestion: What is riba?", got)
	assert.Equal(t, "Question: hi", buildPrompt("", "hi", nil, nil))
}

func TestStrategyFor(t *testing.T) {
	tests := []struct {
		name   string
		r      domain.RoutingResult
		inputs *domain.CalculationInputs
		want   strategy
	}{
		{"products", domain.RoutingResult{Category: domain.CategoryProducts, Confidence: 0.9}, nil,
			retrievalStrategy{cat: domain.CategoryProducts}},
		{"low confidence", domain.RoutingResult{Category: domain.CategoryProducts, Confidence: 0.1}, nil,
			generalStrategy{}},
		{"comparison", domain.RoutingResult{Category: domain.CategoryComparison, Confidence: 1}, nil,
			comparisonStrategy{}},
		{"calculation", domain.RoutingResult{Category: domain.CategoryCalculation, Confidence: 0.5}, nil,
			calculationStrategy{}},
		{"explicit inputs", domain.RoutingResult{Category: domain.CategoryGeneral}, &domain.CalculationInputs{},
			calculationStrategy{}},
		{"general", domain.RoutingResult{Category: domain.CategoryGeneral, Confidence: 1}, nil,
			generalStrategy{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, strategyFor(tt.r, 0.35, tt.inputs))
		})
	}
}
