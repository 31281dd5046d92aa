package extract

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agkerrors "github.com/agentic-kg/knowledge-core/internal/errors"
	"github.com/agentic-kg/knowledge-core/internal/llm"
	"github.com/agentic-kg/knowledge-core/internal/models"
)

type fakeLLM struct {
	responses []json.RawMessage
	errs      []error
	call      int
	usage     llm.TokenUsage
}

func (f *fakeLLM) Extract(ctx context.Context, prompt string, schema json.RawMessage) (json.RawMessage, llm.TokenUsage, error) {
	i := f.call
	f.call++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var resp json.RawMessage
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	return resp, f.usage, err
}

func statement(n string) string {
	return "a long enough problem statement about " + n + " to pass validation"
}

func TestExtractFromSections_SkipsLowPrioritySectionsWithoutCallingLLM(t *testing.T) {
	fake := &fakeLLM{}
	e := New(fake, DefaultConfig())
	sections := []models.Section{{Type: models.SectionReferences, Priority: models.PriorityOf(models.SectionReferences)}}

	result := e.ExtractFromSections(context.Background(), sections, PaperMeta{Title: "T"})
	require.Len(t, result.Outcomes, 1)
	assert.True(t, result.Outcomes[0].Skipped)
	assert.Equal(t, 0, fake.call)
}

func TestExtractFromSections_ParsesAndFiltersLowConfidenceProblems(t *testing.T) {
	resp, _ := json.Marshal(rawResponse{Problems: []rawProblem{
		{Statement: statement("a"), QuotedText: "q1", Confidence: 0.9},
		{Statement: statement("b"), QuotedText: "q2", Confidence: 0.1},
	}})
	fake := &fakeLLM{responses: []json.RawMessage{resp}}
	e := New(fake, DefaultConfig())
	sections := []models.Section{{Type: models.SectionIntroduction, Priority: models.PriorityOf(models.SectionIntroduction)}}

	result := e.ExtractFromSections(context.Background(), sections, PaperMeta{Title: "T"})
	require.Len(t, result.Outcomes, 1)
	require.Len(t, result.Outcomes[0].Problems, 1)
	assert.Equal(t, statement("a"), result.Outcomes[0].Problems[0].Statement)
}

func TestExtractFromSections_CapsProblemsPerSectionByConfidenceDesc(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxProblemsPerSection = 1
	resp, _ := json.Marshal(rawResponse{Problems: []rawProblem{
		{Statement: statement("low"), QuotedText: "q1", Confidence: 0.6},
		{Statement: statement("high"), QuotedText: "q2", Confidence: 0.95},
	}})
	fake := &fakeLLM{responses: []json.RawMessage{resp}}
	e := New(fake, cfg)
	sections := []models.Section{{Type: models.SectionIntroduction, Priority: models.PriorityOf(models.SectionIntroduction)}}

	result := e.ExtractFromSections(context.Background(), sections, PaperMeta{Title: "T"})
	require.Len(t, result.Outcomes[0].Problems, 1)
	assert.Equal(t, statement("high"), result.Outcomes[0].Problems[0].Statement)
}

func TestExtractFromSections_RetriesOnceWhenEmptyThenSucceeds(t *testing.T) {
	empty, _ := json.Marshal(rawResponse{Problems: nil})
	filled, _ := json.Marshal(rawResponse{Problems: []rawProblem{
		{Statement: statement("retry"), QuotedText: "q", Confidence: 0.8},
	}})
	fake := &fakeLLM{responses: []json.RawMessage{empty, filled}}
	e := New(fake, DefaultConfig())
	sections := []models.Section{{Type: models.SectionIntroduction, Priority: models.PriorityOf(models.SectionIntroduction)}}

	result := e.ExtractFromSections(context.Background(), sections, PaperMeta{Title: "T"})
	assert.Equal(t, 2, fake.call)
	require.Len(t, result.Outcomes[0].Problems, 1)
}

func TestExtractFromSections_TransientErrorRetriedUpToMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	fake := &fakeLLM{errs: []error{
		agkerrors.Transient(assert.AnError, "flaky"),
		agkerrors.Transient(assert.AnError, "flaky"),
		agkerrors.Transient(assert.AnError, "flaky"),
	}}
	e := New(fake, cfg)
	sections := []models.Section{{Type: models.SectionIntroduction, Priority: models.PriorityOf(models.SectionIntroduction)}}

	result := e.ExtractFromSections(context.Background(), sections, PaperMeta{Title: "T"})
	assert.NotEmpty(t, result.Outcomes[0].Error)
	assert.Equal(t, 3, fake.call)
}

func TestExtractFromSections_NonTransientErrorFailsImmediately(t *testing.T) {
	fake := &fakeLLM{errs: []error{agkerrors.Validation("bad schema")}}
	e := New(fake, DefaultConfig())
	sections := []models.Section{{Type: models.SectionIntroduction, Priority: models.PriorityOf(models.SectionIntroduction)}}

	result := e.ExtractFromSections(context.Background(), sections, PaperMeta{Title: "T"})
	assert.NotEmpty(t, result.Outcomes[0].Error)
	assert.Equal(t, 1, fake.call)
}

func TestExtractFromSections_AccumulatesTokenUsageAcrossSections(t *testing.T) {
	resp, _ := json.Marshal(rawResponse{Problems: nil})
	fake := &fakeLLM{responses: []json.RawMessage{resp, resp, resp}, usage: llm.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
	e := New(fake, Config{MinConfidence: 0.5, MaxProblemsPerSection: 10, MaxSectionPriority: 10, MaxRetries: 0, RetryOnEmpty: false})
	sections := []models.Section{
		{Type: models.SectionIntroduction, Priority: 4},
		{Type: models.SectionMethod, Priority: 6},
	}

	result := e.ExtractFromSections(context.Background(), sections, PaperMeta{Title: "T"})
	assert.Equal(t, 30, result.TokenUsage.TotalTokens)
}

func TestBatchExtractionResult_HighConfidenceProblemsFiltersThreshold(t *testing.T) {
	r := &BatchExtractionResult{Outcomes: []SectionOutcome{
		{Problems: []models.ExtractedProblem{
			{Statement: statement("a"), Confidence: 0.9},
			{Statement: statement("b"), Confidence: 0.4},
		}},
	}}
	high := r.HighConfidenceProblems(0.5)
	require.Len(t, high, 1)
	assert.Equal(t, statement("a"), high[0].Statement)
}
