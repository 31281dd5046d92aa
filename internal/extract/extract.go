// Package extract implements the problem extractor: per-section LLM
// calls producing validated ExtractedProblem records, with confidence
// filtering and a per-section cap.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	agkerrors "github.com/agentic-kg/knowledge-core/internal/errors"
	"github.com/agentic-kg/knowledge-core/internal/llm"
	"github.com/agentic-kg/knowledge-core/internal/models"
)

// Config tunes the extractor's filtering and retry behavior.
type Config struct {
	MinConfidence        float64
	MaxProblemsPerSection int
	MaxSectionPriority   int
	MaxRetries           int
	RetryOnEmpty         bool
}

// DefaultConfig returns sane filtering and retry defaults.
func DefaultConfig() Config {
	return Config{
		MinConfidence:         0.5,
		MaxProblemsPerSection: 10,
		MaxSectionPriority:    models.PriorityOf(models.SectionRelatedWork),
		MaxRetries:            2,
		RetryOnEmpty:          true,
	}
}

// PaperMeta carries the title/DOI context embedded into every prompt.
type PaperMeta struct {
	Title string
	DOI   string
}

// SectionOutcome is the per-section result of one extraction attempt.
type SectionOutcome struct {
	Section  models.Section
	Problems []models.ExtractedProblem
	Skipped  bool
	Note     string
	Error    string
}

// BatchExtractionResult aggregates outcomes across all sections of one
// paper.
type BatchExtractionResult struct {
	Outcomes   []SectionOutcome
	TokenUsage llm.TokenUsage
}

// AllProblems flattens every problem across all section outcomes.
func (r *BatchExtractionResult) AllProblems() []models.ExtractedProblem {
	var out []models.ExtractedProblem
	for _, o := range r.Outcomes {
		out = append(out, o.Problems...)
	}
	return out
}

// HighConfidenceProblems filters AllProblems to confidence >=
// threshold.
func (r *BatchExtractionResult) HighConfidenceProblems(threshold float64) []models.ExtractedProblem {
	var out []models.ExtractedProblem
	for _, p := range r.AllProblems() {
		if p.Confidence >= threshold {
			out = append(out, p)
		}
	}
	return out
}

// schemaPayload is the strict-JSON-schema response shape requested
// from the extractor for a single section.
var schemaPayload = json.RawMessage(`{
	"type": "object",
	"properties": {
		"problems": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"statement": {"type": "string"},
					"quoted_text": {"type": "string"},
					"confidence": {"type": "number"},
					"domain": {"type": "string"}
				},
				"required": ["statement", "quoted_text", "confidence"]
			}
		}
	},
	"required": ["problems"]
}`)

type rawProblem struct {
	Statement  string  `json:"statement"`
	QuotedText string  `json:"quoted_text"`
	Confidence float64 `json:"confidence"`
	Domain     string  `json:"domain"`
}

type rawResponse struct {
	Problems []rawProblem `json:"problems"`
}

// Extractor runs the problem extractor over a paper's sections.
type Extractor struct {
	LLM    llm.Extractor
	Config Config
}

// New builds an Extractor.
func New(extractor llm.Extractor, cfg Config) *Extractor {
	return &Extractor{LLM: extractor, Config: cfg}
}

func buildPrompt(section models.Section, meta PaperMeta) string {
	return fmt.Sprintf(
		"Paper title: %s\nDOI: %s\nSection (%s):\n%s\n\nExtract every distinct research problem statement this section identifies, each with a verbatim quoted span and a confidence in [0,1].",
		meta.Title, meta.DOI, section.Type, section.Content,
	)
}

// ExtractFromSections runs extraction over every section in order,
// skipping sections whose priority exceeds MaxSectionPriority without
// an LLM call.
func (e *Extractor) ExtractFromSections(ctx context.Context, sections []models.Section, meta PaperMeta) *BatchExtractionResult {
	result := &BatchExtractionResult{Outcomes: make([]SectionOutcome, 0, len(sections))}

	for _, section := range sections {
		if section.Priority > e.Config.MaxSectionPriority {
			result.Outcomes = append(result.Outcomes, SectionOutcome{
				Section: section, Skipped: true, Note: "priority exceeds max_section_priority",
			})
			continue
		}

		outcome := e.extractSection(ctx, section, meta, &result.TokenUsage)
		result.Outcomes = append(result.Outcomes, outcome)
	}

	return result
}

func (e *Extractor) extractSection(ctx context.Context, section models.Section, meta PaperMeta, usage *llm.TokenUsage) SectionOutcome {
	prompt := buildPrompt(section, meta)

	var raw json.RawMessage
	var tokUsage llm.TokenUsage
	var err error

	attempts := 0
	for {
		raw, tokUsage, err = e.LLM.Extract(ctx, prompt, schemaPayload)
		usage.PromptTokens += tokUsage.PromptTokens
		usage.CompletionTokens += tokUsage.CompletionTokens
		usage.TotalTokens += tokUsage.TotalTokens

		if err == nil {
			var parsed rawResponse
			if jsonErr := json.Unmarshal(raw, &parsed); jsonErr == nil {
				if len(parsed.Problems) == 0 && e.Config.RetryOnEmpty && attempts == 0 {
					attempts++
					prompt += "\n\nReminder: if the section genuinely describes a research problem, return it; do not return an empty list unless there truly is none."
					continue
				}
				return SectionOutcome{Section: section, Problems: filterAndCap(parsed.Problems, section, e.Config)}
			}
			err = agkerrors.Pipeline(fmt.Errorf("malformed extraction json"), "failed to parse llm response")
		}

		if attempts >= e.Config.MaxRetries || !agkerrors.Is(err, agkerrors.KindTransient) && !agkerrors.Is(err, agkerrors.KindAPIError) && !agkerrors.Is(err, agkerrors.KindRateLimited) {
			return SectionOutcome{Section: section, Error: err.Error()}
		}
		attempts++
	}
}

func filterAndCap(raw []rawProblem, section models.Section, cfg Config) []models.ExtractedProblem {
	problems := make([]models.ExtractedProblem, 0, len(raw))
	for _, r := range raw {
		p := models.ExtractedProblem{
			Statement:  r.Statement,
			QuotedText: r.QuotedText,
			Confidence: r.Confidence,
			Domain:     r.Domain,
			Section:    section.Type,
		}
		if !p.Valid() {
			continue
		}
		if p.Confidence < cfg.MinConfidence {
			continue
		}
		problems = append(problems, p)
	}

	sort.SliceStable(problems, func(i, j int) bool { return problems[i].Confidence > problems[j].Confidence })
	if len(problems) > cfg.MaxProblemsPerSection {
		problems = problems[:cfg.MaxProblemsPerSection]
	}
	return problems
}
