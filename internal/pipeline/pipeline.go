// Package pipeline implements the orchestrator: process_text /
// process_pdf_file / process_pdf_url all share the same four-stage
// run and short-circuit rules.
package pipeline

import (
	"context"
	"time"

	"github.com/agentic-kg/knowledge-core/internal/extract"
	"github.com/agentic-kg/knowledge-core/internal/models"
	"github.com/agentic-kg/knowledge-core/internal/pdftext"
	"github.com/agentic-kg/knowledge-core/internal/relation"
	"github.com/agentic-kg/knowledge-core/internal/section"
)

// Stage names identify each phase of a pipeline run.
const (
	StagePDFExtraction      = "pdf_extraction"
	StageSectionSegmentation = "section_segmentation"
	StageProblemExtraction  = "problem_extraction"
	StageRelationExtraction = "relation_extraction"
)

// relationExtractionCharCap bounds the relation pass to the first
// N chars of the full text.
const relationExtractionCharCap = 5000

// StageResult records one pipeline stage's outcome regardless of
// success or failure.
type StageResult struct {
	Stage      string
	Success    bool
	DurationMs int64
	Error      string
	Metadata   map[string]any
}

// Config tunes which optional stages run and the section filters.
type Config struct {
	SkipReferences   bool
	MinSectionLength int
	ExtractRelations bool
	Section          section.Config
	Extract          extract.Config
	Relation         relation.Config
}

// DefaultConfig returns the default stage and filter settings.
func DefaultConfig() Config {
	return Config{
		SkipReferences:   true,
		MinSectionLength: section.DefaultMinWordCount,
		ExtractRelations: true,
		Section:          section.DefaultConfig(),
		Extract:          extract.DefaultConfig(),
		Relation:         relation.DefaultConfig(),
	}
}

// Result is the full, inspectable outcome of one pipeline run.
type Result struct {
	Stages     []StageResult
	Sections   []models.Section
	Problems   []models.ExtractedProblem
	Relations  []models.ExtractedRelation
	TokenUsage int
	Success    bool
}

// Orchestrator runs PDF extraction, section segmentation, problem
// extraction, and relation extraction in sequence, with per-stage
// timing/error capture.
type Orchestrator struct {
	Extractor *extract.Extractor
	Relator   *relation.Extractor
	Config    Config
}

// New builds an Orchestrator.
func New(extractor *extract.Extractor, relator *relation.Extractor, cfg Config) *Orchestrator {
	return &Orchestrator{Extractor: extractor, Relator: relator, Config: cfg}
}

func timed(fn func() (map[string]any, error)) (bool, int64, string, map[string]any) {
	start := time.Now()
	meta, err := fn()
	duration := time.Since(start).Milliseconds()
	if err != nil {
		return false, duration, err.Error(), meta
	}
	return true, duration, "", meta
}

// ProcessText runs stages 2-4 over already-extracted full text (no
// stage 1).
func (o *Orchestrator) ProcessText(ctx context.Context, fullText string, meta extract.PaperMeta) *Result {
	return o.run(ctx, fullText, meta, nil)
}

// ProcessPDFBytes runs all four stages starting from raw PDF bytes.
func (o *Orchestrator) ProcessPDFBytes(ctx context.Context, data []byte, meta extract.PaperMeta) *Result {
	result := &Result{}

	var doc *pdftext.Document
	ok, dur, errMsg, stageMeta := timed(func() (map[string]any, error) {
		d, err := pdftext.Extract(data)
		if err != nil {
			return nil, err
		}
		doc = d
		return map[string]any{"page_count": len(d.Pages), "is_scanned": d.IsScanned}, nil
	})
	result.Stages = append(result.Stages, StageResult{Stage: StagePDFExtraction, Success: ok, DurationMs: dur, Error: errMsg, Metadata: stageMeta})
	if !ok {
		result.Success = false
		return result
	}

	return o.run(ctx, doc.FullText, meta, result)
}

// ProcessPDFURL fetches PDF bytes via fetch (typically
// acquisition.Layer.GetPDF's underlying HTTP call) and runs all four
// stages over the result.
func (o *Orchestrator) ProcessPDFURL(ctx context.Context, url string, fetch func(ctx context.Context, url string) ([]byte, error), meta extract.PaperMeta) *Result {
	result := &Result{}

	var data []byte
	ok, dur, errMsg, stageMeta := timed(func() (map[string]any, error) {
		d, err := fetch(ctx, url)
		if err != nil {
			return nil, err
		}
		data = d
		return map[string]any{"byte_size": len(d)}, nil
	})
	if !ok {
		result.Stages = append(result.Stages, StageResult{Stage: StagePDFExtraction, Success: false, DurationMs: dur, Error: errMsg})
		result.Success = false
		return result
	}

	return o.ProcessPDFBytes(ctx, data, meta)
}

// run executes stages 2-4 over fullText, appending onto an existing
// partial Result if one is supplied (when stage 1 already ran).
func (o *Orchestrator) run(ctx context.Context, fullText string, meta extract.PaperMeta, partial *Result) *Result {
	result := partial
	if result == nil {
		result = &Result{}
	}

	var sections []models.Section
	ok, dur, errMsg, stageMeta := timed(func() (map[string]any, error) {
		raw := section.Segment(fullText, o.Config.Section)
		filtered := make([]models.Section, 0, len(raw))
		for _, s := range raw {
			if o.Config.SkipReferences && s.Type == models.SectionReferences {
				continue
			}
			if len(s.Content) < o.Config.MinSectionLength {
				continue
			}
			filtered = append(filtered, s)
		}
		sections = filtered
		return map[string]any{"section_count": len(filtered)}, nil
	})
	result.Stages = append(result.Stages, StageResult{Stage: StageSectionSegmentation, Success: ok, DurationMs: dur, Error: errMsg, Metadata: stageMeta})
	if !ok {
		result.Success = false
		return result
	}
	result.Sections = sections

	problemSections := section.GetProblemSections(sections, o.Config.Section)
	var extraction *extract.BatchExtractionResult
	ok3, dur3, errMsg3, stageMeta3 := timed(func() (map[string]any, error) {
		extraction = o.Extractor.ExtractFromSections(ctx, problemSections, meta)
		return map[string]any{
			"section_count": len(problemSections),
			"problem_count": len(extraction.AllProblems()),
			"token_usage":   extraction.TokenUsage.TotalTokens,
		}, nil
	})
	result.Stages = append(result.Stages, StageResult{Stage: StageProblemExtraction, Success: ok3, DurationMs: dur3, Error: errMsg3, Metadata: stageMeta3})
	if extraction != nil {
		result.Problems = extraction.AllProblems()
		result.TokenUsage += extraction.TokenUsage.TotalTokens
	}

	if o.Config.ExtractRelations && len(result.Problems) >= 2 {
		relationText := fullText
		if len(relationText) > relationExtractionCharCap {
			relationText = relationText[:relationExtractionCharCap]
		}
		ok4, dur4, errMsg4, stageMeta4 := timed(func() (map[string]any, error) {
			rels := o.Relator.Extract(ctx, relationText, result.Problems)
			result.Relations = rels
			return map[string]any{"relation_count": len(rels)}, nil
		})
		result.Stages = append(result.Stages, StageResult{Stage: StageRelationExtraction, Success: ok4, DurationMs: dur4, Error: errMsg4, Metadata: stageMeta4})
	}

	result.Success = result.stagesSucceeded()
	return result
}

func (r *Result) stagesSucceeded() bool {
	for _, s := range r.Stages {
		if !s.Success {
			return false
		}
	}
	return true
}
