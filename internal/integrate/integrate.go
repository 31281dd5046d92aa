// Package integrate implements the canonicalization integrator: it
// turns a batch of extracted problems into persisted mentions and
// links each to a concept, continuing past per-mention failures so
// one bad mention never aborts the batch.
package integrate

import (
	"context"
	"fmt"

	"github.com/agentic-kg/knowledge-core/internal/concept"
	"github.com/agentic-kg/knowledge-core/internal/logging"
	"github.com/agentic-kg/knowledge-core/internal/models"
)

// MentionIntegrationResult reports what happened to a single
// extracted problem as it moved through the integrator.
type MentionIntegrationResult struct {
	MentionID       string
	ConceptID       string
	IsNewConcept    bool
	AutoLinked      bool
	MatchConfidence models.MatchConfidence
	MatchScore      float64
	TraceID         string
	Error           string
}

// Result aggregates one Integrate call's outcome across every problem
// in the batch.
type Result struct {
	Mentions             []MentionIntegrationResult
	MentionsCreated      int
	MentionsLinked       int
	MentionsNewConcepts  int
	Errors               []string
}

// Store is the subset of graph.Store the integrator needs.
type Store interface {
	CreateMention(ctx context.Context, m models.ProblemMention) error
}

// Linker is the subset of link.Linker the integrator needs, narrowed
// so tests can supply a fake instead of a live store and matcher.
type Linker interface {
	AutoLinkHighConfidence(ctx context.Context, mention models.ProblemMention, traceID string) (*models.ProblemConcept, *concept.MatchCandidate, error)
	CreateNewConcept(ctx context.Context, mention models.ProblemMention, traceID string) (*models.ProblemConcept, error)
}

// Embedder is the subset of embedding.Provider the integrator needs,
// named locally so this package doesn't force callers through the
// concrete embedding package.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Integrator wires mention creation, embedding, and linking together
// for a batch of problems extracted from one paper.
type Integrator struct {
	Store    Store
	Embedder Embedder
	Linker   Linker
	log      *logging.Logger
}

// New builds an Integrator.
func New(store Store, embedder Embedder, linker Linker) *Integrator {
	return &Integrator{Store: store, Embedder: embedder, Linker: linker, log: logging.For("integrate")}
}

// Integrate persists and links every problem extracted from paperDOI,
// recording a per-mention trace id derived from sessionTraceID so each
// mention's audit trail is independently addressable ("Checkpoint A").
func (in *Integrator) Integrate(ctx context.Context, problems []models.ExtractedProblem, paperDOI, sessionTraceID string) Result {
	result := Result{Mentions: make([]MentionIntegrationResult, 0, len(problems))}

	for i, p := range problems {
		traceID := fmt.Sprintf("%s-p%d", sessionTraceID, i)
		mr := in.integrateOne(ctx, p, paperDOI, traceID)
		result.Mentions = append(result.Mentions, mr)

		if mr.Error != "" {
			result.Errors = append(result.Errors, mr.Error)
			continue
		}
		result.MentionsCreated++
		if mr.AutoLinked {
			result.MentionsLinked++
		}
		if mr.IsNewConcept {
			result.MentionsNewConcepts++
		}
	}

	return result
}

func (in *Integrator) integrateOne(ctx context.Context, p models.ExtractedProblem, paperDOI, traceID string) MentionIntegrationResult {
	mentionID := fmt.Sprintf("mention:%s", traceID)
	in.log.Info("checkpoint A: integrating mention", "mention_id", mentionID, "trace_id", traceID, "paper_doi", paperDOI)

	mention := models.ProblemMention{
		ID:          mentionID,
		Statement:   p.Statement,
		PaperDOI:    paperDOI,
		Section:     p.Section,
		Domain:      p.Domain,
		Assumptions: p.Assumptions,
		Constraints: p.Constraints,
		Datasets:    p.Datasets,
		Metrics:     p.Metrics,
		Baselines:   p.Baselines,
		QuotedText:  p.QuotedText,
		ReviewStatus: models.ReviewPending,
	}

	vec, err := in.Embedder.Embed(ctx, mention.Statement)
	if err != nil {
		in.log.Warn("mention embedding failed, continuing without a vector", "mention_id", mentionID, "error", err)
	} else {
		mention.Embedding = vec
	}

	if err := in.Store.CreateMention(ctx, mention); err != nil {
		return MentionIntegrationResult{MentionID: mentionID, TraceID: traceID, Error: err.Error()}
	}

	mr := MentionIntegrationResult{MentionID: mentionID, TraceID: traceID}

	if len(mention.Embedding) == 0 {
		mr.Error = fmt.Sprintf("mention %s has no embedding, cannot link", mentionID)
		return mr
	}

	linked, candidate, err := in.Linker.AutoLinkHighConfidence(ctx, mention, traceID)
	if err != nil {
		mr.Error = err.Error()
		return mr
	}
	if linked != nil {
		mr.ConceptID = linked.ID
		mr.AutoLinked = true
		mr.MatchConfidence = candidate.Confidence
		mr.MatchScore = candidate.FinalScore
		return mr
	}

	created, err := in.Linker.CreateNewConcept(ctx, mention, traceID)
	if err != nil {
		mr.Error = err.Error()
		return mr
	}
	mr.ConceptID = created.ID
	mr.IsNewConcept = true
	return mr
}
