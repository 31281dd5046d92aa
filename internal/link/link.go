// Package link implements the auto-linker: two fully transactional
// operations that either attach a mention to an existing
// high-confidence concept or mint a new one.
package link

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agentic-kg/knowledge-core/internal/concept"
	"github.com/agentic-kg/knowledge-core/internal/embedding"
	"github.com/agentic-kg/knowledge-core/internal/models"
)

// Store is the subset of graph.Store the linker needs, narrowed so
// tests can supply a fake instead of a live Neo4j connection.
type Store interface {
	AutoLinkHighConfidence(ctx context.Context, mentionID, conceptID string, score float64, traceID string) error
	CreateConceptWithMention(ctx context.Context, c models.ProblemConcept, mentionID string) error
	GetProblem(ctx context.Context, id string) (*models.ProblemConcept, error)
}

// Matcher is the subset of concept.Matcher the linker needs.
type Matcher interface {
	MatchMentionToConcept(ctx context.Context, mention models.ProblemMention) (*concept.MatchCandidate, error)
}

// Linker wires the matcher, embedding provider, and graph store
// together for the two linking operations.
type Linker struct {
	Matcher  Matcher
	Embedder embedding.Provider
	Store    Store
}

// New builds a Linker.
func New(matcher Matcher, embedder embedding.Provider, store Store) *Linker {
	return &Linker{Matcher: matcher, Embedder: embedder, Store: store}
}

// AutoLinkHighConfidence runs the matcher and, only if the best
// candidate is HIGH confidence, links mention to it transactionally.
// Returns a nil concept and nil candidate if no HIGH-confidence
// candidate exists. Any other failure propagates — this operation
// never catches; a failure here is a correctness bug, not a
// recoverable condition.
func (l *Linker) AutoLinkHighConfidence(ctx context.Context, mention models.ProblemMention, traceID string) (*models.ProblemConcept, *concept.MatchCandidate, error) {
	best, err := l.Matcher.MatchMentionToConcept(ctx, mention)
	if err != nil {
		return nil, nil, err
	}
	if best == nil || best.Confidence != models.ConfidenceHigh {
		return nil, nil, nil
	}

	if err := l.Store.AutoLinkHighConfidence(ctx, mention.ID, best.ConceptID, best.FinalScore, traceID); err != nil {
		return nil, nil, err
	}
	linked, err := l.Store.GetProblem(ctx, best.ConceptID)
	if err != nil {
		return nil, nil, err
	}
	return linked, best, nil
}

// CreateNewConcept mints a concept from mention's statement and links
// it to mention with confidence 1.0, all in one transaction. Reuses
// mention.Embedding when the caller already computed one rather than
// calling the embedding provider a second time.
func (l *Linker) CreateNewConcept(ctx context.Context, mention models.ProblemMention, traceID string) (*models.ProblemConcept, error) {
	vec := mention.Embedding
	if len(vec) == 0 {
		embedded, err := l.Embedder.Embed(ctx, mention.Statement)
		if err != nil {
			return nil, err
		}
		vec = embedded
	}

	now := time.Now().UTC()
	c := models.ProblemConcept{
		ID:                 "concept-" + uuid.NewString(),
		CanonicalStatement: mention.Statement,
		Domain:             mention.Domain,
		Status:             models.ConceptOpen,
		Assumptions:        mention.Assumptions,
		Constraints:        mention.Constraints,
		Datasets:           mention.Datasets,
		Metrics:            mention.Metrics,
		VerifiedBaselines:  mention.Baselines,
		SynthesisMethod:    models.SynthesisFirstMention,
		MentionCount:       1,
		PaperCount:         1,
		Embedding:          vec,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := l.Store.CreateConceptWithMention(ctx, c, mention.ID); err != nil {
		return nil, err
	}
	return &c, nil
}
