// Package concept implements the concept matcher: ranks
// ProblemConcept candidates for a mention's embedding and bands them
// by confidence.
package concept

import (
	"context"
	"fmt"

	agkerrors "github.com/agentic-kg/knowledge-core/internal/errors"
	"github.com/agentic-kg/knowledge-core/internal/graph"
	"github.com/agentic-kg/knowledge-core/internal/logging"
	"github.com/agentic-kg/knowledge-core/internal/models"
)

const citationBoost = 0.20

// MatchCandidate is one ranked result of FindCandidates.
type MatchCandidate struct {
	ConceptID    string
	Statement    string
	Domain       string
	MentionCount int
	Similarity   float64
	DomainMatch  bool
	CitationBoost float64
	FinalScore   float64
	Confidence   models.MatchConfidence
}

// Config tunes the matcher's candidate pool size.
type Config struct {
	TopK int
}

// DefaultConfig returns the default candidate pool size.
func DefaultConfig() Config { return Config{TopK: 10} }

// Store is the subset of graph.Store the matcher needs, narrowed so
// tests can supply a fake instead of a live Neo4j connection.
type Store interface {
	VectorSearchConcepts(ctx context.Context, embedding []float32, topK int) ([]graph.VectorCandidate, error)
	CitationPathExists(ctx context.Context, doi, conceptID string) (bool, error)
}

// Matcher finds and ranks candidate concepts for a mention.
type Matcher struct {
	Store  Store
	Config Config
	log    *logging.Logger
}

// New builds a Matcher.
func New(store Store, cfg Config) *Matcher {
	return &Matcher{Store: store, Config: cfg, log: logging.For("concept")}
}

// classify bands a final score into a confidence tier.
func classify(finalScore float64) models.MatchConfidence {
	switch {
	case finalScore >= 0.95:
		return models.ConfidenceHigh
	case finalScore >= 0.80:
		return models.ConfidenceMedium
	case finalScore >= 0.50:
		return models.ConfidenceLow
	default:
		return models.ConfidenceRejected
	}
}

// FindCandidates ranks up to topK concept candidates for mention,
// optionally boosting any with a citation path to mention's paper.
func (m *Matcher) FindCandidates(ctx context.Context, mention models.ProblemMention, topK int, includeCitationBoost bool) ([]MatchCandidate, error) {
	if len(mention.Embedding) == 0 {
		return nil, agkerrors.Matcher(fmt.Errorf("mention %s has no embedding", mention.ID), "cannot match without an embedding")
	}
	if topK <= 0 {
		topK = m.Config.TopK
	}

	hits, err := m.Store.VectorSearchConcepts(ctx, mention.Embedding, topK)
	if err != nil {
		return nil, err
	}

	candidates := make([]MatchCandidate, 0, len(hits))
	for _, hit := range hits {
		boost := 0.0
		if includeCitationBoost {
			exists, err := m.Store.CitationPathExists(ctx, mention.PaperDOI, hit.ConceptID)
			if err != nil {
				m.log.Warn("citation boost query failed, degrading to 0", "concept_id", hit.ConceptID, "error", err)
			} else if exists {
				boost = citationBoost
			}
		}

		finalScore := hit.Similarity + boost
		if finalScore > 1.0 {
			finalScore = 1.0
		}

		candidates = append(candidates, MatchCandidate{
			ConceptID: hit.ConceptID, Statement: hit.Statement, Domain: hit.Domain,
			MentionCount: hit.MentionCount, Similarity: hit.Similarity,
			DomainMatch: hit.Domain == mention.Domain, CitationBoost: boost,
			FinalScore: finalScore, Confidence: classify(finalScore),
		})
	}
	return candidates, nil
}

// MatchMentionToConcept returns the best non-rejected candidate, or
// nil if every candidate is rejected or none exist.
func (m *Matcher) MatchMentionToConcept(ctx context.Context, mention models.ProblemMention) (*MatchCandidate, error) {
	candidates, err := m.FindCandidates(ctx, mention, m.Config.TopK, true)
	if err != nil {
		return nil, err
	}

	var best *MatchCandidate
	for i := range candidates {
		if candidates[i].Confidence == models.ConfidenceRejected {
			continue
		}
		if best == nil || candidates[i].FinalScore > best.FinalScore {
			best = &candidates[i]
		}
	}
	return best, nil
}
