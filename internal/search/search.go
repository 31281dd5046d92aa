// Package search implements the read-only search service: semantic,
// structured, and hybrid queries over the graph store.
package search

import (
	"context"

	"github.com/agentic-kg/knowledge-core/internal/graph"
	"github.com/agentic-kg/knowledge-core/internal/models"
)

// Embedder is the subset of embedding.Provider the search service
// needs to turn a query string into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is the subset of graph.Store the search service needs,
// narrowed so tests can supply a fake instead of a live Neo4j
// connection.
type Store interface {
	VectorSearchConcepts(ctx context.Context, embedding []float32, topK int) ([]graph.VectorCandidate, error)
	GetProblem(ctx context.Context, id string) (*models.ProblemConcept, error)
	StructuredSearchConcepts(ctx context.Context, filter graph.StructuredFilter, topK int) ([]*models.ProblemConcept, error)
}

// Result is one ranked concept.
type Result struct {
	Concept *models.ProblemConcept
	Score   float64
}

// Service answers search queries against a graph.Store.
type Service struct {
	Store    Store
	Embedder Embedder
}

// New builds a Service.
func New(store Store, embedder Embedder) *Service {
	return &Service{Store: store, Embedder: embedder}
}

// SemanticSearch embeds query and ranks concepts by vector similarity,
// dropping any candidate below minScore.
func (s *Service) SemanticSearch(ctx context.Context, query string, topK int, minScore float64) ([]Result, error) {
	vec, err := s.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := s.Store.VectorSearchConcepts(ctx, vec, topK)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		if h.Similarity < minScore {
			continue
		}
		concept, err := s.Store.GetProblem(ctx, h.ConceptID)
		if err != nil {
			return nil, err
		}
		out = append(out, Result{Concept: concept, Score: h.Similarity})
	}
	return out, nil
}

// StructuredFilter is StructuredSearch's query surface, an alias of
// the repository's filter shape.
type StructuredFilter = graph.StructuredFilter

// StructuredSearch applies filter directly to the graph with no
// embedding step, returning every matching concept at similarity 1.0
// since there is no ranking dimension to report.
func (s *Service) StructuredSearch(ctx context.Context, filter StructuredFilter, topK int) ([]Result, error) {
	concepts, err := s.Store.StructuredSearchConcepts(ctx, filter, topK)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(concepts))
	for _, c := range concepts {
		out = append(out, Result{Concept: c, Score: 1.0})
	}
	return out, nil
}

// HybridSearch fetches 3*topK semantic candidates, restricts to those
// also matching filter, and rescores as
// semanticWeight*semantic + (1-semanticWeight)*structuralBonus, where
// structuralBonus is 1.0 for every concept that survived the filter.
func (s *Service) HybridSearch(ctx context.Context, query string, filter StructuredFilter, topK int, semanticWeight float64) ([]Result, error) {
	semantic, err := s.SemanticSearch(ctx, query, 3*topK, 0)
	if err != nil {
		return nil, err
	}

	structured, err := s.Store.StructuredSearchConcepts(ctx, filter, 3*topK)
	if err != nil {
		return nil, err
	}
	allowed := make(map[string]bool, len(structured))
	for _, c := range structured {
		allowed[c.ID] = true
	}

	out := make([]Result, 0, topK)
	for _, r := range semantic {
		if !allowed[r.Concept.ID] {
			continue
		}
		structuralBonus := 1.0
		score := semanticWeight*r.Score + (1-semanticWeight)*structuralBonus
		out = append(out, Result{Concept: r.Concept, Score: score})
	}

	sortByScoreDesc(out)
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// FindSimilarProblems runs a semantic search over problem's canonical
// statement, optionally dropping problem itself from the results when
// excludeSelf is set.
func (s *Service) FindSimilarProblems(ctx context.Context, problem models.ProblemConcept, topK int, threshold float64, excludeSelf bool) ([]Result, error) {
	results, err := s.SemanticSearch(ctx, problem.CanonicalStatement, topK+1, threshold)
	if err != nil {
		return nil, err
	}

	if !excludeSelf {
		if len(results) > topK {
			results = results[:topK]
		}
		return results, nil
	}

	out := make([]Result, 0, topK)
	for _, r := range results {
		if r.Concept.ID == problem.ID {
			continue
		}
		out = append(out, r)
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

func sortByScoreDesc(results []Result) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}
