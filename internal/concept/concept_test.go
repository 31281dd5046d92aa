package concept

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-kg/knowledge-core/internal/graph"
	"github.com/agentic-kg/knowledge-core/internal/models"
)

type fakeStore struct {
	hits        []graph.VectorCandidate
	vectorErr   error
	citationFor map[string]bool
	citationErr error
}

func (f *fakeStore) VectorSearchConcepts(ctx context.Context, embedding []float32, topK int) ([]graph.VectorCandidate, error) {
	if f.vectorErr != nil {
		return nil, f.vectorErr
	}
	if topK < len(f.hits) {
		return f.hits[:topK], nil
	}
	return f.hits, nil
}

func (f *fakeStore) CitationPathExists(ctx context.Context, doi, conceptID string) (bool, error) {
	if f.citationErr != nil {
		return false, f.citationErr
	}
	return f.citationFor[conceptID], nil
}

func mentionWithEmbedding(vec []float32) models.ProblemMention {
	return models.ProblemMention{ID: "m1", PaperDOI: "10.1/x", Domain: "nlp", Embedding: vec}
}

func TestFindCandidates_NoEmbeddingFails(t *testing.T) {
	m := New(&fakeStore{}, DefaultConfig())
	_, err := m.FindCandidates(context.Background(), models.ProblemMention{ID: "m1"}, 5, false)
	require.Error(t, err)
}

func TestFindCandidates_BandsByFinalScore(t *testing.T) {
	store := &fakeStore{
		hits: []graph.VectorCandidate{
			{ConceptID: "c-high", Similarity: 0.96},
			{ConceptID: "c-medium", Similarity: 0.85},
			{ConceptID: "c-low", Similarity: 0.60},
			{ConceptID: "c-rejected", Similarity: 0.10},
		},
	}
	m := New(store, DefaultConfig())
	candidates, err := m.FindCandidates(context.Background(), mentionWithEmbedding([]float32{0.1}), 10, false)
	require.NoError(t, err)
	require.Len(t, candidates, 4)
	assert.Equal(t, models.ConfidenceHigh, candidates[0].Confidence)
	assert.Equal(t, models.ConfidenceMedium, candidates[1].Confidence)
	assert.Equal(t, models.ConfidenceLow, candidates[2].Confidence)
	assert.Equal(t, models.ConfidenceRejected, candidates[3].Confidence)
}

func TestFindCandidates_CitationBoostPushesToHigh(t *testing.T) {
	store := &fakeStore{
		hits:        []graph.VectorCandidate{{ConceptID: "c1", Similarity: 0.80}},
		citationFor: map[string]bool{"c1": true},
	}
	m := New(store, DefaultConfig())
	candidates, err := m.FindCandidates(context.Background(), mentionWithEmbedding([]float32{0.1}), 10, true)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.InDelta(t, 1.0, candidates[0].FinalScore, 0.001)
	assert.Equal(t, models.ConfidenceHigh, candidates[0].Confidence)
}

func TestFindCandidates_CitationBoostQueryFailureDegradesToZero(t *testing.T) {
	store := &fakeStore{
		hits:        []graph.VectorCandidate{{ConceptID: "c1", Similarity: 0.80}},
		citationErr: errors.New("boom"),
	}
	m := New(store, DefaultConfig())
	candidates, err := m.FindCandidates(context.Background(), mentionWithEmbedding([]float32{0.1}), 10, true)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, 0.0, candidates[0].CitationBoost)
	assert.InDelta(t, 0.80, candidates[0].FinalScore, 0.001)
}

func TestMatchMentionToConcept_PicksBestNonRejected(t *testing.T) {
	store := &fakeStore{
		hits: []graph.VectorCandidate{
			{ConceptID: "c-rejected", Similarity: 0.1},
			{ConceptID: "c-medium", Similarity: 0.85},
			{ConceptID: "c-better-medium", Similarity: 0.90},
		},
	}
	m := New(store, DefaultConfig())
	best, err := m.MatchMentionToConcept(context.Background(), mentionWithEmbedding([]float32{0.1}))
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "c-better-medium", best.ConceptID)
}

func TestMatchMentionToConcept_AllRejectedReturnsNil(t *testing.T) {
	store := &fakeStore{hits: []graph.VectorCandidate{{ConceptID: "c1", Similarity: 0.05}}}
	m := New(store, DefaultConfig())
	best, err := m.MatchMentionToConcept(context.Background(), mentionWithEmbedding([]float32{0.1}))
	require.NoError(t, err)
	assert.Nil(t, best)
}
