package link

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-kg/knowledge-core/internal/concept"
	"github.com/agentic-kg/knowledge-core/internal/models"
)

type fakeMatcher struct {
	candidate *concept.MatchCandidate
	err       error
}

func (f *fakeMatcher) MatchMentionToConcept(ctx context.Context, mention models.ProblemMention) (*concept.MatchCandidate, error) {
	return f.candidate, f.err
}

type fakeStore struct {
	linkedMentionID, linkedConceptID string
	linkedScore                     float64
	linkErr                         error

	createdConcept  *models.ProblemConcept
	createdMentionID string
	createErr       error

	getProblem    *models.ProblemConcept
	getProblemErr error
}

func (f *fakeStore) AutoLinkHighConfidence(ctx context.Context, mentionID, conceptID string, score float64, traceID string) error {
	f.linkedMentionID, f.linkedConceptID, f.linkedScore = mentionID, conceptID, score
	return f.linkErr
}

func (f *fakeStore) CreateConceptWithMention(ctx context.Context, c models.ProblemConcept, mentionID string) error {
	cc := c
	f.createdConcept = &cc
	f.createdMentionID = mentionID
	return f.createErr
}

func (f *fakeStore) GetProblem(ctx context.Context, id string) (*models.ProblemConcept, error) {
	return f.getProblem, f.getProblemErr
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

func TestAutoLinkHighConfidence_LinksOnHighConfidence(t *testing.T) {
	want := &models.ProblemConcept{ID: "concept-1"}
	matcher := &fakeMatcher{candidate: &concept.MatchCandidate{ConceptID: "concept-1", FinalScore: 0.97, Confidence: models.ConfidenceHigh}}
	store := &fakeStore{getProblem: want}
	l := New(matcher, &fakeEmbedder{}, store)

	linked, candidate, err := l.AutoLinkHighConfidence(context.Background(), models.ProblemMention{ID: "m1"}, "trace-1")
	require.NoError(t, err)
	assert.Same(t, want, linked)
	assert.Equal(t, "concept-1", candidate.ConceptID)
	assert.Equal(t, "m1", store.linkedMentionID)
	assert.Equal(t, "concept-1", store.linkedConceptID)
}

func TestAutoLinkHighConfidence_SkipsBelowHigh(t *testing.T) {
	matcher := &fakeMatcher{candidate: &concept.MatchCandidate{ConceptID: "concept-1", FinalScore: 0.85, Confidence: models.ConfidenceMedium}}
	store := &fakeStore{}
	l := New(matcher, &fakeEmbedder{}, store)

	linked, candidate, err := l.AutoLinkHighConfidence(context.Background(), models.ProblemMention{ID: "m1"}, "trace-1")
	require.NoError(t, err)
	assert.Nil(t, linked)
	assert.Nil(t, candidate)
	assert.Empty(t, store.linkedMentionID)
}

func TestAutoLinkHighConfidence_NoCandidateReturnsNil(t *testing.T) {
	matcher := &fakeMatcher{candidate: nil}
	l := New(matcher, &fakeEmbedder{}, &fakeStore{})

	linked, candidate, err := l.AutoLinkHighConfidence(context.Background(), models.ProblemMention{ID: "m1"}, "trace-1")
	require.NoError(t, err)
	assert.Nil(t, linked)
	assert.Nil(t, candidate)
}

func TestAutoLinkHighConfidence_MatcherErrorPropagates(t *testing.T) {
	matcher := &fakeMatcher{err: errors.New("vector index down")}
	l := New(matcher, &fakeEmbedder{}, &fakeStore{})

	_, _, err := l.AutoLinkHighConfidence(context.Background(), models.ProblemMention{ID: "m1"}, "trace-1")
	require.Error(t, err)
}

func TestAutoLinkHighConfidence_StoreErrorPropagates(t *testing.T) {
	matcher := &fakeMatcher{candidate: &concept.MatchCandidate{ConceptID: "concept-1", FinalScore: 0.99, Confidence: models.ConfidenceHigh}}
	store := &fakeStore{linkErr: errors.New("tx failed")}
	l := New(matcher, &fakeEmbedder{}, store)

	_, _, err := l.AutoLinkHighConfidence(context.Background(), models.ProblemMention{ID: "m1"}, "trace-1")
	require.Error(t, err)
}

func TestCreateNewConcept_ReusesExistingEmbedding(t *testing.T) {
	store := &fakeStore{}
	embedder := &fakeEmbedder{vec: []float32{9, 9, 9}}
	l := New(&fakeMatcher{}, embedder, store)

	mention := models.ProblemMention{ID: "m1", Statement: "how do we scale X", Domain: "systems", Embedding: []float32{1, 2, 3}}
	c, err := l.CreateNewConcept(context.Background(), mention, "trace-1")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, c.Embedding)
	assert.Equal(t, models.SynthesisFirstMention, c.SynthesisMethod)
	assert.Equal(t, models.ConceptOpen, c.Status)
	assert.Equal(t, 1, c.MentionCount)
	assert.Equal(t, "m1", store.createdMentionID)
}

func TestCreateNewConcept_EmbedsWhenMissing(t *testing.T) {
	store := &fakeStore{}
	embedder := &fakeEmbedder{vec: []float32{4, 5, 6}}
	l := New(&fakeMatcher{}, embedder, store)

	mention := models.ProblemMention{ID: "m1", Statement: "how do we scale X"}
	c, err := l.CreateNewConcept(context.Background(), mention, "trace-1")
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 5, 6}, c.Embedding)
}

func TestCreateNewConcept_EmbeddingErrorPropagates(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("embedding api down")}
	l := New(&fakeMatcher{}, embedder, &fakeStore{})

	_, err := l.CreateNewConcept(context.Background(), models.ProblemMention{ID: "m1"}, "trace-1")
	require.Error(t, err)
}

func TestCreateNewConcept_StoreErrorPropagates(t *testing.T) {
	store := &fakeStore{createErr: errors.New("tx failed")}
	l := New(&fakeMatcher{}, &fakeEmbedder{vec: []float32{1}}, store)

	_, err := l.CreateNewConcept(context.Background(), models.ProblemMention{ID: "m1"}, "trace-1")
	require.Error(t, err)
}
