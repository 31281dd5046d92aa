package acquisition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-kg/knowledge-core/internal/models"
)

func TestExtractIdentifierFromURL_Arxiv(t *testing.T) {
	id, err := extractIdentifierFromURL("https://arxiv.org/abs/2106.01345")
	require.NoError(t, err)
	assert.Equal(t, "2106.01345", id)
}

func TestExtractIdentifierFromURL_DOI(t *testing.T) {
	id, err := extractIdentifierFromURL("https://doi.org/10.1038/nature12373")
	require.NoError(t, err)
	assert.Equal(t, "10.1038/nature12373", id)
}

func TestExtractIdentifierFromURL_OpenAlex(t *testing.T) {
	id, err := extractIdentifierFromURL("https://openalex.org/W2741809807")
	require.NoError(t, err)
	assert.Equal(t, "W2741809807", id)
}

func TestExtractIdentifierFromURL_UnrecognizedHostErrors(t *testing.T) {
	_, err := extractIdentifierFromURL("https://example.com/paper")
	assert.Error(t, err)
}

func TestExtractIdentifierFromURL_MalformedURLErrors(t *testing.T) {
	_, err := extractIdentifierFromURL("://not a url")
	assert.Error(t, err)
}

func TestDedupeByDOI_CollapsesDuplicateDOIsKeepingFirst(t *testing.T) {
	papers := []*models.NormalizedPaper{
		{Title: "First", DOI: "10.1/x"},
		{Title: "Duplicate", DOI: "10.1/x"},
		{Title: "Distinct", DOI: "10.1/y"},
	}
	got := dedupeByDOI(papers)
	require.Len(t, got, 2)
	assert.Equal(t, "First", got[0].Title)
	assert.Equal(t, "Distinct", got[1].Title)
}

func TestDedupeByDOI_RetainsEveryRecordWithoutDOI(t *testing.T) {
	papers := []*models.NormalizedPaper{
		{Title: "No DOI 1"},
		{Title: "No DOI 2"},
	}
	got := dedupeByDOI(papers)
	assert.Len(t, got, 2)
}
