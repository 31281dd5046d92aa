package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-kg/knowledge-core/internal/models"
)

func TestSemanticScholar_MapsCoreFields(t *testing.T) {
	raw := map[string]any{
		"title":           "Attention Is All You Need",
		"abstract":        "We propose a new architecture",
		"year":            float64(2017),
		"venue":           "NeurIPS",
		"publicationDate": "2017-06-12",
		"citationCount":   float64(100000),
		"referenceCount":  float64(50),
		"isOpenAccess":    true,
		"externalIds": map[string]any{
			"DOI":     "10.1/abc",
			"ArXiv":   "1706.03762",
			"MAG":     "12345",
		},
		"fieldsOfStudy": []any{"Computer Science"},
		"authors": []any{
			map[string]any{"name": "Ashish Vaswani", "authorId": "1"},
			map[string]any{"name": "Noam Shazeer", "authorId": "2"},
		},
		"openAccessPdf": map[string]any{"url": "https://example.com/paper.pdf"},
	}

	p, err := SemanticScholar(raw)
	require.NoError(t, err)
	assert.Equal(t, models.SourceSemanticScholar, p.Source)
	assert.Equal(t, "Attention Is All You Need", p.Title)
	assert.Equal(t, 2017, p.Year)
	assert.Equal(t, "10.1/abc", p.DOI)
	assert.Equal(t, "1706.03762", p.ExternalIDs["arxiv"])
	assert.True(t, p.IsOpenAccess)
	assert.Contains(t, p.FieldsOfStudy, "Computer Science")
	require.Len(t, p.Authors, 2)
	assert.Equal(t, "Ashish Vaswani", p.Authors[0].Name)
	assert.Equal(t, 1, p.Authors[0].AuthorPosition)
	assert.Equal(t, "https://example.com/paper.pdf", p.PDFURL)
}

func TestSemanticScholar_MissingOptionalFieldsLeaveZeroValues(t *testing.T) {
	p, err := SemanticScholar(map[string]any{"title": "Minimal"})
	require.NoError(t, err)
	assert.Equal(t, "Minimal", p.Title)
	assert.Equal(t, 0, p.Year)
	assert.Empty(t, p.DOI)
	assert.Empty(t, p.Authors)
}

func TestArxiv_ExtractsYearFromPublishedDate(t *testing.T) {
	p, err := Arxiv("2106.01345v2", " A Paper ", " An abstract ", "2021-06-02T00:00:00Z", []string{"cs.LG"}, "cs.CL")
	require.NoError(t, err)
	assert.Equal(t, models.SourceArxiv, p.Source)
	assert.Equal(t, "A Paper", p.Title)
	assert.Equal(t, "An abstract", p.Abstract)
	assert.Equal(t, 2021, p.Year)
	assert.Equal(t, "2021-06-02", p.PublicationDate)
	assert.Equal(t, "2106.01345v2", p.ExternalIDs["arxiv"])
	assert.True(t, p.IsOpenAccess)
	assert.Contains(t, p.FieldsOfStudy, "cs.CL")
	assert.Contains(t, p.FieldsOfStudy, "cs.LG")
	assert.Equal(t, "https://arxiv.org/pdf/2106.01345.pdf", p.PDFURL)
}

func TestArxiv_FallsBackToIDEncodedYearWhenPublishedMissing(t *testing.T) {
	p, err := Arxiv("2106.01345", "t", "s", "", nil, "")
	require.NoError(t, err)
	assert.Equal(t, 2021, p.Year)
}

func TestArxiv_NinetiesIDYearUsesCorrectCentury(t *testing.T) {
	p, err := Arxiv("9901.00001", "t", "s", "", nil, "")
	require.NoError(t, err)
	assert.Equal(t, 1999, p.Year)
}

func TestOpenAlex_MapsCoreFields(t *testing.T) {
	raw := map[string]any{
		"title":             "Graph Neural Networks",
		"abstract":          "reassembled abstract",
		"publication_year":  float64(2020),
		"publication_date":  "2020-01-01",
		"cited_by_count":    float64(42),
		"doi":               "https://doi.org/10.1/xyz",
		"id":                "https://openalex.org/W123",
		"concepts": []any{
			map[string]any{"display_name": "Machine learning"},
		},
		"authorships": []any{
			map[string]any{
				"author":          map[string]any{"display_name": "Jane Doe", "id": "https://openalex.org/A1", "orcid": "0000-0001"},
				"author_position": "first",
				"institutions": []any{
					map[string]any{"display_name": "MIT"},
				},
			},
		},
		"open_access": map[string]any{"is_oa": true, "oa_url": "https://example.com/oa.pdf"},
	}

	p, err := OpenAlex(raw)
	require.NoError(t, err)
	assert.Equal(t, models.SourceOpenAlex, p.Source)
	assert.Equal(t, "10.1/xyz", p.DOI)
	assert.Equal(t, "W123", p.ExternalIDs["openalex"])
	assert.Equal(t, "10.1/xyz", p.ExternalIDs["doi"])
	assert.Contains(t, p.FieldsOfStudy, "Machine learning")
	require.Len(t, p.Authors, 1)
	assert.Equal(t, "Jane Doe", p.Authors[0].Name)
	assert.Equal(t, 1, p.Authors[0].AuthorPosition)
	assert.Equal(t, "0000-0001", p.Authors[0].ExternalIDs["orcid"])
	assert.Contains(t, p.Authors[0].Affiliations, "MIT")
	assert.True(t, p.IsOpenAccess)
	assert.Equal(t, "https://example.com/oa.pdf", p.PDFURL)
}

func TestOpenAlex_FallsBackToBestOALocationWhenOpenAccessURLMissing(t *testing.T) {
	raw := map[string]any{
		"title":            "Paper",
		"open_access":      map[string]any{"is_oa": true},
		"best_oa_location": map[string]any{"pdf_url": "https://example.com/fallback.pdf"},
	}
	p, err := OpenAlex(raw)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/fallback.pdf", p.PDFURL)
}

func TestOpenAlex_AuthorPositionLast(t *testing.T) {
	raw := map[string]any{
		"authorships": []any{
			map[string]any{
				"author":          map[string]any{"display_name": "Last Author"},
				"author_position": "last",
			},
		},
	}
	p, err := OpenAlex(raw)
	require.NoError(t, err)
	require.Len(t, p.Authors, 1)
	assert.Equal(t, -1, p.Authors[0].AuthorPosition)
}

func TestReconstructAbstract_OrdersWordsByPosition(t *testing.T) {
	idx := map[string][]int{
		"fox":   {2},
		"quick": {0},
		"brown": {1},
	}
	assert.Equal(t, "quick brown fox", ReconstructAbstract(idx))
}

func TestReconstructAbstract_EmptyIndexReturnsEmptyString(t *testing.T) {
	assert.Equal(t, "", ReconstructAbstract(map[string][]int{}))
}

func TestReconstructAbstract_GapsAreSkippedNotBlank(t *testing.T) {
	idx := map[string][]int{
		"first": {0},
		"third": {3},
	}
	assert.Equal(t, "first third", ReconstructAbstract(idx))
}

func TestMerge_EmptyInputErrors(t *testing.T) {
	_, err := Merge(nil)
	require.Error(t, err)
}

func TestMerge_SingleInputReturnedUnchanged(t *testing.T) {
	p := models.NewNormalizedPaper()
	p.Title = "Solo"
	out, err := Merge([]*models.NormalizedPaper{p})
	require.NoError(t, err)
	assert.Same(t, p, out)
}

func TestMerge_PrefersLongerTitleAndFirstNonEmptyDOI(t *testing.T) {
	a := models.NewNormalizedPaper()
	a.Title = "Short"
	a.DOI = "10.1/a"

	b := models.NewNormalizedPaper()
	b.Title = "A Much Longer Title"

	out, err := Merge([]*models.NormalizedPaper{a, b})
	require.NoError(t, err)
	assert.Equal(t, "A Much Longer Title", out.Title)
	assert.Equal(t, "10.1/a", out.DOI)
	assert.Equal(t, models.SourceMerged, out.Source)
}

func TestMerge_TakesMaxCitationAndReferenceCounts(t *testing.T) {
	a := models.NewNormalizedPaper()
	a.CitationCount = 10
	a.ReferenceCount = 5

	b := models.NewNormalizedPaper()
	b.CitationCount = 20
	b.ReferenceCount = 2

	out, err := Merge([]*models.NormalizedPaper{a, b})
	require.NoError(t, err)
	assert.Equal(t, 20, out.CitationCount)
	assert.Equal(t, 5, out.ReferenceCount)
}

func TestMerge_UnionsFieldsOfStudyAndOpenAccess(t *testing.T) {
	a := models.NewNormalizedPaper()
	a.FieldsOfStudy["cs.AI"] = struct{}{}
	a.IsOpenAccess = false

	b := models.NewNormalizedPaper()
	b.FieldsOfStudy["cs.LG"] = struct{}{}
	b.IsOpenAccess = true

	out, err := Merge([]*models.NormalizedPaper{a, b})
	require.NoError(t, err)
	assert.Contains(t, out.FieldsOfStudy, "cs.AI")
	assert.Contains(t, out.FieldsOfStudy, "cs.LG")
	assert.True(t, out.IsOpenAccess)
}

func TestMerge_PicksRichestAuthorList(t *testing.T) {
	a := models.NewNormalizedPaper()
	a.Authors = []models.NormalizedAuthor{{Name: "Bare Author", ExternalIDs: map[string]string{}}}

	b := models.NewNormalizedPaper()
	b.Authors = []models.NormalizedAuthor{{
		Name:         "Rich Author",
		ExternalIDs: map[string]string{"orcid": "0000"},
		Affiliations: []string{"MIT"},
	}}

	out, err := Merge([]*models.NormalizedPaper{a, b})
	require.NoError(t, err)
	require.Len(t, out.Authors, 1)
	assert.Equal(t, "Rich Author", out.Authors[0].Name)
}
