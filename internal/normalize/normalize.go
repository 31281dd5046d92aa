// Package normalize implements the per-source → NormalizedPaper
// mapping and the cross-source merge. Dispatch is a closed sum of one
// function per source variant rather than a switch on a source
// string; "merged" is produced only by Merge.
package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	agkerrors "github.com/agentic-kg/knowledge-core/internal/errors"
	"github.com/agentic-kg/knowledge-core/internal/models"
)

func str(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func num(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// SemanticScholar maps a raw Semantic Scholar paper object into a
// NormalizedPaper.
func SemanticScholar(raw map[string]any) (*models.NormalizedPaper, error) {
	p := models.NewNormalizedPaper()
	p.Source = models.SourceSemanticScholar
	p.Title = str(raw, "title")
	p.Abstract = str(raw, "abstract")
	p.Year = num(raw, "year")
	p.Venue = str(raw, "venue")
	p.PublicationDate = str(raw, "publicationDate")
	p.CitationCount = num(raw, "citationCount")
	p.ReferenceCount = num(raw, "referenceCount")
	p.IsOpenAccess, _ = raw["isOpenAccess"].(bool)

	if ext, ok := raw["externalIds"].(map[string]any); ok {
		for k, v := range ext {
			if s, ok := v.(string); ok {
				p.ExternalIDs[strings.ToLower(k)] = s
			}
		}
		if doi, ok := p.ExternalIDs["doi"]; ok {
			p.DOI = doi
		}
	}

	if fos, ok := raw["fieldsOfStudy"].([]any); ok {
		for _, f := range fos {
			if s, ok := f.(string); ok {
				p.FieldsOfStudy[s] = struct{}{}
			}
		}
	}

	if authors, ok := raw["authors"].([]any); ok {
		for i, a := range authors {
			am, ok := a.(map[string]any)
			if !ok {
				continue
			}
			na := models.NormalizedAuthor{
				Name:           str(am, "name"),
				ExternalIDs:    map[string]string{},
				AuthorPosition: i + 1,
			}
			if id, ok := am["authorId"].(string); ok && id != "" {
				na.ExternalIDs["semantic_scholar"] = id
			}
			p.Authors = append(p.Authors, na)
		}
	}

	if oap, ok := raw["openAccessPdf"].(map[string]any); ok {
		p.PDFURL = str(oap, "url")
	}

	return p, nil
}

var arxivIDYearPattern = regexp.MustCompile(`^(\d{2})(\d{2})\.`)

// Arxiv maps a raw parsed Atom-feed entry into a NormalizedPaper.
// entryID is the bare arXiv identifier (e.g. "2106.01345").
func Arxiv(entryID, title, summary, published string, categories []string, primaryCategory string) (*models.NormalizedPaper, error) {
	p := models.NewNormalizedPaper()
	p.Source = models.SourceArxiv
	p.Title = strings.TrimSpace(title)
	p.Abstract = strings.TrimSpace(summary)
	p.ExternalIDs["arxiv"] = entryID
	p.IsOpenAccess = true
	p.PublicationTypes["preprint"] = struct{}{}

	if len(published) >= 10 {
		p.PublicationDate = published[:10]
	}
	if year, err := parseYearFromPublished(published); err == nil {
		p.Year = year
	} else if year, ok := yearFromArxivID(entryID); ok {
		p.Year = year
	}

	if primaryCategory != "" {
		p.FieldsOfStudy[primaryCategory] = struct{}{}
	}
	for _, c := range categories {
		p.FieldsOfStudy[c] = struct{}{}
	}

	baseID := strings.SplitN(entryID, "v", 2)[0]
	p.PDFURL = fmt.Sprintf("https://arxiv.org/pdf/%s.pdf", baseID)

	return p, nil
}

func parseYearFromPublished(published string) (int, error) {
	if len(published) < 4 {
		return 0, fmt.Errorf("too short")
	}
	return strconv.Atoi(published[:4])
}

func yearFromArxivID(id string) (int, bool) {
	m := arxivIDYearPattern.FindStringSubmatch(id)
	if m == nil {
		return 0, false
	}
	yy, _ := strconv.Atoi(m[1])
	century := 1900
	if yy < 50 {
		century = 2000
	}
	return century + yy, true
}

// OpenAlex maps a raw OpenAlex work object (with its abstract already
// reassembled by the client) into a NormalizedPaper.
func OpenAlex(raw map[string]any) (*models.NormalizedPaper, error) {
	p := models.NewNormalizedPaper()
	p.Source = models.SourceOpenAlex
	p.Title = str(raw, "title")
	p.Abstract = str(raw, "abstract") // already reassembled by the client
	p.Year = num(raw, "publication_year")
	p.PublicationDate = str(raw, "publication_date")
	p.CitationCount = num(raw, "cited_by_count")

	if doi, ok := raw["doi"].(string); ok {
		p.DOI = stripPrefix(stripPrefix(doi, "https://doi.org/"), "http://doi.org/")
	}
	if id, ok := raw["id"].(string); ok {
		oaID := stripPrefix(stripPrefix(id, "https://openalex.org/"), "http://openalex.org/")
		p.ExternalIDs["openalex"] = oaID
	}
	if p.DOI != "" {
		p.ExternalIDs["doi"] = p.DOI
	}

	if concepts, ok := raw["concepts"].([]any); ok {
		for _, c := range concepts {
			cm, ok := c.(map[string]any)
			if !ok {
				continue
			}
			if name := str(cm, "display_name"); name != "" {
				p.FieldsOfStudy[name] = struct{}{}
			}
		}
	}

	if authorships, ok := raw["authorships"].([]any); ok {
		for i, a := range authorships {
			am, ok := a.(map[string]any)
			if !ok {
				continue
			}
			author, _ := am["author"].(map[string]any)
			na := models.NormalizedAuthor{
				Name:           str(author, "display_name"),
				ExternalIDs:    map[string]string{},
				AuthorPosition: i + 1,
			}
			if id, ok := author["id"].(string); ok && id != "" {
				na.ExternalIDs["openalex"] = stripPrefix(id, "https://openalex.org/")
			}
			if orcid, ok := author["orcid"].(string); ok && orcid != "" {
				na.ExternalIDs["orcid"] = orcid
			}
			if pos, ok := am["author_position"].(string); ok {
				switch pos {
				case "first":
					na.AuthorPosition = 1
				case "last":
					na.AuthorPosition = -1
				}
			}
			if insts, ok := am["institutions"].([]any); ok {
				for _, inst := range insts {
					im, ok := inst.(map[string]any)
					if !ok {
						continue
					}
					if name := str(im, "display_name"); name != "" {
						na.Affiliations = append(na.Affiliations, name)
					}
				}
			}
			p.Authors = append(p.Authors, na)
		}
	}

	if oa, ok := raw["open_access"].(map[string]any); ok {
		p.IsOpenAccess, _ = oa["is_oa"].(bool)
		if url := str(oa, "oa_url"); url != "" {
			p.PDFURL = url
		}
	}
	if p.PDFURL == "" {
		if loc, ok := raw["best_oa_location"].(map[string]any); ok {
			p.PDFURL = str(loc, "pdf_url")
		}
	}

	return p, nil
}

func stripPrefix(s, prefix string) string {
	if strings.HasPrefix(s, prefix) {
		return s[len(prefix):]
	}
	return s
}

// ReconstructAbstract rebuilds a dense abstract string from OpenAlex's
// inverted index {word: [positions]}, scanning positions 0..max and
// filling each with its word; positions without a word are skipped
// but do not break ordering.
func ReconstructAbstract(invertedIndex map[string][]int) string {
	maxPos := -1
	for _, positions := range invertedIndex {
		for _, pos := range positions {
			if pos > maxPos {
				maxPos = pos
			}
		}
	}
	if maxPos < 0 {
		return ""
	}

	words := make([]string, maxPos+1)
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			words[pos] = word
		}
	}

	parts := make([]string, 0, len(words))
	for _, w := range words {
		if w != "" {
			parts = append(parts, w)
		}
	}
	return strings.Join(parts, " ")
}

// Merge combines multiple source-specific normalizations of the same
// paper into one record tagged "merged". An empty input is an error;
// a single-element input is returned unchanged.
func Merge(papers []*models.NormalizedPaper) (*models.NormalizedPaper, error) {
	if len(papers) == 0 {
		return nil, agkerrors.Validation("merge requires at least one paper")
	}
	if len(papers) == 1 {
		return papers[0], nil
	}

	out := models.NewNormalizedPaper()

	for _, p := range papers {
		if len(p.Title) > len(out.Title) {
			out.Title = p.Title
		}
		if len(p.Abstract) > len(out.Abstract) {
			out.Abstract = p.Abstract
		}
		if out.DOI == "" && p.DOI != "" {
			out.DOI = p.DOI
		}
		if p.Year > out.Year {
			out.Year = p.Year
		}
		if len(p.PublicationDate) > len(out.PublicationDate) {
			out.PublicationDate = p.PublicationDate
		}
		if out.Venue == "" && p.Venue != "" {
			out.Venue = p.Venue
		}
		if p.CitationCount > out.CitationCount {
			out.CitationCount = p.CitationCount
		}
		if p.ReferenceCount > out.ReferenceCount {
			out.ReferenceCount = p.ReferenceCount
		}
		if out.PDFURL == "" && p.PDFURL != "" {
			out.PDFURL = p.PDFURL
		}
		out.IsOpenAccess = out.IsOpenAccess || p.IsOpenAccess

		for k, v := range p.ExternalIDs {
			out.ExternalIDs[k] = v // last-paper-wins on key collision
		}
		for k := range p.FieldsOfStudy {
			out.FieldsOfStudy[k] = struct{}{}
		}
		for k := range p.PublicationTypes {
			out.PublicationTypes[k] = struct{}{}
		}
	}

	out.Authors = richestAuthors(papers)
	out.Source = models.SourceMerged
	return out, nil
}

func richestAuthors(papers []*models.NormalizedPaper) []models.NormalizedAuthor {
	var best []models.NormalizedAuthor
	bestScore := -1
	for _, p := range papers {
		score := 0
		for _, a := range p.Authors {
			score += len(a.Affiliations) + len(a.ExternalIDs)
		}
		if score > bestScore {
			bestScore = score
			best = p.Authors
		}
	}
	return best
}
