package models

import "time"

// SourceType qualifies the bibliographic origin of a record.
type SourceType string

const (
	SourceSemanticScholar SourceType = "semantic_scholar"
	SourceArxiv           SourceType = "arxiv"
	SourceOpenAlex        SourceType = "openalex"
	// SourceMerged is emitted only by the merge operator; it must
	// never be accepted as an input source tag.
	SourceMerged SourceType = "merged"
)

// NormalizedAuthor is a source-agnostic author record.
type NormalizedAuthor struct {
	Name          string
	ExternalIDs   map[string]string
	Affiliations  []string
	AuthorPosition int
}

// NormalizedPaper is the unified bibliographic record every source
// client's output is mapped into.
type NormalizedPaper struct {
	Title             string
	Source            SourceType
	DOI               string
	ExternalIDs       map[string]string
	Abstract          string
	Year              int
	PublicationDate   string
	Venue             string
	Authors           []NormalizedAuthor
	CitationCount     int
	ReferenceCount    int
	FieldsOfStudy     map[string]struct{}
	PublicationTypes  map[string]struct{}
	IsOpenAccess      bool
	PDFURL            string
}

// NewNormalizedPaper returns a paper with initialized set fields.
func NewNormalizedPaper() *NormalizedPaper {
	return &NormalizedPaper{
		ExternalIDs:      map[string]string{},
		FieldsOfStudy:    map[string]struct{}{},
		PublicationTypes: map[string]struct{}{},
	}
}

// PDFCacheEntry is the metadata row for one content-addressed PDF.
type PDFCacheEntry struct {
	Identifier     string
	ContentHash    string
	FilePath       string
	ByteSize       int64
	Source         string
	DownloadedAt   time.Time
	LastAccessedAt time.Time
}
