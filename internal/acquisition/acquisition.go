// Package acquisition implements the acquisition layer: identifier
// detection, source-priority resolution, metadata fetch, and PDF
// retrieval across the bibliographic sources.
package acquisition

import (
	"context"
	"net/url"
	"strings"

	agkerrors "github.com/agentic-kg/knowledge-core/internal/errors"
	"github.com/agentic-kg/knowledge-core/internal/models"
	"github.com/agentic-kg/knowledge-core/internal/pdfcache"
	"github.com/agentic-kg/knowledge-core/internal/sources/arxiv"
	"github.com/agentic-kg/knowledge-core/internal/sources/openalex"
	"github.com/agentic-kg/knowledge-core/internal/sources/semanticscholar"
)

// DownloadOutcome tags the result of a PDF fetch attempt.
type DownloadOutcome int

const (
	DownloadCompleted DownloadOutcome = iota
	DownloadNotAvailable
	DownloadFailed
)

// DownloadResult is the tagged outcome of a GetPDF call.
type DownloadResult struct {
	Outcome DownloadOutcome
	Path    string
	Size    int64
	Hash    string
	Source  string
	Reason  string
	Message string
}

// Layer resolves an identifier to metadata or PDF bytes across the
// three bibliographic sources, using an injected httpClient-backed
// source fan-out rather than module-level singletons (Design Note
// "Singletons").
type Layer struct {
	S2       *semanticscholar.Client
	Arxiv    *arxiv.Client
	OpenAlex *openalex.Client
	PDFCache *pdfcache.Cache
}

// New builds an acquisition layer over the three source clients and
// the PDF cache.
func New(s2 *semanticscholar.Client, ax *arxiv.Client, oa *openalex.Client, cache *pdfcache.Cache) *Layer {
	return &Layer{S2: s2, Arxiv: ax, OpenAlex: oa, PDFCache: cache}
}

// GetMetadata resolves an identifier to a NormalizedPaper, trying
// sources in priority order for the identifier's detected type.
func (l *Layer) GetMetadata(ctx context.Context, rawID string) (*models.NormalizedPaper, error) {
	idType := models.DetectIdentifierType(rawID)
	id := models.CleanIdentifier(rawID)

	switch idType {
	case models.IdentifierDOI:
		return l.fallback(ctx, id,
			func(ctx context.Context) (*models.NormalizedPaper, error) { return l.S2.GetPaperByDOI(ctx, id) },
			func(ctx context.Context) (*models.NormalizedPaper, error) { return l.OpenAlex.GetWork(ctx, id) },
		)
	case models.IdentifierArxiv:
		return l.fallback(ctx, id,
			func(ctx context.Context) (*models.NormalizedPaper, error) { return l.Arxiv.GetPaper(ctx, id) },
			func(ctx context.Context) (*models.NormalizedPaper, error) { return l.S2.GetPaperByArxiv(ctx, id) },
		)
	case models.IdentifierS2:
		return l.S2.GetPaper(ctx, id)
	case models.IdentifierOpenAlex:
		return l.OpenAlex.GetWork(ctx, id)
	case models.IdentifierURL:
		embedded, err := extractIdentifierFromURL(rawID)
		if err != nil {
			return nil, err
		}
		return l.GetMetadata(ctx, embedded)
	default: // Unknown: try DOI, then arXiv, then S2, then OpenAlex.
		if p, err := l.S2.GetPaperByDOI(ctx, id); err == nil {
			return p, nil
		} else if !agkerrors.Is(err, agkerrors.KindNotFound) {
			return nil, err
		}
		if p, err := l.Arxiv.GetPaper(ctx, id); err == nil {
			return p, nil
		} else if !agkerrors.Is(err, agkerrors.KindNotFound) {
			return nil, err
		}
		if p, err := l.S2.GetPaper(ctx, id); err == nil {
			return p, nil
		} else if !agkerrors.Is(err, agkerrors.KindNotFound) {
			return nil, err
		}
		return l.OpenAlex.GetWork(ctx, id)
	}
}

// fallback tries primary, and on NotFound only, tries secondary. Any
// other error class propagates immediately without attempting the
// secondary source.
func (l *Layer) fallback(
	ctx context.Context,
	id string,
	primary, secondary func(context.Context) (*models.NormalizedPaper, error),
) (*models.NormalizedPaper, error) {
	p, err := primary(ctx)
	if err == nil {
		return p, nil
	}
	if !agkerrors.Is(err, agkerrors.KindNotFound) {
		return nil, err
	}
	return secondary(ctx)
}

func extractIdentifierFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", agkerrors.Validationf("malformed url: %v", err)
	}
	path := strings.Trim(u.Path, "/")
	switch {
	case strings.Contains(u.Host, "arxiv.org"):
		parts := strings.Split(path, "/")
		return parts[len(parts)-1], nil
	case strings.Contains(u.Host, "doi.org"):
		return path, nil
	case strings.Contains(u.Host, "openalex.org"):
		parts := strings.Split(path, "/")
		return parts[len(parts)-1], nil
	default:
		return "", agkerrors.Validationf("cannot extract identifier from url %q", raw)
	}
}

// GetPDF downloads the PDF for an identifier, in priority order:
// direct arXiv download, then the normalized metadata's pdf_url.
// Every successful download is routed through the PDF cache.
func (l *Layer) GetPDF(ctx context.Context, rawID string, fetch func(ctx context.Context, url string) ([]byte, error)) DownloadResult {
	idType := models.DetectIdentifierType(rawID)
	id := models.CleanIdentifier(rawID)

	if idType == models.IdentifierArxiv {
		data, err := fetch(ctx, arxiv.PDFURL(id))
		if err == nil {
			return l.storeDownload(ctx, rawID, data, "arxiv")
		}
	}

	meta, err := l.GetMetadata(ctx, rawID)
	if err != nil {
		return DownloadResult{Outcome: DownloadFailed, Message: err.Error()}
	}
	if meta.PDFURL == "" {
		return DownloadResult{Outcome: DownloadNotAvailable, Reason: "no pdf_url on normalized metadata"}
	}

	data, err := fetch(ctx, meta.PDFURL)
	if err != nil {
		return DownloadResult{Outcome: DownloadFailed, Message: err.Error()}
	}
	return l.storeDownload(ctx, rawID, data, string(meta.Source))
}

func (l *Layer) storeDownload(ctx context.Context, id string, data []byte, source string) DownloadResult {
	entry, err := l.PDFCache.Store(ctx, id, data, source)
	if err != nil {
		return DownloadResult{Outcome: DownloadFailed, Message: err.Error()}
	}
	return DownloadResult{
		Outcome: DownloadCompleted, Path: entry.FilePath, Size: entry.ByteSize,
		Hash: entry.ContentHash, Source: source,
	}
}

// Search fans out to the requested source, or all three if source is
// empty, concatenates, deduplicates by DOI (records without a DOI are
// retained unchanged), and truncates to limit.
func (l *Layer) Search(ctx context.Context, query string, source models.SourceType, limit int) ([]*models.NormalizedPaper, error) {
	var all []*models.NormalizedPaper

	run := func(fn func() ([]*models.NormalizedPaper, error)) error {
		results, err := fn()
		if err != nil {
			return err
		}
		all = append(all, results...)
		return nil
	}

	switch source {
	case models.SourceSemanticScholar:
		if err := run(func() ([]*models.NormalizedPaper, error) { return l.S2.SearchPapers(ctx, query, limit, 0) }); err != nil {
			return nil, err
		}
	case models.SourceArxiv:
		if err := run(func() ([]*models.NormalizedPaper, error) { return l.Arxiv.SearchPapers(ctx, query, 0, limit, "", "") }); err != nil {
			return nil, err
		}
	case models.SourceOpenAlex:
		if err := run(func() ([]*models.NormalizedPaper, error) { return l.OpenAlex.SearchWorks(ctx, query, nil, "", 1) }); err != nil {
			return nil, err
		}
	default:
		if err := run(func() ([]*models.NormalizedPaper, error) { return l.S2.SearchPapers(ctx, query, limit, 0) }); err != nil {
			return nil, err
		}
		if err := run(func() ([]*models.NormalizedPaper, error) { return l.Arxiv.SearchPapers(ctx, query, 0, limit, "", "") }); err != nil {
			return nil, err
		}
		if err := run(func() ([]*models.NormalizedPaper, error) { return l.OpenAlex.SearchWorks(ctx, query, nil, "", 1) }); err != nil {
			return nil, err
		}
	}

	deduped := dedupeByDOI(all)
	if len(deduped) > limit {
		deduped = deduped[:limit]
	}
	return deduped, nil
}

func dedupeByDOI(papers []*models.NormalizedPaper) []*models.NormalizedPaper {
	seen := make(map[string]struct{})
	out := make([]*models.NormalizedPaper, 0, len(papers))
	for _, p := range papers {
		if p.DOI == "" {
			out = append(out, p)
			continue
		}
		if _, ok := seen[p.DOI]; ok {
			continue
		}
		seen[p.DOI] = struct{}{}
		out = append(out, p)
	}
	return out
}
