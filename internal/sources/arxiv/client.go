// Package arxiv implements the arXiv Atom feed client: query
// construction and feed parsing against the export.arxiv.org API.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	agkerrors "github.com/agentic-kg/knowledge-core/internal/errors"
	"github.com/agentic-kg/knowledge-core/internal/models"
	"github.com/agentic-kg/knowledge-core/internal/normalize"
	"github.com/agentic-kg/knowledge-core/internal/respcache"
	"github.com/agentic-kg/knowledge-core/internal/sources"
)

type feed struct {
	Entries []entry `xml:"entry"`
}

type entry struct {
	ID         string     `xml:"id"`
	Title      string     `xml:"title"`
	Summary    string     `xml:"summary"`
	Published  string     `xml:"published"`
	Categories []category `xml:"category"`
	Primary    category   `xml:"primary_category"`
}

type category struct {
	Term string `xml:"term,attr"`
}

// Client is the arXiv Atom query API client.
type Client struct {
	ctx     *sources.Context
	baseURL string
	httpc   *http.Client
}

// New builds a client bound to the given shared source context.
func New(ctx *sources.Context, baseURL string, httpc *http.Client) *Client {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Client{ctx: ctx, baseURL: baseURL, httpc: httpc}
}

func bareID(idURL string) string {
	idx := strings.LastIndex(idURL, "/abs/")
	if idx == -1 {
		return idURL
	}
	return idURL[idx+len("/abs/"):]
}

func (c *Client) query(ctx context.Context, params url.Values) (*feed, error) {
	full := c.baseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, agkerrors.Transient(err, "arxiv request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, agkerrors.Transient(fmt.Errorf("status %d", resp.StatusCode), "arxiv 5xx")
	}
	if resp.StatusCode >= 400 {
		return nil, agkerrors.APIError(resp.StatusCode, "")
	}

	var f feed
	if err := xml.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, agkerrors.APIError(resp.StatusCode, "malformed atom feed")
	}
	return &f, nil
}

// GetPaper fetches a single paper by its bare arXiv id.
func (c *Client) GetPaper(ctx context.Context, arxivID string) (*models.NormalizedPaper, error) {
	params := url.Values{"id_list": {arxivID}}
	cacheKey := respcache.GenerateKey("arxiv", "get_paper", map[string]any{"id": arxivID})

	raw, err := c.ctx.Call(ctx, cacheKey, respcache.NamespacePaper, func(ctx context.Context) ([]byte, error) {
		f, err := c.query(ctx, params)
		if err != nil {
			return nil, err
		}
		if len(f.Entries) == 0 {
			return nil, agkerrors.NotFoundf("arxiv: %s not found", arxivID)
		}
		return xml.Marshal(f.Entries[0])
	})
	if err != nil {
		return nil, err
	}

	var e entry
	if err := xml.Unmarshal(raw, &e); err != nil {
		return nil, agkerrors.APIError(0, "cached payload corrupt")
	}
	return toNormalized(e)
}

func toNormalized(e entry) (*models.NormalizedPaper, error) {
	id := bareID(e.ID)
	cats := make([]string, 0, len(e.Categories))
	for _, c := range e.Categories {
		cats = append(cats, c.Term)
	}
	return normalize.Arxiv(id, e.Title, e.Summary, e.Published, cats, e.Primary.Term)
}

// SearchPapers searches arXiv by free-text query with pagination and
// sort controls.
func (c *Client) SearchPapers(ctx context.Context, query string, start, maxResults int, sortBy, sortOrder string) ([]*models.NormalizedPaper, error) {
	params := url.Values{
		"search_query": {query},
		"start":        {strconv.Itoa(start)},
		"max_results":  {strconv.Itoa(maxResults)},
	}
	if sortBy != "" {
		params.Set("sortBy", sortBy)
	}
	if sortOrder != "" {
		params.Set("sortOrder", sortOrder)
	}

	if err := c.ctx.Breaker.Check(); err != nil {
		return nil, err
	}
	if err := c.ctx.Limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	f, err := c.query(ctx, params)
	if err != nil {
		c.ctx.Breaker.RecordFailure()
		return nil, err
	}
	c.ctx.Breaker.RecordSuccess()

	out := make([]*models.NormalizedPaper, 0, len(f.Entries))
	for _, e := range f.Entries {
		p, err := toNormalized(e)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// GetPapersByIDs fetches multiple papers via a comma-joined id_list.
func (c *Client) GetPapersByIDs(ctx context.Context, ids []string) ([]*models.NormalizedPaper, error) {
	params := url.Values{"id_list": {strings.Join(ids, ",")}, "max_results": {strconv.Itoa(len(ids))}}

	if err := c.ctx.Breaker.Check(); err != nil {
		return nil, err
	}
	if err := c.ctx.Limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	f, err := c.query(ctx, params)
	if err != nil {
		c.ctx.Breaker.RecordFailure()
		return nil, err
	}
	c.ctx.Breaker.RecordSuccess()

	out := make([]*models.NormalizedPaper, 0, len(f.Entries))
	for _, e := range f.Entries {
		p, err := toNormalized(e)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// PDFURL deterministically constructs the PDF URL for a bare arXiv
// id, stripping any "vN" version suffix.
func PDFURL(arxivID string) string {
	base := strings.SplitN(arxivID, "v", 2)[0]
	return fmt.Sprintf("https://arxiv.org/pdf/%s.pdf", base)
}

// AbstractURL deterministically constructs the abstract-page URL for
// a bare arXiv id.
func AbstractURL(arxivID string) string {
	return fmt.Sprintf("https://arxiv.org/abs/%s", arxivID)
}
