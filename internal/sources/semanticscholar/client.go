// Package semanticscholar implements the Semantic Scholar REST
// client, following the same HTTP-plus-pagination idiom used by the
// other source clients.
package semanticscholar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	agkerrors "github.com/agentic-kg/knowledge-core/internal/errors"
	"github.com/agentic-kg/knowledge-core/internal/models"
	"github.com/agentic-kg/knowledge-core/internal/normalize"
	"github.com/agentic-kg/knowledge-core/internal/respcache"
	"github.com/agentic-kg/knowledge-core/internal/sources"
)

var defaultPaperFields = []string{
	"paperId", "externalIds", "title", "abstract", "year", "venue", "authors",
	"citationCount", "referenceCount", "fieldsOfStudy", "publicationTypes",
	"isOpenAccess", "openAccessPdf", "publicationDate",
}

// Client is the Semantic Scholar Academic Graph API client.
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

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (map[string]any, error) {
	full := c.baseURL + "/" + endpoint
	if len(params) > 0 {
		full += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, agkerrors.Transient(err, "semantic scholar request failed")
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, agkerrors.NotFoundf("semantic scholar: %s not found", endpoint)
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, agkerrors.RateLimited("semantic_scholar", retryAfter)
	case resp.StatusCode >= 500:
		return nil, agkerrors.Transient(fmt.Errorf("status %d", resp.StatusCode), "semantic scholar 5xx")
	case resp.StatusCode >= 400:
		return nil, agkerrors.APIError(resp.StatusCode, string(body))
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, agkerrors.APIError(resp.StatusCode, "malformed json")
	}
	return parsed, nil
}

// GetPaper fetches a single paper by its Semantic Scholar id, DOI
// (with "DOI:" prefix), or arXiv id (with "ARXIV:" prefix).
func (c *Client) GetPaper(ctx context.Context, identifier string) (*models.NormalizedPaper, error) {
	params := url.Values{"fields": {strings.Join(defaultPaperFields, ",")}}
	cacheKey := respcache.GenerateKey("semantic_scholar", "get_paper", map[string]any{"identifier": identifier})

	raw, err := c.ctx.Call(ctx, cacheKey, respcache.NamespacePaper, func(ctx context.Context) ([]byte, error) {
		m, err := c.get(ctx, "paper/"+identifier, params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(m)
	})
	if err != nil {
		return nil, err
	}

	var raw2 map[string]any
	if err := json.Unmarshal(raw, &raw2); err != nil {
		return nil, agkerrors.APIError(0, "cached payload corrupt")
	}
	return normalize.SemanticScholar(raw2)
}

// GetPaperByDOI normalizes a bare DOI into the "DOI:" identifier form.
func (c *Client) GetPaperByDOI(ctx context.Context, doi string) (*models.NormalizedPaper, error) {
	if !strings.HasPrefix(doi, "DOI:") {
		doi = "DOI:" + doi
	}
	return c.GetPaper(ctx, doi)
}

// GetPaperByArxiv normalizes a bare arXiv id into the "ARXIV:"
// identifier form.
func (c *Client) GetPaperByArxiv(ctx context.Context, arxivID string) (*models.NormalizedPaper, error) {
	if !strings.HasPrefix(arxivID, "ARXIV:") {
		arxivID = "ARXIV:" + arxivID
	}
	return c.GetPaper(ctx, arxivID)
}

// SearchPapers searches by free-text query, capped at 100 results per
// the API's own limit.
func (c *Client) SearchPapers(ctx context.Context, query string, limit, offset int) ([]*models.NormalizedPaper, error) {
	if limit > 100 {
		limit = 100
	}
	params := url.Values{
		"query":  {query},
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
		"fields": {strings.Join(defaultPaperFields, ",")},
	}
	cacheKey := respcache.GenerateKey("semantic_scholar", "search_papers", map[string]any{"query": query, "limit": limit, "offset": offset})

	raw, err := c.ctx.Call(ctx, cacheKey, respcache.NamespaceSearch, func(ctx context.Context) ([]byte, error) {
		m, err := c.get(ctx, "paper/search", params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(m)
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, agkerrors.APIError(0, "cached payload corrupt")
	}

	out := make([]*models.NormalizedPaper, 0, len(parsed.Data))
	for _, item := range parsed.Data {
		p, err := normalize.SemanticScholar(item)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// BulkGetPapers fetches up to 500 papers by id in a single POST,
// caching each result individually under its canonical id.
func (c *Client) BulkGetPapers(ctx context.Context, ids []string) ([]*models.NormalizedPaper, error) {
	if len(ids) > 500 {
		return nil, agkerrors.Validation("maximum 500 papers per bulk request")
	}
	if err := c.ctx.Breaker.Check(); err != nil {
		return nil, err
	}
	if err := c.ctx.Limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	body, _ := json.Marshal(map[string]any{"ids": ids})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/paper/batch?fields="+strings.Join(defaultPaperFields, ","), strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.ctx.Breaker.RecordFailure()
		return nil, agkerrors.Transient(err, "bulk get papers failed")
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		c.ctx.Breaker.RecordFailure()
		return nil, agkerrors.APIError(resp.StatusCode, string(respBody))
	}
	c.ctx.Breaker.RecordSuccess()

	var items []map[string]any
	if err := json.Unmarshal(respBody, &items); err != nil {
		return nil, agkerrors.APIError(resp.StatusCode, "malformed json")
	}

	out := make([]*models.NormalizedPaper, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		p, err := normalize.SemanticScholar(item)
		if err != nil {
			continue
		}
		if id, ok := item["paperId"].(string); ok {
			key := respcache.GenerateKey("semantic_scholar", "get_paper", map[string]any{"identifier": id})
			raw, _ := json.Marshal(item)
			c.ctx.Cache.Set(key, raw, respcache.NamespacePaper)
		}
		out = append(out, p)
	}
	return out, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}
