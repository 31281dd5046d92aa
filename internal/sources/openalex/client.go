// Package openalex implements the OpenAlex REST client: work lookup,
// abstract-inverted-index reassembly, and polite-pool mailto
// injection.
package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
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

// Client is the OpenAlex REST API client.
type Client struct {
	ctx     *sources.Context
	baseURL string
	mailto  string
	httpc   *http.Client
}

// New builds a client bound to the given shared source context. The
// mailto address, when set, is injected into every request for the
// polite pool.
func New(ctx *sources.Context, baseURL, mailto string, httpc *http.Client) *Client {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Client{ctx: ctx, baseURL: baseURL, mailto: mailto, httpc: httpc}
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (map[string]any, error) {
	if c.mailto != "" {
		params.Set("mailto", c.mailto)
	}
	full := c.baseURL + "/" + endpoint + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, agkerrors.Transient(err, "openalex request failed")
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, agkerrors.NotFoundf("openalex: %s not found", endpoint)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, agkerrors.RateLimited("openalex", 0)
	case resp.StatusCode >= 500:
		return nil, agkerrors.Transient(fmt.Errorf("status %d", resp.StatusCode), "openalex 5xx")
	case resp.StatusCode >= 400:
		return nil, agkerrors.APIError(resp.StatusCode, string(body))
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, agkerrors.APIError(resp.StatusCode, "malformed json")
	}
	return parsed, nil
}

func withReconstructedAbstract(raw map[string]any) map[string]any {
	if inv, ok := raw["abstract_inverted_index"].(map[string]any); ok {
		idx := make(map[string][]int, len(inv))
		for word, positions := range inv {
			list, ok := positions.([]any)
			if !ok {
				continue
			}
			ints := make([]int, 0, len(list))
			for _, p := range list {
				if f, ok := p.(float64); ok {
					ints = append(ints, int(f))
				}
			}
			idx[word] = ints
		}
		raw["abstract"] = normalize.ReconstructAbstract(idx)
	}
	return raw
}

// GetWork fetches a single work by its OpenAlex id or DOI.
func (c *Client) GetWork(ctx context.Context, idOrDOI string) (*models.NormalizedPaper, error) {
	endpoint := "works/" + idOrDOI
	cacheKey := respcache.GenerateKey("openalex", "get_work", map[string]any{"id": idOrDOI})

	raw, err := c.ctx.Call(ctx, cacheKey, respcache.NamespacePaper, func(ctx context.Context) ([]byte, error) {
		m, err := c.get(ctx, endpoint, url.Values{})
		if err != nil {
			return nil, err
		}
		m = withReconstructedAbstract(m)
		return json.Marshal(m)
	})
	if err != nil {
		return nil, err
	}

	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, agkerrors.APIError(0, "cached payload corrupt")
	}
	return normalize.OpenAlex(parsed)
}

// SearchWorks searches with a free-text query and a filter map
// (joined as "k1:v1,k2:v2" per the OpenAlex filter syntax).
func (c *Client) SearchWorks(ctx context.Context, query string, filters map[string]string, sort string, page int) ([]*models.NormalizedPaper, error) {
	params := url.Values{"search": {query}, "page": {strconv.Itoa(page)}, "per-page": {"25"}}
	if sort != "" {
		params.Set("sort", sort)
	}
	if len(filters) > 0 {
		parts := make([]string, 0, len(filters))
		for k, v := range filters {
			parts = append(parts, k+":"+v)
		}
		params.Set("filter", strings.Join(parts, ","))
	}

	cacheKey := respcache.GenerateKey("openalex", "search_works", map[string]any{"query": query, "filters": filters, "sort": sort, "page": page})
	raw, err := c.ctx.Call(ctx, cacheKey, respcache.NamespaceSearch, func(ctx context.Context) ([]byte, error) {
		m, err := c.get(ctx, "works", params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(m)
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Results []map[string]any `json:"results"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, agkerrors.APIError(0, "cached payload corrupt")
	}

	out := make([]*models.NormalizedPaper, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		r = withReconstructedAbstract(r)
		p, err := normalize.OpenAlex(r)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// GetAuthor fetches a single author by OpenAlex id.
func (c *Client) GetAuthor(ctx context.Context, id string) (map[string]any, error) {
	cacheKey := respcache.GenerateKey("openalex", "get_author", map[string]any{"id": id})
	raw, err := c.ctx.Call(ctx, cacheKey, respcache.NamespaceAuthor, func(ctx context.Context) ([]byte, error) {
		m, err := c.get(ctx, "authors/"+id, url.Values{})
		if err != nil {
			return nil, err
		}
		return json.Marshal(m)
	})
	if err != nil {
		return nil, err
	}
	var parsed map[string]any
	json.Unmarshal(raw, &parsed)
	return parsed, nil
}

// GetAuthorWorks lists an author's works, paginated.
func (c *Client) GetAuthorWorks(ctx context.Context, authorID string, page int) ([]*models.NormalizedPaper, error) {
	return c.SearchWorks(ctx, "", map[string]string{"author.id": authorID}, "", page)
}

// GetRandomWorks samples count works using OpenAlex's "sample"
// filter parameter, optionally with a fixed seed for reproducibility.
func (c *Client) GetRandomWorks(ctx context.Context, count int, seed *int) ([]*models.NormalizedPaper, error) {
	params := url.Values{"sample": {strconv.Itoa(count)}}
	if seed != nil {
		params.Set("seed", strconv.Itoa(*seed))
	}
	if c.mailto != "" {
		params.Set("mailto", c.mailto)
	}

	if err := c.ctx.Breaker.Check(); err != nil {
		return nil, err
	}
	if err := c.ctx.Limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	m, err := c.get(ctx, "works", params)
	if err != nil {
		c.ctx.Breaker.RecordFailure()
		return nil, err
	}
	c.ctx.Breaker.RecordSuccess()

	results, _ := m["results"].([]any)
	out := make([]*models.NormalizedPaper, 0, len(results))
	for _, r := range results {
		rm, ok := r.(map[string]any)
		if !ok {
			continue
		}
		rm = withReconstructedAbstract(rm)
		p, err := normalize.OpenAlex(rm)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
