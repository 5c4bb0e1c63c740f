package search

import (
	"context"
	"net/url"
)

// SearXNG queries a self-hosted SearXNG metasearch instance. The
// instance must have the json output format enabled.
type SearXNG struct {
	endpoint
}

// NewSearXNG creates a SearXNG provider rooted at baseURL
// (e.g., "http://localhost:8888").
func NewSearXNG(baseURL string) *SearXNG {
	return &SearXNG{endpoint: newEndpoint("searxng", baseURL)}
}

func (s *SearXNG) Name() string { return "searxng" }

func (s *SearXNG) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	params := url.Values{"q": {query}, "format": {"json"}}
	if opts.Language != "" {
		params.Set("language", opts.Language)
	}

	var body struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := s.getJSON(ctx, "/search", params, nil, &body); err != nil {
		return nil, err
	}

	// SearXNG ignores count hints, so trim here.
	n := min(len(body.Results), resultCount(opts))
	results := make([]Result, 0, n)
	for _, r := range body.Results[:n] {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return results, nil
}
