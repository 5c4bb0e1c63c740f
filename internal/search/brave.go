package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// DefaultBraveURL is the Brave Search API root.
const DefaultBraveURL = "https://api.search.brave.com"

// Brave queries the Brave Search web API. It needs a subscription token.
type Brave struct {
	endpoint
	apiKey string
}

// NewBrave creates a Brave Search provider. An empty baseURL selects
// [DefaultBraveURL].
func NewBrave(apiKey, baseURL string) *Brave {
	if baseURL == "" {
		baseURL = DefaultBraveURL
	}
	return &Brave{endpoint: newEndpoint("brave", baseURL), apiKey: apiKey}
}

func (b *Brave) Name() string { return "brave" }

func (b *Brave) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if b.apiKey == "" {
		return nil, fmt.Errorf("brave: API key not configured")
	}

	params := url.Values{
		"q":     {query},
		"count": {strconv.Itoa(resultCount(opts))},
	}
	if opts.Language != "" {
		params.Set("search_lang", opts.Language)
	}

	var body struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	header := http.Header{"X-Subscription-Token": {b.apiKey}}
	if err := b.getJSON(ctx, "/res/v1/web/search", params, header, &body); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(body.Web.Results))
	for _, r := range body.Web.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return results, nil
}
