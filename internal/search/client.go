package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jackmielke/agentdash/internal/httpkit"
)

// providerTimeout bounds one provider query so a hung backend falls
// through to the next provider instead of stalling the run.
const providerTimeout = 15 * time.Second

// defaultCount is used when the caller does not ask for a count.
const defaultCount = 5

// endpoint is the HTTP plumbing shared by the JSON search backends.
type endpoint struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

func newEndpoint(name, baseURL string) endpoint {
	return endpoint{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(httpkit.WithTimeout(providerTimeout)),
	}
}

// getJSON issues GET baseURL+path?params and decodes a 200 response
// into v. Errors are prefixed with the provider name.
func (e endpoint) getJSON(ctx context.Context, path string, params url.Values, header http.Header, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", e.name, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, vals := range header {
		req.Header[k] = vals
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", e.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: HTTP %d: %s", e.name, resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%s: decode response: %w", e.name, err)
	}
	return nil
}

func resultCount(opts Options) int {
	if opts.Count > 0 {
		return opts.Count
	}
	return defaultCount
}
