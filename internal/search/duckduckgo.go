package search

import (
	"context"
	"net/url"
	"strings"
)

// DefaultDuckDuckGoURL is the DuckDuckGo Instant Answer API root.
const DefaultDuckDuckGoURL = "https://api.duckduckgo.com"

// DuckDuckGo implements the Provider interface with the keyless
// Instant Answer API. It returns topic summaries rather than a full web
// index, so it serves as a fallback.
type DuckDuckGo struct {
	endpoint
}

// NewDuckDuckGo creates a DuckDuckGo provider. An empty baseURL selects
// [DefaultDuckDuckGoURL].
func NewDuckDuckGo(baseURL string) *DuckDuckGo {
	if baseURL == "" {
		baseURL = DefaultDuckDuckGoURL
	}
	return &DuckDuckGo{endpoint: newEndpoint("duckduckgo", baseURL)}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Topics   []ddgTopic `json:"Topics"`
}

type ddgResponse struct {
	Heading       string     `json:"Heading"`
	AbstractText  string     `json:"AbstractText"`
	AbstractURL   string     `json:"AbstractURL"`
	Answer        string     `json:"Answer"`
	Results       []ddgTopic `json:"Results"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

func (d *DuckDuckGo) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	count := resultCount(opts)
	params := url.Values{
		"q":             {query},
		"format":        {"json"},
		"no_html":       {"1"},
		"skip_disambig": {"1"},
	}
	var dr ddgResponse
	if err := d.getJSON(ctx, "/", params, nil, &dr); err != nil {
		return nil, err
	}

	var results []Result
	add := func(r Result) bool {
		results = append(results, r)
		return len(results) >= count
	}

	if dr.Answer != "" && add(Result{Title: dr.Heading, URL: dr.AbstractURL, Snippet: dr.Answer}) {
		return results, nil
	}
	if dr.AbstractText != "" && add(Result{Title: dr.Heading, URL: dr.AbstractURL, Snippet: dr.AbstractText}) {
		return results, nil
	}
	for _, t := range flattenTopics(append(dr.Results, dr.RelatedTopics...)) {
		if add(Result{Title: topicTitle(t.Text), URL: t.FirstURL, Snippet: t.Text}) {
			break
		}
	}
	return results, nil
}

// flattenTopics expands grouped related topics into a flat list,
// skipping entries without a URL.
func flattenTopics(topics []ddgTopic) []ddgTopic {
	var out []ddgTopic
	for _, t := range topics {
		if len(t.Topics) > 0 {
			out = append(out, flattenTopics(t.Topics)...)
			continue
		}
		if t.FirstURL != "" && t.Text != "" {
			out = append(out, t)
		}
	}
	return out
}

// topicTitle uses the text before the first " - " as a title.
func topicTitle(text string) string {
	if i := strings.Index(text, " - "); i > 0 {
		return text[:i]
	}
	return text
}
