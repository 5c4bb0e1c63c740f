// Package fetch provides web page fetching and content extraction.
// It downloads a URL's HTML and extracts readable text content,
// stripping scripts, styles, navigation and other boilerplate.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackmielke/agentdash/internal/httpkit"
)

// DefaultTimeout is the HTTP request timeout for fetching pages.
const DefaultTimeout = 15 * time.Second

// DefaultMaxBytes is the maximum response body size (2 MB).
const DefaultMaxBytes int64 = 2 * 1024 * 1024

// DefaultMaxChars is the character budget for extracted text.
const DefaultMaxChars = 8000

// TruncationMarker is appended to content cut at the character budget.
const TruncationMarker = "\n\n[... content truncated ...]"

// Result holds the fetched and extracted content from a URL.
type Result struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
	StatusCode  int    `json:"status_code"`
}

// Fetcher downloads and extracts readable content from web pages.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// New creates a Fetcher with default settings.
func New() *Fetcher {
	return &Fetcher{
		client: httpkit.NewClient(
			httpkit.WithTimeout(DefaultTimeout),
		),
		maxBytes: DefaultMaxBytes,
	}
}

// ValidateURL accepts only absolute http and https URLs with a host.
func ValidateURL(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("url must start with http:// or https://")
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url has no host")
	}
	return u, nil
}

// Fetch downloads the URL and extracts readable text content.
// maxChars limits the output length; 0 uses DefaultMaxChars.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (*Result, error) {
	u, err := ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.8,*/*;q=0.5")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 256))
	}

	body, _, err := httpkit.ReadLimited(resp.Body, f.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	result := &Result{
		URL:         u.String(),
		ContentType: contentType,
		StatusCode:  resp.StatusCode,
	}

	var content string
	switch {
	case isHTML(contentType) || (contentType == "" && looksLikeHTML(body)):
		result.Title, content = extractHTML(string(body))
	case !utf8.Valid(body):
		result.Content = fmt.Sprintf("Binary content (%s), %d bytes", contentType, len(body))
		return result, nil
	default:
		content = cleanWhitespace(string(body))
	}

	content = dedupeLines(content)
	if utf8.RuneCountInString(content) > maxChars {
		content = truncateUTF8(content, maxChars) + TruncationMarker
		result.Truncated = true
	}
	result.Content = content
	return result, nil
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

func looksLikeHTML(body []byte) bool {
	head := strings.ToLower(string(body[:min(len(body), 512)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

// dedupeLines drops non-empty lines already seen earlier in s. Menus and
// cookie banners repeated across a page collapse to one occurrence.
func dedupeLines(s string) string {
	seen := make(map[string]bool)
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line != "" {
			if seen[line] {
				continue
			}
			seen[line] = true
		}
		out = append(out, line)
	}
	return cleanWhitespace(strings.Join(out, "\n"))
}

// truncateUTF8 truncates a string to maxChars runes, ensuring it doesn't
// break in the middle of a multi-byte character.
func truncateUTF8(s string, maxChars int) string {
	count := 0
	for i := range s {
		if count >= maxChars {
			return s[:i]
		}
		count++
	}
	return s
}
