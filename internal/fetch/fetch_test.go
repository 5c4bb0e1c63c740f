package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestExtractHTML(t *testing.T) {
	html := `<!DOCTYPE html>
<html>
<head><title>Test Page</title></head>
<body>
<nav>Navigation stuff</nav>
<script>var x = 1;</script>
<style>.foo { color: red; }</style>
<main>
<h1>Hello World</h1>
<p>This is a test paragraph with <strong>bold text</strong>.</p>
<p>Fish &amp; chips &lt;3 caf&eacute;</p>
</main>
<footer>Footer stuff</footer>
</body>
</html>`

	title, content := extractHTML(html)

	if title != "Test Page" {
		t.Errorf("expected title 'Test Page', got %q", title)
	}
	if !strings.Contains(content, "Hello World") {
		t.Errorf("expected content to contain 'Hello World', got %q", content)
	}
	if !strings.Contains(content, "bold text") {
		t.Errorf("expected content to contain 'bold text', got %q", content)
	}
	if !strings.Contains(content, "Fish & chips <3 café") {
		t.Errorf("entities not decoded: %q", content)
	}
	for _, unwanted := range []string{"var x = 1", "color: red", "Navigation stuff", "Footer stuff"} {
		if strings.Contains(content, unwanted) {
			t.Errorf("content should not contain %q: %q", unwanted, content)
		}
	}
}

func TestStripTagsSkipsScripts(t *testing.T) {
	got := stripTags(`<p>keep</p><script>drop()</script><style>p{}</style><b>this</b>`)
	if got != "keep this" {
		t.Errorf("stripTags() = %q, want %q", got, "keep this")
	}
}

func TestFetch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := r.Header.Get("User-Agent")
		if !strings.HasPrefix(ua, "AgentDash/") {
			t.Errorf("expected AgentDash User-Agent, got %q", ua)
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>Test</title></head><body><p>Hello from test server</p></body></html>`))
	}))
	defer ts.Close()

	f := New()
	result, err := f.Fetch(context.Background(), ts.URL, 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if result.Title != "Test" {
		t.Errorf("expected title 'Test', got %q", result.Title)
	}
	if result.Content != "Hello from test server" {
		t.Errorf("content = %q", result.Content)
	}
	if result.StatusCode != 200 {
		t.Errorf("expected status 200, got %d", result.StatusCode)
	}
}

func TestFetchPlainText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("Just plain text content"))
	}))
	defer ts.Close()

	result, err := New().Fetch(context.Background(), ts.URL, 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if result.Content != "Just plain text content" {
		t.Errorf("expected plain text content, got %q", result.Content)
	}
}

func TestFetchTruncation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("x", DefaultMaxChars+500)))
	}))
	defer ts.Close()

	result, err := New().Fetch(context.Background(), ts.URL, 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !result.Truncated {
		t.Error("expected truncated=true")
	}
	if !strings.HasSuffix(result.Content, TruncationMarker) {
		t.Errorf("missing truncation marker: ...%q", result.Content[len(result.Content)-40:])
	}
	if got := strings.Count(result.Content, "x"); got != DefaultMaxChars {
		t.Errorf("kept %d chars, want %d", got, DefaultMaxChars)
	}
}

func TestFetchHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer ts.Close()

	if _, err := New().Fetch(context.Background(), ts.URL, 0); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v, want HTTP 404", err)
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://example.com/page", false},
		{"http://example.com", false},
		{"", true},
		{"example.com", true},
		{"ftp://example.com/file", true},
		{"file:///etc/passwd", true},
		{"javascript:alert(1)", true},
		{"https://", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			_, err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) err = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestDedupeLines(t *testing.T) {
	in := "Menu\nHello\n\nMenu\nWorld\nHello"
	if got := dedupeLines(in); got != "Menu\nHello\n\nWorld" {
		t.Errorf("dedupeLines() = %q", got)
	}
}

func TestCleanWhitespace(t *testing.T) {
	input := "  Hello   world  \n\n\n\n  Second line  \n\n\n Third  "
	want := "Hello world\n\nSecond line\n\nThird"
	if got := cleanWhitespace(input); got != want {
		t.Errorf("cleanWhitespace() = %q, want %q", got, want)
	}
}

func TestTruncateUTF8(t *testing.T) {
	s := "Héllo wörld café"
	if got := truncateUTF8(s, 5); got != "Héllo" {
		t.Errorf("truncateUTF8() = %q, want %q", got, "Héllo")
	}
}

func TestToolHandler(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Tool Test</title></head><body><p>Content here</p></body></html>`))
	}))
	defer ts.Close()

	result, err := ToolHandler(New())(context.Background(), map[string]any{"url": ts.URL})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if !strings.HasPrefix(result, "Title: Tool Test\n") || !strings.Contains(result, "Content here") {
		t.Errorf("unexpected result %q", result)
	}
}

func TestToolHandlerRejectsSchemeWithoutNetwork(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer ts.Close()

	host := strings.TrimPrefix(ts.URL, "http://")
	for _, u := range []string{"", host, "ftp://" + host} {
		out, err := ToolHandler(New())(context.Background(), map[string]any{"url": u})
		if err != nil {
			t.Fatalf("handler(%q) error: %v", u, err)
		}
		if !strings.HasPrefix(out, "Cannot fetch") {
			t.Errorf("handler(%q) = %q", u, out)
		}
	}
	if hits.Load() != 0 {
		t.Errorf("server hit %d times, want 0", hits.Load())
	}
}
