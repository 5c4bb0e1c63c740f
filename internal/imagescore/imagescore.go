// Package imagescore forwards an attached image to an external scoring
// service and reports the result to the model.
package imagescore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackmielke/agentdash/internal/httpkit"
	"github.com/jackmielke/agentdash/internal/template"
	"github.com/jackmielke/agentdash/internal/tools"
)

// DefaultTimeout bounds one scoring call.
const DefaultTimeout = 30 * time.Second

// NoImageMessage is returned when the current message carries no image.
const NoImageMessage = "No image is attached to this message. Ask the user to send a photo with their request, then try again."

// Client calls the scoring service.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a scoring client for the service at url.
func NewClient(url, apiKey string) *Client {
	return &Client{
		url:        url,
		apiKey:     apiKey,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(DefaultTimeout)),
	}
}

type scoreRequest struct {
	ImageURL string `json:"image_url"`
	Criteria string `json:"criteria,omitempty"`
}

// Score is the scoring service's verdict.
type Score struct {
	Score    *float64       `json:"score"`
	MaxScore float64        `json:"max_score,omitempty"`
	Summary  string         `json:"summary,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// Score submits imageURL for scoring.
func (c *Client) Score(ctx context.Context, imageURL, criteria string) (*Score, error) {
	body, err := json.Marshal(scoreRequest{ImageURL: imageURL, Criteria: criteria})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var s Score
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

// Format renders a score for the model.
func (s *Score) Format() string {
	var b strings.Builder
	if s.Score != nil {
		b.WriteString("Image score: ")
		b.WriteString(strconv.FormatFloat(*s.Score, 'f', -1, 64))
		if s.MaxScore > 0 {
			b.WriteString("/")
			b.WriteString(strconv.FormatFloat(s.MaxScore, 'f', -1, 64))
		}
	} else {
		b.WriteString("The scoring service returned no score.")
	}
	if s.Summary != "" {
		b.WriteString("\n")
		b.WriteString(s.Summary)
	}
	if len(s.Details) > 0 {
		b.WriteString("\nDetails:\n")
		b.WriteString(template.RenderResponse(s.Details, nil))
	}
	return b.String()
}

// ToolHandler returns the score_image handler. The image comes from the
// current invocation, never from model-supplied arguments. A nil client
// means the service is not configured.
func ToolHandler(c *Client) func(ctx context.Context, args map[string]any) (string, error) {
	return func(ctx context.Context, args map[string]any) (string, error) {
		imageURL := tools.InvocationFromContext(ctx).ImageURL
		if imageURL == "" {
			return NoImageMessage, nil
		}
		if c == nil {
			return "", fmt.Errorf("image scoring service is not configured")
		}

		criteria, _ := args["criteria"].(string)
		s, err := c.Score(ctx, imageURL, strings.TrimSpace(criteria))
		if err != nil {
			return "", err
		}
		return s.Format(), nil
	}
}

// ToolDefinition returns the JSON Schema parameters for score_image.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"criteria": map[string]any{
				"type":        "string",
				"description": "Optional focus for the scoring, e.g. 'composition' or 'lighting'.",
			},
		},
	}
}
