// Package completion provides implementations of the services.Completion
// collaborator: an HTTP client for a real upstream generation service and a
// deterministic local stand-in for development and tests.
//
// The generation internals (prompting, model choice) live entirely upstream;
// this package only moves JSON across the wire and applies a timeout.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/giftghost/go-insight-backend/internal/services"
)

// Client calls an upstream completion service over HTTP. It posts
// {mode, content, locale} and expects the insight JSON back.
type Client struct {
	URL    string
	APIKey string // optional bearer token
	HTTP   *http.Client
}

// NewClient constructs a Client with the given endpoint and timeout.
func NewClient(url, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		URL:    url,
		APIKey: apiKey,
		HTTP:   &http.Client{Timeout: timeout},
	}
}

type completionRequest struct {
	Mode    string `json:"mode"`
	Content string `json:"content"`
	Locale  string `json:"locale"`
}

// Generate implements services.Completion.
func (c *Client) Generate(ctx context.Context, mode, content, locale string) (*services.Insight, error) {
	body, err := json.Marshal(completionRequest{Mode: mode, Content: content, Locale: locale})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little of the body for the error message; the full text is
		// never surfaced to end users.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("completion upstream returned %d: %s", resp.StatusCode, snippet)
	}

	var ins services.Insight
	if err := json.NewDecoder(resp.Body).Decode(&ins); err != nil {
		return nil, fmt.Errorf("completion upstream returned malformed insight: %w", err)
	}
	if ins.GiftItem == "" {
		return nil, fmt.Errorf("completion upstream returned empty gift_item")
	}
	return &ins, nil
}

// Static is a deterministic completion used when no upstream is configured
// (local development). It echoes a fixed insight so the full request path can
// be exercised without network access.
type Static struct{}

// Generate implements services.Completion.
func (Static) Generate(_ context.Context, _, _, _ string) (*services.Insight, error) {
	return &services.Insight{
		Persona:        "The Thoughtful Enthusiast",
		PainPoint:      "never treats themselves to the thing they actually want",
		Obsession:      "their current hobby rabbit hole",
		GiftItem:       "a well-reviewed starter kit for their obsession",
		GiftReason:     "it says you noticed what they care about",
		GiftPriceRange: "$25-$50",
		GiftBuyLink:    "https://example.com/gift",
	}, nil
}
