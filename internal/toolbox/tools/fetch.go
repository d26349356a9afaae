package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxFetchBytes = 50000

// Fetch retrieves a URL over HTTP with a bounded timeout and returns the
// raw response body text, letting an engine callback pull external
// reference data mid-evaluation. It does not attempt any markdown or LLM
// formatting: the reasoning engines consume plain text.
type Fetch struct {
	client   *http.Client
	apiToken string
}

// NewFetch creates the fetch tool. apiToken, if non-empty, is sent as a
// bearer credential on every request — the tools.api_token config value's
// only consumer.
func NewFetch(apiToken string) *Fetch {
	return &Fetch{client: &http.Client{Timeout: 30 * time.Second}, apiToken: apiToken}
}

func (f *Fetch) Name() string { return "fetch" }
func (f *Fetch) Description() string {
	return "Fetch a URL over HTTP and return its response body as text"
}

func (f *Fetch) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("parse args: %w", err)
	}
	if params.URL == "" {
		return nil, fmt.Errorf("url is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, params.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "rulehostd/1.0")
	if f.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiToken)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http error: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	text := string(body)
	truncated := false
	if len(text) > maxFetchBytes {
		text = text[:maxFetchBytes]
		truncated = true
	}

	return json.Marshal(struct {
		Text      string `json:"text"`
		Truncated bool   `json:"truncated"`
	}{Text: text, Truncated: truncated})
}
