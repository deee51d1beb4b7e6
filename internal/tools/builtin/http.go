package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/haasonsaas/loom/internal/tools"
)

// maxFetchBytes bounds http_fetch responses.
const maxFetchBytes = 512 * 1024

// HTTPFetchTool performs a GET request and returns the body as text.
// Private and loopback targets are flagged by the approval engine before
// this ever runs.
type HTTPFetchTool struct {
	// Client overrides the default HTTP client, mainly for tests.
	Client *http.Client
}

func (t *HTTPFetchTool) Name() string { return "http_fetch" }
func (t *HTTPFetchTool) Description() string {
	return "Fetch a URL with an HTTP GET request and return the response body."
}

func (t *HTTPFetchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "The URL to fetch."}
		},
		"required": ["url"]
	}`)
}

func (t *HTTPFetchTool) Execute(ctx context.Context, args json.RawMessage, sess *tools.Session) (*tools.Result, error) {
	var a struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("bad arguments: %w", err)
	}

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("bad url %q: %w", a.URL, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", a.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", a.URL, err)
	}
	truncated := ""
	if len(body) > maxFetchBytes {
		body = body[:maxFetchBytes]
		truncated = "\n... [response truncated]"
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: HTTP %d\n%s", a.URL, resp.StatusCode, string(body))
	}
	return &tools.Result{Content: fmt.Sprintf("HTTP %d\n%s%s", resp.StatusCode, string(body), truncated)}, nil
}
