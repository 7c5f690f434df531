// Package adapters holds the clients for the external services the
// fleet touches: Slack for notifications, GitLab, Figma, Datadog and
// Sentry for connection checks and agent lookups. All adapters take a
// context on every call and surface HTTP failures as errors.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Pinger verifies a stored credential against the live service. Every
// adapter implements it; the connection-test endpoint depends on
// nothing else.
type Pinger interface {
	TestConnection(ctx context.Context) error
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

// doJSON issues one JSON request and decodes the response into out
// (skipped when out is nil). Non-2xx responses become errors carrying
// the status and a truncated body.
func doJSON(ctx context.Context, method, url string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", url, err)
	}
	return nil
}
