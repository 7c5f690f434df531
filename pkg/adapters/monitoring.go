package adapters

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Datadog is a client for the Datadog v1 API.
type Datadog struct {
	baseURL string
	headers map[string]string
}

var _ Pinger = (*Datadog)(nil)

// NewDatadog builds a client. site may be empty for datadoghq.com.
func NewDatadog(apiKey, appKey, site string) *Datadog {
	if site == "" {
		site = "datadoghq.com"
	}
	return &Datadog{
		baseURL: "https://api." + site + "/api/v1",
		headers: map[string]string{
			"DD-API-KEY":         apiKey,
			"DD-APPLICATION-KEY": appKey,
		},
	}
}

// TestConnection validates the API key.
func (d *Datadog) TestConnection(ctx context.Context) error {
	var out map[string]any
	if err := doJSON(ctx, "GET", d.baseURL+"/validate", d.headers, nil, &out); err != nil {
		return fmt.Errorf("datadog connection test: %w", err)
	}
	return nil
}

// QueryMetrics runs a timeseries query over [fromTS, toTS] (unix
// seconds).
func (d *Datadog) QueryMetrics(ctx context.Context, query string, fromTS, toTS int64) (map[string]any, error) {
	var out map[string]any
	u := fmt.Sprintf("%s/query?query=%s&from=%d&to=%d",
		d.baseURL, url.QueryEscape(query), fromTS, toTS)
	err := doJSON(ctx, "GET", u, d.headers, nil, &out)
	return out, err
}

// CreateEvent posts a deployment marker or similar event.
func (d *Datadog) CreateEvent(ctx context.Context, title, text string, tags []string) error {
	body := map[string]any{"title": title, "text": text}
	if len(tags) > 0 {
		body["tags"] = tags
	}
	return doJSON(ctx, "POST", d.baseURL+"/events", d.headers, body, nil)
}

// ListMonitors returns monitors, optionally filtered by tags.
func (d *Datadog) ListMonitors(ctx context.Context, tags string) ([]map[string]any, error) {
	u := d.baseURL + "/monitor"
	if tags != "" {
		u += "?monitor_tags=" + url.QueryEscape(tags)
	}
	var out []map[string]any
	err := doJSON(ctx, "GET", u, d.headers, nil, &out)
	return out, err
}

// Sentry is a client for the Sentry API.
type Sentry struct {
	baseURL string
	headers map[string]string
}

var _ Pinger = (*Sentry)(nil)

// NewSentry builds a client. baseURL may be empty for sentry.io.
func NewSentry(token, baseURL string) *Sentry {
	if baseURL == "" {
		baseURL = "https://sentry.io"
	}
	return &Sentry{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/0",
		headers: map[string]string{"Authorization": "Bearer " + token},
	}
}

// TestConnection lists the token's organizations.
func (s *Sentry) TestConnection(ctx context.Context) error {
	var orgs []map[string]any
	if err := doJSON(ctx, "GET", s.baseURL+"/organizations/", s.headers, nil, &orgs); err != nil {
		return fmt.Errorf("sentry connection test: %w", err)
	}
	return nil
}

// ListIssues returns issues for a project matching query, such as
// "is:unresolved age:-1h".
func (s *Sentry) ListIssues(ctx context.Context, orgSlug, projectSlug, query string, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 25
	}
	if query == "" {
		query = "is:unresolved"
	}
	var out []map[string]any
	u := fmt.Sprintf("%s/projects/%s/%s/issues/?query=%s&limit=%d",
		s.baseURL, orgSlug, projectSlug, url.QueryEscape(query), limit)
	err := doJSON(ctx, "GET", u, s.headers, nil, &out)
	return out, err
}
