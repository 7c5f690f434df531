// Package store persists the fleet's durable state: per-project agent
// configs and service connections. Events themselves are not durable;
// only configuration and credentials survive a restart.
package store

import (
	"errors"
	"strings"
	"time"
)

// ErrConnectionNotFound is returned for lookups of a service the
// project never connected.
var ErrConnectionNotFound = errors.New("service connection not found")

// Service types accepted for connections.
const (
	ServiceGitLab  = "gitlab"
	ServiceFigma   = "figma"
	ServiceSlack   = "slack"
	ServiceDatadog = "datadog"
	ServiceSentry  = "sentry"
)

// KnownService reports whether t is a supported service type.
func KnownService(t string) bool {
	switch t {
	case ServiceGitLab, ServiceFigma, ServiceSlack, ServiceDatadog, ServiceSentry:
		return true
	}
	return false
}

// ServiceConnection holds one project's credentials for an external
// service. (project_id, service_type) is unique; upserting replaces
// the stored token and re-enables the connection.
type ServiceConnection struct {
	ID          int64          `json:"id"`
	ProjectID   int64          `json:"project_id"`
	ServiceType string         `json:"service_type"`
	BaseURL     string         `json:"base_url,omitempty"`
	APIToken    string         `json:"api_token"`
	Config      map[string]any `json:"config,omitempty"`
	Enabled     bool           `json:"enabled"`
	LastSyncAt  *time.Time     `json:"last_sync_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Normalize trims whitespace from the token and every string config
// value. Pasted credentials routinely carry trailing newlines.
func (c *ServiceConnection) Normalize() {
	c.APIToken = strings.TrimSpace(c.APIToken)
	for k, v := range c.Config {
		if s, ok := v.(string); ok {
			c.Config[k] = strings.TrimSpace(s)
		}
	}
}

// MaskToken obscures a credential for display, keeping just enough to
// recognize it: first and last four characters for long tokens, the
// last two for short ones.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		tail := token
		if len(tail) > 2 {
			tail = tail[len(tail)-2:]
		}
		return "****" + tail
	}
	return token[:4] + "****" + token[len(token)-4:]
}

// sensitive config keys masked in list views.
var sensitiveConfigKeys = map[string]bool{
	"app_key": true,
	"api_key": true,
	"secret":  true,
}

// MaskedConnection is the list-view shape: credentials obscured, token
// never included.
type MaskedConnection struct {
	ID           int64          `json:"id"`
	ServiceType  string         `json:"service_type"`
	BaseURL      string         `json:"base_url,omitempty"`
	Enabled      bool           `json:"enabled"`
	MaskedConfig map[string]any `json:"masked_config,omitempty"`
	LastSyncAt   *time.Time     `json:"last_sync_at,omitempty"`
	HasToken     bool           `json:"has_token"`
	MaskedToken  string         `json:"masked_token"`
}

// Masked builds the display view of a connection.
func (c ServiceConnection) Masked() MaskedConnection {
	var cfg map[string]any
	if c.Config != nil {
		cfg = make(map[string]any, len(c.Config))
		for k, v := range c.Config {
			if s, ok := v.(string); ok && sensitiveConfigKeys[k] {
				cfg[k] = MaskToken(s)
				continue
			}
			cfg[k] = v
		}
	}
	return MaskedConnection{
		ID:           c.ID,
		ServiceType:  c.ServiceType,
		BaseURL:      c.BaseURL,
		Enabled:      c.Enabled,
		MaskedConfig: cfg,
		LastSyncAt:   c.LastSyncAt,
		HasToken:     c.APIToken != "",
		MaskedToken:  MaskToken(c.APIToken),
	}
}

// ConnectionStore persists service connections.
type ConnectionStore interface {
	UpsertConnection(*ServiceConnection) error
	ListConnections(projectID int64) ([]ServiceConnection, error)
	GetConnection(projectID int64, serviceType string) (ServiceConnection, error)
	DeleteConnection(projectID int64, serviceType string) error
}
