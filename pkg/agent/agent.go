// Package agent defines the handler contract every fleet agent
// implements, the per-project configuration model, and the registry
// that answers "who subscribes to X" and "is agent Y enabled for
// project Z".
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shipit-ai/fleet/pkg/events"
)

var (
	// ErrAgentNotFound is returned for operations naming an agent that
	// is not part of the fleet roster.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrDuplicateAgent is returned when two handlers register under
	// the same name.
	ErrDuplicateAgent = errors.New("agent already registered")
)

// ValidationError reports a rejected configuration value. Field names
// the offending key.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config field %q: %s", e.Field, e.Reason)
}

// Config is an agent's free-form option map, validated against the
// agent's declared spec before being persisted.
type Config map[string]any

// Clone returns a shallow copy; nil yields an empty map.
func (c Config) Clone() Config {
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// FieldType constrains a config value's JSON type.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldBool   FieldType = "bool"
	FieldNumber FieldType = "number"
)

// FieldSpec documents and constrains one config key.
type FieldSpec struct {
	Type        FieldType `json:"type"`
	Description string    `json:"description"`
	Default     any       `json:"default,omitempty"`
}

// ConfigSpec declares the config keys an agent accepts. Unknown keys
// are rejected on update to catch typos.
type ConfigSpec map[string]FieldSpec

// Validate checks cfg against the spec. It returns a *ValidationError
// naming the first offending field.
func (s ConfigSpec) Validate(cfg Config) error {
	for key, value := range cfg {
		spec, ok := s[key]
		if !ok {
			return &ValidationError{Field: key, Reason: "unknown key"}
		}
		if value == nil {
			continue
		}
		switch spec.Type {
		case FieldString:
			if _, ok := value.(string); !ok {
				return &ValidationError{Field: key, Reason: "expected string"}
			}
		case FieldBool:
			if _, ok := value.(bool); !ok {
				return &ValidationError{Field: key, Reason: "expected bool"}
			}
		case FieldNumber:
			switch value.(type) {
			case float64, float32, int, int32, int64:
			default:
				return &ValidationError{Field: key, Reason: "expected number"}
			}
		}
	}
	return nil
}

// Defaults builds a Config from the spec's declared defaults.
func (s ConfigSpec) Defaults() Config {
	cfg := Config{}
	for key, spec := range s {
		if spec.Default != nil {
			cfg[key] = spec.Default
		}
	}
	return cfg
}

// Handler is a named unit of work in the fleet. Implementations must
// be safe for concurrent Handle calls; the bus invokes one handler for
// many events in parallel.
//
// Handle receives the triggering event and the effective per-project
// config, and returns any follow-up events to publish. The bus
// propagates correlation ids and fills envelope fields on the returned
// events, so handlers may use events.Followup or plain literals.
// Handlers must honor ctx cancellation promptly: the bus stops waiting
// at the deadline but cannot forcibly stop external calls.
type Handler interface {
	Name() string
	Description() string

	// SubscribedEvents lists the exact types or "." -terminated
	// prefixes the agent wants delivered. The set is static; only
	// enablement and config change at runtime.
	SubscribedEvents() []events.Type

	// ConfigSpec declares the accepted config keys.
	ConfigSpec() ConfigSpec

	Handle(ctx context.Context, ev events.Event, cfg Config) ([]events.Event, error)
}

// ProjectConfig is the mutable per-(project, agent) state: the enable
// gate, the validated option map, and dispatch bookkeeping surfaced to
// the UI. Rows are created lazily with defaults and never hard-deleted;
// disabling is the delete-equivalent.
type ProjectConfig struct {
	ProjectID            int64      `json:"project_id"`
	AgentName            string     `json:"agent_name"`
	Enabled              bool       `json:"enabled"`
	Config               Config     `json:"config"`
	LastRunAt            *time.Time `json:"last_run_at,omitempty"`
	TotalEventsProcessed int64      `json:"total_events_processed"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// ConfigStore persists project configs. The registry keeps the
// authoritative in-memory state and writes through, so store
// implementations only need durable load/save.
type ConfigStore interface {
	LoadConfigs() ([]ProjectConfig, error)
	SaveConfig(ProjectConfig) error
}
