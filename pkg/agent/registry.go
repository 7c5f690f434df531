package agent

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shipit-ai/fleet/pkg/metrics"
)

type configKey struct {
	projectID int64
	agent     string
}

// ProjectAgent is the merged per-project view of one agent: static
// definition, mutable config, and process-lifetime metrics.
type ProjectAgent struct {
	Name            string               `json:"name"`
	Description     string               `json:"description"`
	SubscribedTypes []string             `json:"subscribed_events"`
	Spec            ConfigSpec           `json:"config_spec"`
	Enabled         bool                 `json:"enabled"`
	Config          Config               `json:"config"`
	LastRunAt       *time.Time           `json:"last_run_at,omitempty"`
	TotalProcessed  int64                `json:"total_events_processed"`
	Metrics         metrics.AgentMetrics `json:"metrics"`
}

// Registry holds the static fleet roster and the authoritative
// in-memory per-project configuration, write-through persisted via an
// optional ConfigStore. All methods are safe for concurrent use; the
// dispatch path (IsEnabled, ConfigFor, RecordRun) never touches the
// store except for the RecordRun write-through.
type Registry struct {
	log     *slog.Logger
	metrics *metrics.Store
	store   ConfigStore

	mu       sync.RWMutex
	handlers map[string]Handler
	order    []string
	configs  map[configKey]*ProjectConfig
}

// NewRegistry creates an empty registry. store may be nil for purely
// in-memory operation (tests).
func NewRegistry(log *slog.Logger, ms *metrics.Store, store ConfigStore) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:      log.With("component", "registry"),
		metrics:  ms,
		store:    store,
		handlers: make(map[string]Handler),
		configs:  make(map[configKey]*ProjectConfig),
	}
}

// Load pulls persisted project configs into memory. Call once at
// startup, after Register calls.
func (r *Registry) Load() error {
	if r.store == nil {
		return nil
	}
	rows, err := r.store.LoadConfigs()
	if err != nil {
		return fmt.Errorf("load agent configs: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range rows {
		row := rows[i]
		if _, ok := r.handlers[row.AgentName]; !ok {
			r.log.Warn("persisted config for unknown agent, skipping", "agent", row.AgentName)
			continue
		}
		r.configs[configKey{row.ProjectID, row.AgentName}] = &row
	}
	r.log.Info("agent configs loaded", "count", len(rows))
	return nil
}

// Register adds a handler to the roster. Registration order is
// preserved by All.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := h.Name()
	if _, ok := r.handlers[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, name)
	}
	r.handlers[name] = h
	r.order = append(r.order, name)
	return nil
}

// Get returns the handler by name.
func (r *Registry) Get(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return h, nil
}

// All returns the roster in registration order.
func (r *Registry) All() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handler, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.handlers[name])
	}
	return out
}

// defaultConfig builds the lazy-created row: enabled, spec defaults.
func defaultConfig(projectID int64, h Handler) *ProjectConfig {
	now := time.Now().UTC()
	return &ProjectConfig{
		ProjectID: projectID,
		AgentName: h.Name(),
		Enabled:   true,
		Config:    h.ConfigSpec().Defaults(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ensureLocked returns the config row for (projectID, agent), creating
// the default lazily. Caller holds r.mu for writing.
func (r *Registry) ensureLocked(projectID int64, name string) (*ProjectConfig, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	key := configKey{projectID, name}
	pc, ok := r.configs[key]
	if ok {
		return pc, nil
	}
	pc = defaultConfig(projectID, h)
	r.configs[key] = pc
	if r.store != nil {
		if err := r.store.SaveConfig(*pc); err != nil {
			r.log.Error("persist default config", "agent", name, "project_id", projectID, "error", err)
		}
	}
	return pc, nil
}

// EnsureConfig returns a copy of the config row for (projectID, agent),
// creating the enabled default on first access.
func (r *Registry) EnsureConfig(projectID int64, name string) (ProjectConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pc, err := r.ensureLocked(projectID, name)
	if err != nil {
		return ProjectConfig{}, err
	}
	out := *pc
	out.Config = pc.Config.Clone()
	return out, nil
}

// IsEnabled reports whether the agent runs for the project. Agents with
// no stored row default to enabled.
func (r *Registry) IsEnabled(projectID int64, name string) bool {
	r.mu.RLock()
	pc, ok := r.configs[configKey{projectID, name}]
	r.mu.RUnlock()
	if !ok {
		return true
	}
	return pc.Enabled
}

// ConfigFor returns the effective option map passed to Handle. Missing
// rows yield the spec defaults without creating a row.
func (r *Registry) ConfigFor(projectID int64, name string) Config {
	r.mu.RLock()
	pc, ok := r.configs[configKey{projectID, name}]
	if ok {
		cfg := pc.Config.Clone()
		r.mu.RUnlock()
		return cfg
	}
	h, hok := r.handlers[name]
	r.mu.RUnlock()
	if !hok {
		return Config{}
	}
	return h.ConfigSpec().Defaults()
}

// UpdateConfig applies an enablement change and/or a new option map.
// Nil arguments leave the corresponding field untouched. The option
// map is validated against the agent's spec; unknown keys are
// rejected.
func (r *Registry) UpdateConfig(projectID int64, name string, enabled *bool, cfg Config) (ProjectConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pc, err := r.ensureLocked(projectID, name)
	if err != nil {
		return ProjectConfig{}, err
	}
	if cfg != nil {
		if err := r.handlers[name].ConfigSpec().Validate(cfg); err != nil {
			return ProjectConfig{}, err
		}
		pc.Config = cfg.Clone()
	}
	if enabled != nil {
		pc.Enabled = *enabled
	}
	pc.UpdatedAt = time.Now().UTC()

	if r.store != nil {
		if err := r.store.SaveConfig(*pc); err != nil {
			return ProjectConfig{}, fmt.Errorf("persist config: %w", err)
		}
	}
	r.log.Info("agent config updated",
		"agent", name, "project_id", projectID, "enabled", pc.Enabled)

	out := *pc
	out.Config = pc.Config.Clone()
	return out, nil
}

// RecordRun bumps the project row's dispatch bookkeeping after a
// successful handler invocation.
func (r *Registry) RecordRun(projectID int64, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pc, err := r.ensureLocked(projectID, name)
	if err != nil {
		return
	}
	now := time.Now().UTC()
	pc.LastRunAt = &now
	pc.TotalEventsProcessed++
	pc.UpdatedAt = now
	if r.store != nil {
		if err := r.store.SaveConfig(*pc); err != nil {
			r.log.Error("persist run bookkeeping", "agent", name, "project_id", projectID, "error", err)
		}
	}
}

// ListForProject merges definitions, per-project configs, and metrics
// for every roster agent, in registration order. Rows are created
// lazily so a fresh project sees the full fleet enabled with defaults.
func (r *Registry) ListForProject(projectID int64) ([]ProjectAgent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ProjectAgent, 0, len(r.order))
	for _, name := range r.order {
		h := r.handlers[name]
		pc, err := r.ensureLocked(projectID, name)
		if err != nil {
			return nil, err
		}
		subs := h.SubscribedEvents()
		types := make([]string, len(subs))
		for i, s := range subs {
			types[i] = s.String()
		}
		pa := ProjectAgent{
			Name:            name,
			Description:     h.Description(),
			SubscribedTypes: types,
			Spec:            h.ConfigSpec(),
			Enabled:         pc.Enabled,
			Config:          pc.Config.Clone(),
			LastRunAt:       pc.LastRunAt,
			TotalProcessed:  pc.TotalEventsProcessed,
		}
		if r.metrics != nil {
			pa.Metrics = r.metrics.Snapshot(name)
		}
		out = append(out, pa)
	}
	return out, nil
}

// AgentStatus is one roster entry in the fleet-wide status view.
type AgentStatus struct {
	Name            string               `json:"name"`
	Description     string               `json:"description"`
	SubscribedTypes []string             `json:"subscribed_events"`
	Metrics         metrics.AgentMetrics `json:"metrics"`
}

// FleetStatus returns the global roster view with process-lifetime
// metrics, in registration order.
func (r *Registry) FleetStatus() []AgentStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AgentStatus, 0, len(r.order))
	for _, name := range r.order {
		h := r.handlers[name]
		subs := h.SubscribedEvents()
		types := make([]string, len(subs))
		for i, s := range subs {
			types[i] = s.String()
		}
		st := AgentStatus{
			Name:            name,
			Description:     h.Description(),
			SubscribedTypes: types,
		}
		if r.metrics != nil {
			st.Metrics = r.metrics.Snapshot(name)
		}
		out = append(out, st)
	}
	return out
}
