package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/shipit-ai/fleet/pkg/agent"
)

type connKey struct {
	projectID   int64
	serviceType string
}

// Memory is an in-memory store used by tests and by ephemeral runs
// with no database path configured.
type Memory struct {
	mu      sync.RWMutex
	configs map[string]agent.ProjectConfig
	conns   map[connKey]ServiceConnection
	nextID  int64
}

var (
	_ agent.ConfigStore = (*Memory)(nil)
	_ ConnectionStore   = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		configs: make(map[string]agent.ProjectConfig),
		conns:   make(map[connKey]ServiceConnection),
	}
}

func configID(projectID int64, name string) string {
	return fmt.Sprintf("%d/%s", projectID, name)
}

func (m *Memory) LoadConfigs() ([]agent.ProjectConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]agent.ProjectConfig, 0, len(m.configs))
	for _, pc := range m.configs {
		out = append(out, pc)
	}
	return out, nil
}

func (m *Memory) SaveConfig(pc agent.ProjectConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc.Config = pc.Config.Clone()
	m.configs[configID(pc.ProjectID, pc.AgentName)] = pc
	return nil
}

func (m *Memory) UpsertConnection(c *ServiceConnection) error {
	c.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()

	key := connKey{c.ProjectID, c.ServiceType}
	if existing, ok := m.conns[key]; ok {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
	} else {
		m.nextID++
		c.ID = m.nextID
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
	}
	c.Enabled = true
	m.conns[key] = *c
	return nil
}

func (m *Memory) ListConnections(projectID int64) ([]ServiceConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ServiceConnection
	for key, c := range m.conns {
		if key.projectID == projectID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) GetConnection(projectID int64, serviceType string) (ServiceConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[connKey{projectID, serviceType}]
	if !ok {
		return ServiceConnection{}, fmt.Errorf("%w: %s", ErrConnectionNotFound, serviceType)
	}
	return c, nil
}

func (m *Memory) DeleteConnection(projectID int64, serviceType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, connKey{projectID, serviceType})
	return nil
}
