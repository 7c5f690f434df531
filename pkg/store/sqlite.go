package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/shipit-ai/fleet/pkg/agent"
)

const schema = `
CREATE TABLE IF NOT EXISTS agent_configs (
	project_id             INTEGER NOT NULL,
	agent_name             TEXT    NOT NULL,
	enabled                INTEGER NOT NULL DEFAULT 1,
	config                 TEXT    NOT NULL DEFAULT '{}',
	last_run_at            DATETIME,
	total_events_processed INTEGER NOT NULL DEFAULT 0,
	created_at             DATETIME NOT NULL,
	updated_at             DATETIME NOT NULL,
	PRIMARY KEY (project_id, agent_name)
);

CREATE TABLE IF NOT EXISTS service_connections (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id   INTEGER NOT NULL,
	service_type TEXT    NOT NULL,
	base_url     TEXT    NOT NULL DEFAULT '',
	api_token    TEXT    NOT NULL DEFAULT '',
	config       TEXT    NOT NULL DEFAULT '{}',
	enabled      INTEGER NOT NULL DEFAULT 1,
	last_sync_at DATETIME,
	created_at   DATETIME NOT NULL,
	UNIQUE (project_id, service_type)
);

CREATE INDEX IF NOT EXISTS idx_service_connections_project
	ON service_connections (project_id);
`

// DB is the SQLite-backed store. It implements agent.ConfigStore and
// ConnectionStore.
type DB struct {
	db *sql.DB
}

var (
	_ agent.ConfigStore = (*DB)(nil)
	_ ConnectionStore   = (*DB)(nil)
)

// Open opens (creating if needed) the fleet database at path. WAL mode
// keeps config writes from stalling the read path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error { return d.db.Close() }

// LoadConfigs returns every persisted agent config row.
func (d *DB) LoadConfigs() ([]agent.ProjectConfig, error) {
	rows, err := d.db.Query(`
		SELECT project_id, agent_name, enabled, config,
		       last_run_at, total_events_processed, created_at, updated_at
		FROM agent_configs`)
	if err != nil {
		return nil, fmt.Errorf("query agent_configs: %w", err)
	}
	defer rows.Close()

	var out []agent.ProjectConfig
	for rows.Next() {
		var (
			pc      agent.ProjectConfig
			cfgJSON string
			lastRun sql.NullTime
		)
		if err := rows.Scan(&pc.ProjectID, &pc.AgentName, &pc.Enabled, &cfgJSON,
			&lastRun, &pc.TotalEventsProcessed, &pc.CreatedAt, &pc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan agent_configs: %w", err)
		}
		if err := json.Unmarshal([]byte(cfgJSON), &pc.Config); err != nil {
			return nil, fmt.Errorf("decode config for %s/%d: %w", pc.AgentName, pc.ProjectID, err)
		}
		if lastRun.Valid {
			t := lastRun.Time.UTC()
			pc.LastRunAt = &t
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

// SaveConfig upserts one agent config row.
func (d *DB) SaveConfig(pc agent.ProjectConfig) error {
	cfg := pc.Config
	if cfg == nil {
		cfg = agent.Config{}
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	var lastRun sql.NullTime
	if pc.LastRunAt != nil {
		lastRun = sql.NullTime{Time: *pc.LastRunAt, Valid: true}
	}
	_, err = d.db.Exec(`
		INSERT INTO agent_configs
			(project_id, agent_name, enabled, config, last_run_at,
			 total_events_processed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, agent_name) DO UPDATE SET
			enabled                = excluded.enabled,
			config                 = excluded.config,
			last_run_at            = excluded.last_run_at,
			total_events_processed = excluded.total_events_processed,
			updated_at             = excluded.updated_at`,
		pc.ProjectID, pc.AgentName, pc.Enabled, string(cfgJSON), lastRun,
		pc.TotalEventsProcessed, pc.CreatedAt, pc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save agent config %s/%d: %w", pc.AgentName, pc.ProjectID, err)
	}
	return nil
}

// UpsertConnection stores (or replaces) a project's credentials for a
// service and re-enables the connection.
func (d *DB) UpsertConnection(c *ServiceConnection) error {
	c.Normalize()
	cfg := c.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode connection config: %w", err)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.Enabled = true

	res, err := d.db.Exec(`
		INSERT INTO service_connections
			(project_id, service_type, base_url, api_token, config, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT (project_id, service_type) DO UPDATE SET
			base_url  = excluded.base_url,
			api_token = excluded.api_token,
			config    = excluded.config,
			enabled   = 1`,
		c.ProjectID, c.ServiceType, c.BaseURL, c.APIToken, string(cfgJSON), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert connection %s/%d: %w", c.ServiceType, c.ProjectID, err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		c.ID = id
	}
	return nil
}

func scanConnection(scan func(dest ...any) error) (ServiceConnection, error) {
	var (
		c        ServiceConnection
		cfgJSON  string
		lastSync sql.NullTime
	)
	err := scan(&c.ID, &c.ProjectID, &c.ServiceType, &c.BaseURL, &c.APIToken,
		&cfgJSON, &c.Enabled, &lastSync, &c.CreatedAt)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(cfgJSON), &c.Config); err != nil {
		return c, fmt.Errorf("decode connection config: %w", err)
	}
	if lastSync.Valid {
		t := lastSync.Time.UTC()
		c.LastSyncAt = &t
	}
	return c, nil
}

const connectionColumns = `id, project_id, service_type, base_url, api_token,
	config, enabled, last_sync_at, created_at`

// ListConnections returns every connection for a project.
func (d *DB) ListConnections(projectID int64) ([]ServiceConnection, error) {
	rows, err := d.db.Query(`
		SELECT `+connectionColumns+`
		FROM service_connections
		WHERE project_id = ?
		ORDER BY service_type`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var out []ServiceConnection
	for rows.Next() {
		c, err := scanConnection(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConnection returns one connection, ErrConnectionNotFound when
// absent.
func (d *DB) GetConnection(projectID int64, serviceType string) (ServiceConnection, error) {
	row := d.db.QueryRow(`
		SELECT `+connectionColumns+`
		FROM service_connections
		WHERE project_id = ? AND service_type = ?`, projectID, serviceType)
	c, err := scanConnection(row.Scan)
	if err == sql.ErrNoRows {
		return ServiceConnection{}, fmt.Errorf("%w: %s", ErrConnectionNotFound, serviceType)
	}
	if err != nil {
		return ServiceConnection{}, fmt.Errorf("get connection %s/%d: %w", serviceType, projectID, err)
	}
	return c, nil
}

// DeleteConnection removes a project's connection for a service.
// Deleting an absent connection is a no-op.
func (d *DB) DeleteConnection(projectID int64, serviceType string) error {
	_, err := d.db.Exec(`
		DELETE FROM service_connections
		WHERE project_id = ? AND service_type = ?`, projectID, serviceType)
	if err != nil {
		return fmt.Errorf("delete connection %s/%d: %w", serviceType, projectID, err)
	}
	return nil
}
