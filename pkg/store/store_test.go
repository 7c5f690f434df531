package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipit-ai/fleet/pkg/agent"
)

func TestMaskToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"empty", "", ""},
		{"short", "abc", "****bc"},
		{"two chars", "ab", "****ab"},
		{"exactly eight", "abcdefgh", "****gh"},
		{"long", "glpat-1234567890abcd", "glpa****abcd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskToken(tt.token))
		})
	}
}

func TestMaskedConnectionView(t *testing.T) {
	c := ServiceConnection{
		ID:          3,
		ProjectID:   1,
		ServiceType: ServiceDatadog,
		APIToken:    "dd-api-key-123456",
		Config: map[string]any{
			"app_key": "dd-app-key-7890",
			"site":    "datadoghq.eu",
		},
		Enabled: true,
	}
	m := c.Masked()
	assert.True(t, m.HasToken)
	assert.Equal(t, "dd-a****3456", m.MaskedToken)
	assert.Equal(t, "dd-a****7890", m.MaskedConfig["app_key"])
	assert.Equal(t, "datadoghq.eu", m.MaskedConfig["site"], "non-sensitive keys pass through")
}

func TestNormalizeTrims(t *testing.T) {
	c := ServiceConnection{
		APIToken: "  xoxb-token\n",
		Config:   map[string]any{"app_key": " k ", "retries": 3},
	}
	c.Normalize()
	assert.Equal(t, "xoxb-token", c.APIToken)
	assert.Equal(t, "k", c.Config["app_key"])
	assert.Equal(t, 3, c.Config["retries"])
}

func TestKnownService(t *testing.T) {
	assert.True(t, KnownService(ServiceSlack))
	assert.False(t, KnownService("jenkins"))
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "fleet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteAgentConfigRoundTrip(t *testing.T) {
	db := openTestDB(t)

	now := time.Now().UTC().Truncate(time.Second)
	lastRun := now.Add(-time.Minute)
	pc := agent.ProjectConfig{
		ProjectID:            42,
		AgentName:            "security_compliance",
		Enabled:              true,
		Config:               agent.Config{"block_merge_on_high": true},
		LastRunAt:            &lastRun,
		TotalEventsProcessed: 7,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	require.NoError(t, db.SaveConfig(pc))

	// Upsert overwrites in place.
	pc.Enabled = false
	pc.TotalEventsProcessed = 8
	require.NoError(t, db.SaveConfig(pc))

	rows, err := db.LoadConfigs()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	got := rows[0]
	assert.Equal(t, int64(42), got.ProjectID)
	assert.Equal(t, "security_compliance", got.AgentName)
	assert.False(t, got.Enabled)
	assert.Equal(t, int64(8), got.TotalEventsProcessed)
	assert.Equal(t, true, got.Config["block_merge_on_high"])
	require.NotNil(t, got.LastRunAt)
}

func TestSQLiteConnectionCRUD(t *testing.T) {
	db := openTestDB(t)

	c := &ServiceConnection{
		ProjectID:   1,
		ServiceType: ServiceGitLab,
		BaseURL:     "https://gitlab.example.com",
		APIToken:    " glpat-abcdef123456 ",
		Config:      map[string]any{"default_branch": "main"},
	}
	require.NoError(t, db.UpsertConnection(c))
	assert.NotZero(t, c.ID)
	assert.Equal(t, "glpat-abcdef123456", c.APIToken, "token trimmed")

	got, err := db.GetConnection(1, ServiceGitLab)
	require.NoError(t, err)
	assert.Equal(t, "https://gitlab.example.com", got.BaseURL)
	assert.Equal(t, "main", got.Config["default_branch"])
	assert.True(t, got.Enabled)

	// Upsert replaces the token for the same (project, service).
	require.NoError(t, db.UpsertConnection(&ServiceConnection{
		ProjectID:   1,
		ServiceType: ServiceGitLab,
		APIToken:    "glpat-rotated-9999",
	}))
	got, err = db.GetConnection(1, ServiceGitLab)
	require.NoError(t, err)
	assert.Equal(t, "glpat-rotated-9999", got.APIToken)

	list, err := db.ListConnections(1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, db.DeleteConnection(1, ServiceGitLab))
	_, err = db.GetConnection(1, ServiceGitLab)
	require.ErrorIs(t, err, ErrConnectionNotFound)

	// Deleting again is a no-op.
	require.NoError(t, db.DeleteConnection(1, ServiceGitLab))
}

func TestMemoryStoreMatchesContract(t *testing.T) {
	m := NewMemory()

	require.NoError(t, m.UpsertConnection(&ServiceConnection{
		ProjectID:   2,
		ServiceType: ServiceSlack,
		APIToken:    "xoxb-1",
	}))
	require.NoError(t, m.UpsertConnection(&ServiceConnection{
		ProjectID:   2,
		ServiceType: ServiceSlack,
		APIToken:    "xoxb-2",
	}))
	got, err := m.GetConnection(2, ServiceSlack)
	require.NoError(t, err)
	assert.Equal(t, "xoxb-2", got.APIToken)
	assert.Equal(t, int64(1), got.ID, "id stable across upserts")

	_, err = m.GetConnection(2, ServiceFigma)
	require.ErrorIs(t, err, ErrConnectionNotFound)

	require.NoError(t, m.SaveConfig(agent.ProjectConfig{ProjectID: 2, AgentName: "a"}))
	rows, err := m.LoadConfigs()
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
