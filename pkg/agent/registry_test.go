package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipit-ai/fleet/pkg/events"
	"github.com/shipit-ai/fleet/pkg/metrics"
)

type stubHandler struct {
	name string
	subs []events.Type
	spec ConfigSpec
}

func (s *stubHandler) Name() string                    { return s.name }
func (s *stubHandler) Description() string             { return "stub" }
func (s *stubHandler) SubscribedEvents() []events.Type { return s.subs }
func (s *stubHandler) ConfigSpec() ConfigSpec          { return s.spec }
func (s *stubHandler) Handle(context.Context, events.Event, Config) ([]events.Event, error) {
	return nil, nil
}

type memStore struct {
	saved []ProjectConfig
}

func (m *memStore) LoadConfigs() ([]ProjectConfig, error) { return nil, nil }
func (m *memStore) SaveConfig(pc ProjectConfig) error {
	m.saved = append(m.saved, pc)
	return nil
}

func newTestRegistry(t *testing.T, store ConfigStore) *Registry {
	t.Helper()
	r := NewRegistry(nil, metrics.NewStore(), store)
	require.NoError(t, r.Register(&stubHandler{
		name: "alpha",
		subs: []events.Type{events.JiraTicketCreated},
		spec: ConfigSpec{
			"channel":   {Type: FieldString, Default: "#general"},
			"threshold": {Type: FieldNumber},
		},
	}))
	require.NoError(t, r.Register(&stubHandler{
		name: "beta",
		subs: []events.Type{"agent.security."},
	}))
	return r
}

func TestRegisterDuplicate(t *testing.T) {
	r := newTestRegistry(t, nil)
	err := r.Register(&stubHandler{name: "alpha"})
	require.ErrorIs(t, err, ErrDuplicateAgent)
}

func TestGetUnknownAgent(t *testing.T) {
	r := newTestRegistry(t, nil)
	_, err := r.Get("nope")
	require.ErrorIs(t, err, ErrAgentNotFound)
}

func TestAllPreservesRegistrationOrder(t *testing.T) {
	r := newTestRegistry(t, nil)
	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Name())
	assert.Equal(t, "beta", all[1].Name())
}

func TestEnsureConfigLazyDefault(t *testing.T) {
	store := &memStore{}
	r := newTestRegistry(t, store)

	pc, err := r.EnsureConfig(7, "alpha")
	require.NoError(t, err)
	assert.True(t, pc.Enabled)
	assert.Equal(t, Config{"channel": "#general"}, pc.Config)
	assert.Equal(t, int64(7), pc.ProjectID)
	require.Len(t, store.saved, 1, "default row persisted")

	// Second access reuses the row.
	_, err = r.EnsureConfig(7, "alpha")
	require.NoError(t, err)
	assert.Len(t, store.saved, 1)
}

func TestUpdateConfigValidation(t *testing.T) {
	r := newTestRegistry(t, nil)

	_, err := r.UpdateConfig(1, "alpha", nil, Config{"bogus": true})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "bogus", verr.Field)

	_, err = r.UpdateConfig(1, "alpha", nil, Config{"channel": 42})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "channel", verr.Field)

	pc, err := r.UpdateConfig(1, "alpha", nil, Config{"channel": "#deploys", "threshold": 5})
	require.NoError(t, err)
	assert.Equal(t, "#deploys", pc.Config["channel"])
}

func TestUpdateConfigUnknownAgent(t *testing.T) {
	r := newTestRegistry(t, nil)
	_, err := r.UpdateConfig(1, "ghost", nil, nil)
	require.ErrorIs(t, err, ErrAgentNotFound)
}

func TestDisableAgent(t *testing.T) {
	r := newTestRegistry(t, nil)

	assert.True(t, r.IsEnabled(3, "alpha"), "default is enabled")

	off := false
	_, err := r.UpdateConfig(3, "alpha", &off, nil)
	require.NoError(t, err)
	assert.False(t, r.IsEnabled(3, "alpha"))
	assert.True(t, r.IsEnabled(4, "alpha"), "other projects unaffected")
}

func TestRecordRunBookkeeping(t *testing.T) {
	r := newTestRegistry(t, nil)

	r.RecordRun(2, "alpha")
	r.RecordRun(2, "alpha")

	pc, err := r.EnsureConfig(2, "alpha")
	require.NoError(t, err)
	assert.Equal(t, int64(2), pc.TotalEventsProcessed)
	require.NotNil(t, pc.LastRunAt)
}

func TestListForProject(t *testing.T) {
	r := newTestRegistry(t, nil)

	list, err := r.ListForProject(9)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.True(t, list[0].Enabled)
	assert.Equal(t, []string{"jira.ticket.created"}, list[0].SubscribedTypes)
	assert.Equal(t, []string{"agent.security."}, list[1].SubscribedTypes)
}

func TestFleetStatus(t *testing.T) {
	r := newTestRegistry(t, nil)
	st := r.FleetStatus()
	require.Len(t, st, 2)
	assert.Equal(t, "alpha", st[0].Name)
	assert.Zero(t, st[0].Metrics.EventsProcessed)
}

func TestConfigForFallsBackToDefaults(t *testing.T) {
	r := newTestRegistry(t, nil)
	cfg := r.ConfigFor(5, "alpha")
	assert.Equal(t, Config{"channel": "#general"}, cfg)
}

func TestConfigSpecValidateNilValue(t *testing.T) {
	spec := ConfigSpec{"opt": {Type: FieldBool}}
	require.NoError(t, spec.Validate(Config{"opt": nil}))
	require.Error(t, spec.Validate(Config{"opt": "yes"}))
	var verr *ValidationError
	err := spec.Validate(Config{"opt": "yes"})
	require.True(t, errors.As(err, &verr))
}
