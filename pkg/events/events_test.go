package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFillsEnvelope(t *testing.T) {
	ev := New(PROpened, SourceSystem, 7, nil)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, PROpened, ev.Type)
	assert.Equal(t, int64(7), ev.ProjectID)
	assert.NotNil(t, ev.Data)
	assert.False(t, ev.Timestamp.IsZero())
	assert.Empty(t, ev.CorrelationID)
}

func TestFollowupMintsCorrelationFromParent(t *testing.T) {
	parent := New(PROpened, SourceSystem, 7, nil)
	child := Followup(parent, SecurityScanComplete, "security_compliance", nil)

	assert.Equal(t, parent.ID, child.CorrelationID)
	assert.Equal(t, parent.ProjectID, child.ProjectID)
	require.NotEqual(t, parent.ID, child.ID)

	grandchild := Followup(child, SlackNotification, "security_compliance", nil)
	assert.Equal(t, parent.ID, grandchild.CorrelationID)
}

func TestMatches(t *testing.T) {
	cases := []struct {
		sub  Type
		et   Type
		want bool
	}{
		{PROpened, PROpened, true},
		{PROpened, PRApproved, false},
		{"agent.security.", SecurityScanComplete, true},
		{"agent.security.", TestReportCreated, false},
		{"agent.", SecurityScanComplete, true},
		{"agent.", PROpened, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.sub.Matches(tc.et), "%s vs %s", tc.sub, tc.et)
	}
}

func TestIsPrefix(t *testing.T) {
	assert.True(t, Type("agent.security.").IsPrefix())
	assert.False(t, SecurityScanComplete.IsPrefix())
}
