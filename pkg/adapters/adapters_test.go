package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGitLabTestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/user", r.URL.Path)
		assert.Equal(t, "glpat-abc", r.Header.Get("PRIVATE-TOKEN"))
		json.NewEncoder(w).Encode(map[string]any{"id": 1, "username": "fleet-bot"})
	}))
	defer srv.Close()

	g := NewGitLab(srv.URL, "glpat-abc")
	require.NoError(t, g.TestConnection(context.Background()))
}

func TestGitLabCreateBranch(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/projects/7/repository/branches", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"name": "feature/x"})
	}))
	defer srv.Close()

	g := NewGitLab(srv.URL, "t")
	require.NoError(t, g.CreateBranch(context.Background(), 7, "feature/x", ""))
	assert.Equal(t, "feature/x", got["branch"])
	assert.Equal(t, "main", got["ref"], "default ref")
}

func TestGitLabErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"401 Unauthorized"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := NewGitLab(srv.URL, "bad")
	err := g.TestConnection(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestSentryTestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/0/organizations/", r.URL.Path)
		assert.Equal(t, "Bearer sn-tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]map[string]any{{"slug": "shipit"}})
	}))
	defer srv.Close()

	s := NewSentry("sn-tok", srv.URL)
	require.NoError(t, s.TestConnection(context.Background()))
}

type fakeSlackClient struct {
	channel string
	text    string
	err     error
}

func (f *fakeSlackClient) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.channel = channelID
	return channelID, "1724600000.000100", f.err
}

func (f *fakeSlackClient) AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &slack.AuthTestResponse{Team: "shipit"}, nil
}

func TestSlackPostMessage(t *testing.T) {
	fc := &fakeSlackClient{}
	s := NewSlackWithClient(fc)

	ts, err := s.PostMessage(context.Background(), "#deploys", "deploy complete", "")
	require.NoError(t, err)
	assert.Equal(t, "1724600000.000100", ts)
	assert.Equal(t, "#deploys", fc.channel)
}

func TestSlackConnectionFailure(t *testing.T) {
	fc := &fakeSlackClient{err: errors.New("invalid_auth")}
	s := NewSlackWithClient(fc)
	err := s.TestConnection(context.Background())
	require.ErrorContains(t, err, "invalid_auth")
}
