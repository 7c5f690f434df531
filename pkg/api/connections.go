package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shipit-ai/fleet/pkg/adapters"
	"github.com/shipit-ai/fleet/pkg/store"
)

func (s *Server) handleUpsertConnection(w http.ResponseWriter, r *http.Request) {
	pid, err := projectID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%s", err)
		return
	}

	var req struct {
		ServiceType string         `json:"service_type"`
		BaseURL     string         `json:"base_url"`
		APIToken    string         `json:"api_token"`
		Config      map[string]any `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !store.KnownService(req.ServiceType) {
		writeError(w, http.StatusBadRequest, "unknown service type %q", req.ServiceType)
		return
	}
	if req.APIToken == "" {
		writeError(w, http.StatusBadRequest, "api_token is required")
		return
	}

	// Upsert always re-enables; disabling happens by deleting the
	// connection.
	conn := store.ServiceConnection{
		ProjectID:   pid,
		ServiceType: req.ServiceType,
		BaseURL:     req.BaseURL,
		APIToken:    req.APIToken,
		Config:      req.Config,
		Enabled:     true,
	}
	if err := s.connections.UpsertConnection(&conn); err != nil {
		writeError(w, http.StatusInternalServerError, "%s", err)
		return
	}
	s.log.Info("service connection saved", "project_id", pid, "service", req.ServiceType)
	writeJSON(w, http.StatusOK, conn.Masked())
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	pid, err := projectID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%s", err)
		return
	}
	conns, err := s.connections.ListConnections(pid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%s", err)
		return
	}
	masked := make([]store.MaskedConnection, len(conns))
	for i := range conns {
		masked[i] = conns[i].Masked()
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": masked})
}

// handleRevealConnection returns the plaintext token. List and upsert
// responses only ever carry the masked form.
func (s *Server) handleRevealConnection(w http.ResponseWriter, r *http.Request) {
	pid, err := projectID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%s", err)
		return
	}
	conn, err := s.getConnection(w, pid, r.PathValue("service"))
	if err != nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service_type": conn.ServiceType,
		"api_token":    conn.APIToken,
	})
}

func (s *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	pid, err := projectID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%s", err)
		return
	}
	service := r.PathValue("service")
	if err := s.connections.DeleteConnection(pid, service); err != nil {
		writeError(w, http.StatusInternalServerError, "%s", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "service_type": service})
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	pid, err := projectID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%s", err)
		return
	}
	conn, err := s.getConnection(w, pid, r.PathValue("service"))
	if err != nil {
		return
	}

	pinger := pingerFor(conn)
	if pinger == nil {
		writeError(w, http.StatusBadRequest, "connection test not supported for %q", conn.ServiceType)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	if err := pinger.TestConnection(ctx); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"service_type": conn.ServiceType,
			"ok":           false,
			"error":        err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service_type": conn.ServiceType,
		"ok":           true,
	})
}

func (s *Server) getConnection(w http.ResponseWriter, pid int64, service string) (store.ServiceConnection, error) {
	conn, err := s.connections.GetConnection(pid, service)
	if err != nil {
		if errors.Is(err, store.ErrConnectionNotFound) {
			writeError(w, http.StatusNotFound, "no %s connection for project %d", service, pid)
		} else {
			writeError(w, http.StatusInternalServerError, "%s", err)
		}
		return store.ServiceConnection{}, err
	}
	return conn, nil
}

func pingerFor(conn store.ServiceConnection) adapters.Pinger {
	switch conn.ServiceType {
	case store.ServiceGitLab:
		return adapters.NewGitLab(conn.BaseURL, conn.APIToken)
	case store.ServiceFigma:
		return adapters.NewFigma(conn.APIToken)
	case store.ServiceSlack:
		return adapters.NewSlack(conn.APIToken)
	case store.ServiceDatadog:
		appKey, _ := conn.Config["app_key"].(string)
		site, _ := conn.Config["site"].(string)
		return adapters.NewDatadog(conn.APIToken, appKey, site)
	case store.ServiceSentry:
		return adapters.NewSentry(conn.APIToken, conn.BaseURL)
	}
	return nil
}
