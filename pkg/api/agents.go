package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/shipit-ai/fleet/pkg/agent"
)

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	pid, err := projectID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%s", err)
		return
	}
	agents, err := s.registry.ListForProject(pid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%s", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	pid, err := projectID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%s", err)
		return
	}
	name := r.PathValue("agent")

	var req struct {
		Enabled *bool        `json:"enabled"`
		Config  agent.Config `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pc, err := s.registry.UpdateConfig(pid, name, req.Enabled, req.Config)
	if err != nil {
		var verr *agent.ValidationError
		switch {
		case errors.Is(err, agent.ErrAgentNotFound):
			writeError(w, http.StatusNotFound, "unknown agent %s", name)
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, "invalid config field %q: %s", verr.Field, verr.Reason)
		default:
			writeError(w, http.StatusInternalServerError, "%s", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, pc)
}

func (s *Server) handleTriggerAgent(w http.ResponseWriter, r *http.Request) {
	pid, err := projectID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%s", err)
		return
	}
	name := r.PathValue("agent")

	var req struct {
		EventData map[string]any `json:"event_data"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	ev, err := s.bus.Trigger(pid, name, req.EventData)
	if err != nil {
		if errors.Is(err, agent.ErrAgentNotFound) {
			writeError(w, http.StatusNotFound, "unknown agent %s", name)
			return
		}
		writeError(w, http.StatusConflict, "%s", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "triggered",
		"agent_name": name,
		"event":      ev,
	})
}

func (s *Server) handleEventLog(w http.ResponseWriter, r *http.Request) {
	pid, err := projectID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%s", err)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit %q", raw)
			return
		}
		limit = n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": s.history.List(pid, limit),
	})
}
