// Webhook ingestion: external services push their payloads here and
// the handlers translate them into fleet events. Unrecognized payloads
// are acknowledged and skipped so providers do not retry forever.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shipit-ai/fleet/pkg/events"
)

// webhookProject resolves the target project from the ?project_id
// query param. Zero means fleet-global.
func webhookProject(r *http.Request) int64 {
	raw := r.URL.Query().Get("project_id")
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

func (s *Server) publishWebhookEvent(w http.ResponseWriter, t events.Type, pid int64, data map[string]any) {
	ev := events.New(t, events.SourceSystem, pid, data)
	if err := s.bus.Publish(ev); err != nil {
		writeError(w, http.StatusServiceUnavailable, "%s", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "event_type": t, "event_id": ev.ID})
}

func webhookSkip(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "skipped": true})
}

func (s *Server) handleJiraWebhook(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WebhookEvent string `json:"webhookEvent"`
		Issue        struct {
			Key    string `json:"key"`
			Fields struct {
				Summary     string `json:"summary"`
				Description string `json:"description"`
				Priority    struct {
					Name string `json:"name"`
				} `json:"priority"`
				Status struct {
					Name string `json:"name"`
				} `json:"status"`
			} `json:"fields"`
		} `json:"issue"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	var t events.Type
	switch body.WebhookEvent {
	case "jira:issue_created":
		t = events.JiraTicketCreated
	case "jira:issue_updated":
		t = events.JiraTicketUpdated
	default:
		webhookSkip(w)
		return
	}
	if body.Issue.Key == "" {
		webhookSkip(w)
		return
	}

	s.publishWebhookEvent(w, t, webhookProject(r), map[string]any{
		"key":         body.Issue.Key,
		"title":       body.Issue.Fields.Summary,
		"description": body.Issue.Fields.Description,
		"priority":    body.Issue.Fields.Priority.Name,
		"status":      body.Issue.Fields.Status.Name,
	})
}

func (s *Server) handleGitLabWebhook(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	pid := webhookProject(r)

	kind, _ := body["object_kind"].(string)
	switch kind {
	case "push":
		ref, _ := body["ref"].(string)
		s.publishWebhookEvent(w, events.CodePushed, pid, map[string]any{
			"ref":             ref,
			"commit_messages": commitMessages(body["commits"]),
		})

	case "merge_request":
		attrs, _ := body["object_attributes"].(map[string]any)
		if attrs == nil {
			webhookSkip(w)
			return
		}
		data := map[string]any{
			"mr_iid":        attrs["iid"],
			"title":         attrs["title"],
			"source_branch": attrs["source_branch"],
			"target_branch": attrs["target_branch"],
		}
		action, _ := attrs["action"].(string)
		switch action {
		case "open", "reopen":
			s.publishWebhookEvent(w, events.PROpened, pid, data)
		case "approved":
			s.publishWebhookEvent(w, events.PRApproved, pid, data)
		case "merge":
			target, _ := attrs["target_branch"].(string)
			data["ref"] = target
			s.publishWebhookEvent(w, events.MergeToMain, pid, data)
		default:
			webhookSkip(w)
		}

	case "pipeline":
		attrs, _ := body["object_attributes"].(map[string]any)
		if attrs == nil {
			webhookSkip(w)
			return
		}
		data := map[string]any{
			"pipeline_id": attrs["id"],
			"ref":         attrs["ref"],
			"status":      attrs["status"],
		}
		switch status, _ := attrs["status"].(string); status {
		case "pending", "running":
			s.publishWebhookEvent(w, events.PipelineStarted, pid, data)
		case "success":
			s.publishWebhookEvent(w, events.PipelineCompleted, pid, data)
		case "failed":
			s.publishWebhookEvent(w, events.PipelineFailed, pid, data)
		default:
			webhookSkip(w)
		}

	default:
		webhookSkip(w)
	}
}

func (s *Server) handleFigmaWebhook(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EventType string `json:"event_type"`
		FileKey   string `json:"file_key"`
		FileName  string `json:"file_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if body.FileKey == "" {
		webhookSkip(w)
		return
	}

	s.publishWebhookEvent(w, events.FigmaDesignChanged, webhookProject(r), map[string]any{
		"file_key":  body.FileKey,
		"file_name": body.FileName,
	})
}

func commitMessages(v any) []string {
	commits, _ := v.([]any)
	out := make([]string, 0, len(commits))
	for _, c := range commits {
		cm, _ := c.(map[string]any)
		if msg, _ := cm["message"].(string); msg != "" {
			out = append(out, msg)
		}
	}
	return out
}
