// Fleet control API: REST endpoints for agent management and service
// connections, webhook ingestion, and a WebSocket live event stream.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shipit-ai/fleet/pkg/agent"
	"github.com/shipit-ai/fleet/pkg/events"
	"github.com/shipit-ai/fleet/pkg/metrics"
	"github.com/shipit-ai/fleet/pkg/store"
)

// EventBus is the bus surface the API needs.
type EventBus interface {
	Publish(ev events.Event) error
	Trigger(projectID int64, agentName string, data map[string]any) (events.Event, error)
	SubscribeTap(name string) <-chan events.Event
	IsRunning() bool
}

// Server is the HTTP control surface for the fleet.
type Server struct {
	log         *slog.Logger
	addr        string
	apiKey      string
	registry    *agent.Registry
	bus         EventBus
	history     *metrics.History
	connections store.ConnectionStore
	hub         *WSHub
	bridge      *EventBridge
	startTime   time.Time
	server      *http.Server
}

// NewServer wires the control API. If apiKey is empty a random session
// key is generated and printed once at startup, so the API is never
// unauthenticated by accident.
func NewServer(
	log *slog.Logger,
	addr, apiKey string,
	reg *agent.Registry,
	bus EventBus,
	hist *metrics.History,
	conns store.ConnectionStore,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "api")

	if apiKey == "" {
		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err == nil {
			apiKey = hex.EncodeToString(raw)
			fmt.Printf("\nFLEET API KEY (session token): %s\n", apiKey)
			fmt.Println("Set api_key in the config file or FLEET_API_KEY to make it permanent.")
			fmt.Println()
		}
	}

	s := &Server{
		log:         log,
		addr:        addr,
		apiKey:      apiKey,
		registry:    reg,
		bus:         bus,
		history:     hist,
		connections: conns,
		startTime:   time.Now(),
	}
	s.hub = NewWSHub(s)
	if bus != nil {
		s.bridge = NewEventBridge(bus, s.hub)
	}
	return s
}

// Routes builds the API mux. Exposed for tests.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/agents/status", s.handleFleetStatus)

	mux.HandleFunc("GET /api/projects/{project}/agents", s.handleListAgents)
	mux.HandleFunc("PUT /api/projects/{project}/agents/{agent}", s.handleUpdateAgent)
	mux.HandleFunc("POST /api/projects/{project}/agents/{agent}/trigger", s.handleTriggerAgent)
	mux.HandleFunc("GET /api/projects/{project}/agents/events", s.handleEventLog)

	mux.HandleFunc("POST /api/projects/{project}/connections", s.handleUpsertConnection)
	mux.HandleFunc("GET /api/projects/{project}/connections", s.handleListConnections)
	mux.HandleFunc("GET /api/projects/{project}/connections/{service}/reveal", s.handleRevealConnection)
	mux.HandleFunc("DELETE /api/projects/{project}/connections/{service}", s.handleDeleteConnection)
	mux.HandleFunc("POST /api/projects/{project}/connections/{service}/test", s.handleTestConnection)

	mux.HandleFunc("POST /api/webhooks/jira", s.handleJiraWebhook)
	mux.HandleFunc("POST /api/webhooks/gitlab", s.handleGitLabWebhook)
	mux.HandleFunc("POST /api/webhooks/figma", s.handleFigmaWebhook)

	mux.HandleFunc("GET /api/ws", s.hub.HandleWebSocket)

	return corsMiddleware(authMiddleware(s.log, s.apiKey, mux))
}

// Start begins serving and runs the WebSocket hub and event bridge
// until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go s.hub.Run(ctx)
	if s.bridge != nil {
		go s.bridge.Run(ctx)
	}

	s.log.Info("control API listening", "addr", s.addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleFleetStatus(w http.ResponseWriter, r *http.Request) {
	running := false
	if s.bus != nil {
		running = s.bus.IsRunning()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bus_running":    running,
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"agents":         s.registry.FleetStatus(),
	})
}

// --- Middleware ---

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isAllowedOrigin(origin string) bool {
	for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

// projectID parses the {project} path segment.
func projectID(r *http.Request) (int64, error) {
	raw := r.PathValue("project")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid project id %q", raw)
	}
	return id, nil
}
