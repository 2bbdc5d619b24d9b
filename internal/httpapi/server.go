package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/8007342/ai-way/internal/agents"
	"github.com/8007342/ai-way/internal/conductor"
	"github.com/8007342/ai-way/internal/config"
	"github.com/8007342/ai-way/internal/observability"
	"github.com/8007342/ai-way/internal/protocol"
	"github.com/8007342/ai-way/internal/reliability"
	"github.com/8007342/ai-way/internal/session"
)

const (
	serviceName    = "ai-way Core"
	serviceVersion = "0.1.0"

	// agentRoleLimit clips role text on the public catalog listing.
	agentRoleLimit = 200
)

// Responder is the slice of the conductor the HTTP surface needs.
// *conductor.Conductor satisfies it; tests swap in scripted fakes.
type Responder interface {
	Respond(ctx context.Context, query string, sess *session.Session, opts conductor.Options) (*conductor.Response, error)
	AgentCount() int
	Profiles() []agents.Profile
}

type Server struct {
	cfg       config.Config
	store     *session.Store
	responder Responder
	metrics   *observability.Metrics
	upgrader  websocket.Upgrader
}

func New(cfg config.Config, store *session.Store, responder Responder, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		responder: responder,
		metrics:   metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other websites cannot drive the user's
				// assistant if the core is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.handleInfo)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/chat", s.handleChat)
	r.Get("/v1/chat/ws", s.handleChatWS)
	r.Get("/v1/agents", s.handleListAgents)
	r.Get("/v1/sessions", s.handleListSessions)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Delete("/v1/sessions/{id}", s.handleDeleteSession)

	return r
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"name":      serviceName,
		"version":   serviceVersion,
		"status":    "running",
		"conductor": s.responder != nil,
		"agents":    s.agentCount(),
	})
}

func (s *Server) agentCount() int {
	if s.responder == nil {
		return 0
	}
	return s.responder.AgentCount()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleReady reports readiness to serve chat. The daemon starts without a
// conductor when the catalog or backend is missing; readiness stays false
// until one is wired.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.responder == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "not_ready",
			"conductor": false,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ready",
		"conductor": true,
		"agents":    s.responder.AgentCount(),
	})
}

type chatRequest struct {
	Message    string `json:"message"`
	SessionID  string `json:"session_id,omitempty"`
	ForceAgent string `json:"force_agent,omitempty"`
}

type chatResponse struct {
	Message            string            `json:"message"`
	SessionID          string            `json:"session_id"`
	Routing            *protocol.Routing `json:"routing,omitempty"`
	TokensUsed         int               `json:"tokens_used"`
	LatencyMS          float64           `json:"latency_ms"`
	SpecialistResponse string            `json:"specialist_response,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}
	if s.responder == nil {
		respondError(w, http.StatusServiceUnavailable, "conductor_unavailable", "conductor not initialized")
		return
	}

	sess := s.store.GetOrCreate(req.SessionID)
	if sess.ID() != req.SessionID {
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
		s.metrics.ActiveSessions.Set(float64(s.store.Len()))
	}

	res, err := s.responder.Respond(r.Context(), req.Message, sess, conductor.Options{
		ForceAgent: req.ForceAgent,
	})
	if err != nil {
		if reliability.IsRetryableBackendError(err) {
			respondError(w, http.StatusServiceUnavailable, "backend_unavailable", err.Error())
		} else {
			respondError(w, http.StatusBadGateway, "backend_error", err.Error())
		}
		return
	}

	// The turn is recorded only once a complete response exists; a failed
	// exchange leaves the session unchanged.
	sess.AddTurn(req.Message, res.Message, res.Routing, res.TokensUsed, res.LatencyMS)
	s.metrics.TurnsRecorded.Inc()

	out := chatResponse{
		Message:    res.Message,
		SessionID:  sess.ID(),
		TokensUsed: res.TokensUsed,
		LatencyMS:  res.LatencyMS,
	}
	if s.cfg.DevMode {
		out.Routing = routingWire(res.Routing)
		out.SpecialistResponse = res.SpecialistResponse
	}
	respondJSON(w, http.StatusOK, out)
}

type agentInfo struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Role     string `json:"role"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	if s.responder == nil {
		respondJSON(w, http.StatusOK, []agentInfo{})
		return
	}
	profiles := s.responder.Profiles()
	out := make([]agentInfo, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, agentInfo{
			Name:     p.Name,
			Category: p.Category,
			Role:     agentRoleSummary(p.Role),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func agentRoleSummary(role string) string {
	if runes := []rune(role); len(runes) > agentRoleLimit {
		return string(runes[:agentRoleLimit]) + "..."
	}
	return role
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.store.List()
	out := make([]session.Summary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Summary())
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", "session not found")
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deleted, err := s.store.Delete(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "snapshot_failed", err.Error())
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "session_not_found", "session not found")
		return
	}
	s.metrics.SessionEvents.WithLabelValues("deleted").Inc()
	s.metrics.ActiveSessions.Set(float64(s.store.Len()))
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "deleted",
		"session_id": id,
	})
}

func routingWire(d *session.RoutingDecision) *protocol.Routing {
	if d == nil {
		return nil
	}
	return &protocol.Routing{
		Agent:      d.Agent,
		Confidence: d.Confidence,
		Reasoning:  d.Reasoning,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
