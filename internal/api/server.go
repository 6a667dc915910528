package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"raidboard/internal/websocket"
	"raidboard/pkg/interfaces"
	"raidboard/pkg/types"
)

// Registry interface to avoid tight coupling to websocket.Registry implementation
type Registry interface {
	GetSessionConnections(sessionID string) []*websocket.Connection
	GetStats() map[string]int
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	coordinator interfaces.SessionCoordinator
	dbManager   interfaces.DatabaseManager
	catalog     interfaces.EncounterCatalog
	registry    Registry
	limiter     *RateLimiter
	router      *chi.Mux
}

// NewServer wires the handlers onto a chi router. limiter may be nil to
// disable rate limiting.
func NewServer(coordinator interfaces.SessionCoordinator, dbManager interfaces.DatabaseManager,
	catalog interfaces.EncounterCatalog, registry Registry, limiter *RateLimiter) *Server {
	s := &Server{
		coordinator: coordinator,
		dbManager:   dbManager,
		catalog:     catalog,
		registry:    registry,
		limiter:     limiter,
		router:      chi.NewRouter(),
	}

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// CORS and JSON middleware applied to all API routes for web client compatibility
func (s *Server) setupRoutes() {
	s.router.Use(s.corsMiddleware)

	s.router.Group(func(r chi.Router) {
		r.Use(s.jsonMiddleware)

		r.Get("/health", s.healthCheck)

		r.Route("/api", func(r chi.Router) {
			r.Get("/dungeons", s.listDungeons)

			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", s.formSession)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.getSession)
					r.Post("/join", s.joinSession)
					r.Post("/leave", s.leaveSession)
					r.Post("/start", s.startSession)
					r.Post("/cancel", s.cancelSession)
					r.Post("/leader", s.transferLeadership)
					r.Post("/approve", s.approveApplicant)
					r.Post("/reject", s.rejectApplicant)
				})
			})

			r.Route("/players/{id}", func(r chi.Router) {
				r.Get("/", s.getPlayer)
				r.Put("/", s.putPlayer)
				r.Get("/sessions", s.listPlayerSessions)
				r.Get("/history", s.listPlayerHistory)
			})
		})
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		s.sendError(w, "Route not found", http.StatusNotFound)
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
}

// Handle mounts an extra handler, such as the websocket feed, on the router
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.router.Handle(pattern, handler)
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization
type FormSessionRequest struct {
	DungeonID string         `json:"dungeon_id"`
	LeaderID  string         `json:"leader_id"`
	Capacity  types.Capacity `json:"capacity"`
	Settings  types.Settings `json:"settings"`
}

type FormSessionResponse struct {
	SessionID string         `json:"session_id"`
	Session   *types.Session `json:"session,omitempty"`
}

// ActionRequest carries the acting player and, for leader and approval
// actions, the player acted upon
type ActionRequest struct {
	PlayerID string `json:"player_id"`
	TargetID string `json:"target_id,omitempty"`
}

type SessionResponse struct {
	Session         *types.Session `json:"session"`
	ConnectionCount int            `json:"connection_count"`
}

type StartSessionResponse struct {
	Outcome *types.Outcome `json:"outcome"`
}

type ListSessionsResponse struct {
	Sessions []*types.Session `json:"sessions"`
}

type HistoryResponse struct {
	Entries []*interfaces.HistoryEntry `json:"entries"`
}

type ListDungeonsResponse struct {
	Dungeons []*types.DungeonSpec `json:"dungeons"`
}

type PutPlayerRequest struct {
	Level   int `json:"level"`
	Attack  int `json:"attack"`
	Defense int `json:"defense"`
	Support int `json:"support"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
	RateLimited int            `json:"rate_limited_players"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if err := s.dbManager.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.registry.GetStats(),
	}
	if s.limiter != nil {
		response.RateLimited = s.limiter.Tracked()
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

// decodeAction reads an ActionRequest, validates the acting player and
// charges it against the rate limiter. It writes the error response itself
// and returns false when the request must stop.
func (s *Server) decodeAction(w http.ResponseWriter, r *http.Request, needTarget bool) (*ActionRequest, bool) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, ErrInvalidJSON.Error(), http.StatusBadRequest)
		return nil, false
	}
	if !types.IsValidPlayerID(req.PlayerID) {
		s.sendError(w, types.ErrInvalidPlayerID.Error(), http.StatusBadRequest)
		return nil, false
	}
	if needTarget && !types.IsValidPlayerID(req.TargetID) {
		s.sendError(w, "target_id: "+types.ErrInvalidPlayerID.Error(), http.StatusBadRequest)
		return nil, false
	}
	if !s.allow(w, req.PlayerID) {
		return nil, false
	}
	return &req, true
}

func (s *Server) allow(w http.ResponseWriter, playerID string) bool {
	if s.limiter == nil || s.limiter.Allow(playerID) {
		return true
	}
	log.Printf("Rate limit exceeded: player=%s", playerID)
	s.sendError(w, ErrRateLimitExceeded.Error(), http.StatusTooManyRequests)
	return false
}

// sendDomainError reports err with the status code its sentinel maps to
func (s *Server) sendDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Printf("ERROR: %s %s failed: %v", r.Method, r.URL.Path, err)
	}
	s.sendError(w, err.Error(), code)
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
// Allows all origins in development - would be restricted in production
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		// FUNCTIONAL DISCOVERY: Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
