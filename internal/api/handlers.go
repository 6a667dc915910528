package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"raidboard/pkg/types"
)

// POST /api/sessions
func (s *Server) formSession(w http.ResponseWriter, r *http.Request) {
	var req FormSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, ErrInvalidJSON.Error(), http.StatusBadRequest)
		return
	}
	if !types.IsValidPlayerID(req.LeaderID) {
		s.sendError(w, types.ErrInvalidPlayerID.Error(), http.StatusBadRequest)
		return
	}
	if req.DungeonID == "" {
		s.sendError(w, "dungeon_id is required", http.StatusBadRequest)
		return
	}
	if !s.allow(w, req.LeaderID) {
		return
	}

	sessionID, err := s.coordinator.FormSession(r.Context(), req.DungeonID, req.LeaderID, req.Capacity, req.Settings)
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}

	// The session may already have been emptied by a racing request
	session, _ := s.coordinator.GetSession(r.Context(), sessionID)

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(FormSessionResponse{SessionID: sessionID, Session: session})
}

// GET /api/sessions/{id}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	session, err := s.coordinator.GetSession(r.Context(), sessionID)
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}

	json.NewEncoder(w).Encode(SessionResponse{
		Session:         session,
		ConnectionCount: len(s.registry.GetSessionConnections(sessionID)),
	})
}

// POST /api/sessions/{id}/join
// FUNCTIONAL DISCOVERY: 202 when the player was queued for approval rather than admitted
func (s *Server) joinSession(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAction(w, r, false)
	if !ok {
		return
	}

	session, err := s.coordinator.JoinSession(r.Context(), chi.URLParam(r, "id"), req.PlayerID)
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}

	if session.MemberIndex(req.PlayerID) < 0 {
		w.WriteHeader(http.StatusAccepted)
	}
	s.sendSession(w, session)
}

// POST /api/sessions/{id}/leave
func (s *Server) leaveSession(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAction(w, r, false)
	if !ok {
		return
	}

	session, err := s.coordinator.LeaveSession(r.Context(), chi.URLParam(r, "id"), req.PlayerID)
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	s.sendSession(w, session)
}

// POST /api/sessions/{id}/start
func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAction(w, r, false)
	if !ok {
		return
	}

	outcome, err := s.coordinator.StartSession(r.Context(), chi.URLParam(r, "id"), req.PlayerID)
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	json.NewEncoder(w).Encode(StartSessionResponse{Outcome: outcome})
}

// POST /api/sessions/{id}/cancel
func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAction(w, r, false)
	if !ok {
		return
	}

	session, err := s.coordinator.CancelSession(r.Context(), chi.URLParam(r, "id"), req.PlayerID)
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	s.sendSession(w, session)
}

// POST /api/sessions/{id}/leader
func (s *Server) transferLeadership(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAction(w, r, true)
	if !ok {
		return
	}

	session, err := s.coordinator.TransferLeadership(r.Context(), chi.URLParam(r, "id"), req.PlayerID, req.TargetID)
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	s.sendSession(w, session)
}

// POST /api/sessions/{id}/approve
func (s *Server) approveApplicant(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAction(w, r, true)
	if !ok {
		return
	}

	session, err := s.coordinator.ApproveApplicant(r.Context(), chi.URLParam(r, "id"), req.PlayerID, req.TargetID)
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	s.sendSession(w, session)
}

// POST /api/sessions/{id}/reject
func (s *Server) rejectApplicant(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAction(w, r, true)
	if !ok {
		return
	}

	session, err := s.coordinator.RejectApplicant(r.Context(), chi.URLParam(r, "id"), req.PlayerID, req.TargetID)
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	s.sendSession(w, session)
}

// GET /api/players/{id}
func (s *Server) getPlayer(w http.ResponseWriter, r *http.Request) {
	player, err := s.dbManager.GetPlayer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	json.NewEncoder(w).Encode(player)
}

// PUT /api/players/{id}
// FUNCTIONAL DISCOVERY: Registers or updates combat stats; gold and XP only change through raid rewards
func (s *Server) putPlayer(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "id")
	if !types.IsValidPlayerID(playerID) {
		s.sendError(w, types.ErrInvalidPlayerID.Error(), http.StatusBadRequest)
		return
	}

	var req PutPlayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, ErrInvalidJSON.Error(), http.StatusBadRequest)
		return
	}
	if req.Level < 1 || req.Attack < 0 || req.Defense < 0 || req.Support < 0 {
		s.sendError(w, "level must be positive and stats non-negative", http.StatusBadRequest)
		return
	}
	if !s.allow(w, playerID) {
		return
	}

	err := s.dbManager.PutPlayer(r.Context(), &types.PlayerRecord{
		ID:      playerID,
		Level:   req.Level,
		Attack:  req.Attack,
		Defense: req.Defense,
		Support: req.Support,
	})
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}

	player, err := s.dbManager.GetPlayer(r.Context(), playerID)
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	json.NewEncoder(w).Encode(player)
}

// GET /api/players/{id}/sessions
func (s *Server) listPlayerSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.coordinator.ListActiveFor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	json.NewEncoder(w).Encode(ListSessionsResponse{Sessions: sessions})
}

// GET /api/players/{id}/history?limit=N
func (s *Server) listPlayerHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.sendError(w, ErrInvalidLimit.Error(), http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.dbManager.ListHistory(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.sendDomainError(w, r, err)
		return
	}
	json.NewEncoder(w).Encode(HistoryResponse{Entries: entries})
}

// GET /api/dungeons
func (s *Server) listDungeons(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(ListDungeonsResponse{Dungeons: s.catalog.List()})
}

func (s *Server) sendSession(w http.ResponseWriter, session *types.Session) {
	if err := json.NewEncoder(w).Encode(SessionResponse{
		Session:         session,
		ConnectionCount: len(s.registry.GetSessionConnections(session.ID)),
	}); err != nil {
		log.Printf("Failed to encode session %s: %v", session.ID, err)
	}
}
