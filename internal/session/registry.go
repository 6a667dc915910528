package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"raidboard/pkg/interfaces"
	"raidboard/pkg/types"
)

// entry pairs a session with the lock that serializes every operation on it
// TECHNICAL DISCOVERY: The lock lives and dies with the entry, so removing a
// terminal session from the map also discards its lock
type entry struct {
	mu      sync.Mutex
	session *types.Session
	dungeon *types.DungeonSpec
	removed bool
}

// Registry is the authoritative sessionID -> Session mapping
// ARCHITECTURAL DISCOVERY: Two lock levels. Registry.mu guards only the maps and
// is never held across a session operation; entry.mu is the per-session
// critical section. Lock order is always entry.mu -> Registry.mu.
type Registry struct {
	catalog interfaces.EncounterCatalog
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry    // sessionID -> entry
	players  map[string]string    // playerID -> sessionID, active members only
	closed   map[string]time.Time // sessionID -> time it became terminal
}

// NewRegistry creates an empty registry backed by catalog
func NewRegistry(catalog interfaces.EncounterCatalog) *Registry {
	return &Registry{
		catalog:  catalog,
		now:      time.Now,
		sessions: make(map[string]*entry),
		players:  make(map[string]string),
		closed:   make(map[string]time.Time),
	}
}

// SetClock replaces the time source
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// Create registers a new session led by leaderID and returns its ID
func (r *Registry) Create(dungeonID, leaderID string, capacity types.Capacity, settings types.Settings) (string, error) {
	if !types.IsValidPlayerID(leaderID) {
		return "", types.ErrInvalidPlayerID
	}

	dungeon, err := r.lookupDungeon(dungeonID)
	if err != nil {
		return "", err
	}

	capacity, err = resolveCapacity(capacity, dungeon)
	if err != nil {
		return "", err
	}

	settings, err = normalizeSettings(settings, dungeon)
	if err != nil {
		return "", err
	}

	now := r.now()
	session := &types.Session{
		ID:        uuid.New().String(),
		DungeonID: dungeon.ID,
		Members: []types.Member{{
			PlayerID: leaderID,
			Role:     types.RoleLeader,
			JoinedAt: now,
			Status:   types.MemberAlive,
		}},
		Capacity:       capacity,
		Status:         types.StatusRecruiting,
		Settings:       settings,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	reevaluateReadiness(session)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.players[leaderID]; busy {
		return "", ErrAlreadyInAnotherSession
	}
	r.sessions[session.ID] = &entry{session: session, dungeon: dungeon}
	r.players[leaderID] = session.ID

	return session.ID, nil
}

// Get returns a snapshot of a live session
func (r *Registry) Get(sessionID string) (*types.Session, error) {
	s, err := r.snapshot(sessionID)
	if errors.Is(err, ErrSessionClosed) {
		return nil, ErrNotFound
	}
	return s, err
}

// Remove drops a session. Removing a missing ID is a no-op.
func (r *Registry) Remove(sessionID string) {
	r.mu.RLock()
	e, exists := r.sessions[sessionID]
	r.mu.RUnlock()
	if !exists {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.removed {
		r.removeLocked(e)
	}
}

// ListActiveFor returns the non-terminal sessions playerID is an active member of
func (r *Registry) ListActiveFor(playerID string) []*types.Session {
	r.mu.RLock()
	sessionID, exists := r.players[playerID]
	r.mu.RUnlock()

	sessions := []*types.Session{}
	if !exists {
		return sessions
	}
	if s, err := r.Get(sessionID); err == nil && s.MemberIndex(playerID) >= 0 {
		sessions = append(sessions, s)
	}
	return sessions
}

// IDs snapshots the IDs of all live sessions without taking any session lock
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// PurgeClosed forgets tombstones of sessions that ended at or before cutoff.
// Returns the number purged.
func (r *Registry) PurgeClosed(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	purged := 0
	for id, closedAt := range r.closed {
		if !closedAt.After(cutoff) {
			delete(r.closed, id)
			purged++
		}
	}
	return purged
}

// GetStats returns registry statistics
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"active_sessions": len(r.sessions),
		"active_players":  len(r.players),
		"closed_sessions": len(r.closed),
	}
}

// acquire returns the entry for sessionID with its lock held. The caller must
// unlock it.
func (r *Registry) acquire(sessionID string) (*entry, error) {
	r.mu.RLock()
	e, exists := r.sessions[sessionID]
	_, closed := r.closed[sessionID]
	r.mu.RUnlock()

	if !exists {
		if closed {
			return nil, ErrSessionClosed
		}
		return nil, ErrNotFound
	}

	e.mu.Lock()
	if e.removed || e.session.Status.IsTerminal() {
		e.mu.Unlock()
		return nil, ErrSessionClosed
	}
	return e, nil
}

func (r *Registry) snapshot(sessionID string) (*types.Session, error) {
	e, err := r.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

// removeLocked drops e from the maps and records a tombstone. e.mu must be held.
func (r *Registry) removeLocked(e *entry) {
	id := e.session.ID

	r.mu.Lock()
	if r.sessions[id] == e {
		delete(r.sessions, id)
	}
	for _, m := range e.session.Members {
		if r.players[m.PlayerID] == id {
			delete(r.players, m.PlayerID)
		}
	}
	r.closed[id] = r.now()
	r.mu.Unlock()

	e.removed = true
}

// claimPlayer records playerID as an active member of sessionID, failing if
// the player already belongs to another live session. The session lock of
// sessionID must be held.
func (r *Registry) claimPlayer(playerID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, busy := r.players[playerID]; busy && current != sessionID {
		return ErrAlreadyInAnotherSession
	}
	r.players[playerID] = sessionID
	return nil
}

// releasePlayer undoes claimPlayer if playerID still points at sessionID
func (r *Registry) releasePlayer(playerID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.players[playerID] == sessionID {
		delete(r.players, playerID)
	}
}

// busyElsewhere reports whether playerID is an active member of a session
// other than sessionID
func (r *Registry) busyElsewhere(playerID, sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	current, busy := r.players[playerID]
	return busy && current != sessionID
}

func (r *Registry) lookupDungeon(dungeonID string) (*types.DungeonSpec, error) {
	dungeon, err := r.catalog.Lookup(dungeonID)
	if err != nil {
		if errors.Is(err, interfaces.ErrDungeonNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidDungeon, dungeonID)
		}
		return nil, fmt.Errorf("%w: catalog lookup: %v", interfaces.ErrDependency, err)
	}
	return dungeon, nil
}

// resolveCapacity fills zero bounds from the dungeon and rejects bounds
// outside the dungeon's party range
func resolveCapacity(requested types.Capacity, dungeon *types.DungeonSpec) (types.Capacity, error) {
	c := requested
	if c.Min == 0 {
		c.Min = dungeon.MinParty
	}
	if c.Max == 0 {
		c.Max = dungeon.MaxParty
	}

	if c.Min < dungeon.MinParty || c.Max > dungeon.MaxParty || c.Min > c.Max {
		return types.Capacity{}, fmt.Errorf("%w: requested %d-%d, dungeon allows %d-%d",
			ErrInvalidCapacity, c.Min, c.Max, dungeon.MinParty, dungeon.MaxParty)
	}
	return c, nil
}

// normalizeSettings validates settings and raises MinLevel to the dungeon floor
func normalizeSettings(settings types.Settings, dungeon *types.DungeonSpec) (types.Settings, error) {
	if settings.Visibility == "" {
		settings.Visibility = types.VisibilityPublic
	}
	if settings.DifficultyTier == 0 {
		settings.DifficultyTier = types.MinDifficultyTier
	}
	if settings.MinLevel < dungeon.MinLevel {
		settings.MinLevel = dungeon.MinLevel
	}
	if err := settings.Validate(); err != nil {
		return types.Settings{}, err
	}
	if settings.MinLevel > dungeon.MaxLevel {
		return types.Settings{}, types.ErrInvalidMinLevel
	}
	return settings, nil
}
