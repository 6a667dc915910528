package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"raidboard/internal/encounter"
	"raidboard/pkg/interfaces"
	"raidboard/pkg/types"
)

// maxStartAttempts bounds how often StartSession re-fetches player records
// when the roster changes between the prefetch and the critical section
const maxStartAttempts = 3

// Manager is the lifecycle controller and implements interfaces.SessionCoordinator
// ARCHITECTURAL DISCOVERY: Every mutating call is one critical section on the
// target session: acquire, check state, mutate, release. Collaborator I/O
// happens before the lock is taken; events and history are emitted after it
// is released.
type Manager struct {
	registry  *Registry
	players   interfaces.PlayerStore
	resolver  *encounter.Resolver
	publisher interfaces.EventPublisher
	recorder  interfaces.HistoryRecorder
}

// NewManager creates a new session manager
func NewManager(registry *Registry, players interfaces.PlayerStore, resolver *encounter.Resolver) *Manager {
	return &Manager{
		registry: registry,
		players:  players,
		resolver: resolver,
	}
}

// SetPublisher wires the live event feed
func (m *Manager) SetPublisher(publisher interfaces.EventPublisher) {
	m.publisher = publisher
}

// SetRecorder wires the raid history sink
func (m *Manager) SetRecorder(recorder interfaces.HistoryRecorder) {
	m.recorder = recorder
}

// Registry exposes the underlying registry
func (m *Manager) Registry() *Registry {
	return m.registry
}

// FormSession creates a new session with leaderID as its first member
func (m *Manager) FormSession(ctx context.Context, dungeonID, leaderID string, capacity types.Capacity, settings types.Settings) (string, error) {
	if !types.IsValidPlayerID(leaderID) {
		return "", types.ErrInvalidPlayerID
	}

	leader, err := m.fetchPlayer(ctx, leaderID)
	if err != nil {
		return "", err
	}

	dungeon, err := m.registry.lookupDungeon(dungeonID)
	if err != nil {
		return "", err
	}
	effective, err := normalizeSettings(settings, dungeon)
	if err != nil {
		return "", err
	}
	probe := &types.Session{Settings: effective}
	if err := checkLevel(probe, leader.Level, dungeon.MaxLevel); err != nil {
		return "", err
	}

	sessionID, err := m.registry.Create(dungeonID, leaderID, capacity, settings)
	if err != nil {
		return "", err
	}

	if s, err := m.registry.Get(sessionID); err == nil {
		log.Printf("Formed session: id=%s dungeon=%s leader=%s capacity=%d-%d status=%s",
			s.ID, s.DungeonID, leaderID, s.Capacity.Min, s.Capacity.Max, s.Status)
		m.publish(types.EventSessionFormed, s, leaderID, nil)
	}
	return sessionID, nil
}

// JoinSession adds playerID to a forming session, or queues it for approval
func (m *Manager) JoinSession(ctx context.Context, sessionID, playerID string) (*types.Session, error) {
	if !types.IsValidPlayerID(playerID) {
		return nil, types.ErrInvalidPlayerID
	}

	player, err := m.fetchPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}

	var (
		snapshot  *types.Session
		eventType string
		changed   bool
	)
	err = m.withSession(sessionID, func(e *entry) error {
		s := e.session
		if err := checkForming(s); err != nil {
			return err
		}
		now := m.registry.now()

		if s.Settings.RequiresApproval {
			if err := queueApplicant(s, playerID, player.Level, e.dungeon.MaxLevel, now); err != nil {
				return err
			}
			if m.registry.busyElsewhere(playerID, s.ID) {
				_, _ = dropApplicant(s, playerID)
				return ErrAlreadyInAnotherSession
			}
			eventType = types.EventApplicantQueued
			snapshot = s.Clone()
			return nil
		}

		if err := checkAdmission(s, playerID, player.Level, e.dungeon.MaxLevel); err != nil {
			return err
		}
		if err := m.registry.claimPlayer(playerID, s.ID); err != nil {
			return err
		}
		before := s.Status
		addMember(s, playerID, now)
		changed = s.Status != before
		eventType = types.EventMemberJoined
		snapshot = s.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Player %s: session=%s player=%s members=%d status=%s",
		eventType, sessionID, playerID, len(snapshot.Members), snapshot.Status)
	m.publish(eventType, snapshot, playerID, nil)
	if changed {
		m.publish(types.EventStatusChanged, snapshot, "", nil)
	}
	return snapshot, nil
}

// LeaveSession removes playerID from a forming session. A queued applicant
// withdraws instead. When the last member leaves the session is abandoned.
func (m *Manager) LeaveSession(ctx context.Context, sessionID, playerID string) (*types.Session, error) {
	var (
		snapshot  *types.Session
		newLeader string
		changed   bool
		closed    bool
		withdrew  bool
	)
	err := m.withSession(sessionID, func(e *entry) error {
		s := e.session
		if err := checkForming(s); err != nil {
			return err
		}

		if s.MemberIndex(playerID) < 0 {
			if _, err := dropApplicant(s, playerID); err != nil {
				return ErrNotMember
			}
			withdrew = true
			snapshot = s.Clone()
			return nil
		}

		now := m.registry.now()
		before := s.Status
		leader, err := removeMember(s, playerID, now)
		if err != nil {
			return err
		}
		m.registry.releasePlayer(playerID, s.ID)
		newLeader = leader

		if len(s.Members) == 0 {
			snapshot = m.finishLocked(e, types.StatusAbandoned)
			closed = true
			return nil
		}
		changed = s.Status != before
		snapshot = s.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if withdrew {
		log.Printf("Applicant withdrew: session=%s player=%s", sessionID, playerID)
		m.publish(types.EventApplicantRejected, snapshot, playerID, nil)
		return snapshot, nil
	}

	log.Printf("Player left: session=%s player=%s members=%d status=%s",
		sessionID, playerID, len(snapshot.Members), snapshot.Status)
	m.publish(types.EventMemberLeft, snapshot, playerID, nil)
	if closed {
		m.closeOut(ctx, snapshot, nil)
		return snapshot, nil
	}
	if newLeader != "" {
		m.publish(types.EventLeaderChanged, snapshot, newLeader, nil)
	}
	if changed {
		m.publish(types.EventStatusChanged, snapshot, "", nil)
	}
	return snapshot, nil
}

// StartSession moves a ready session into progress and resolves the encounter
func (m *Manager) StartSession(ctx context.Context, sessionID, leaderID string) (*types.Outcome, error) {
	seed, err := m.resolver.NewSeed()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrDependency, err)
	}

	records := make(map[string]*types.PlayerRecord)
	var (
		final   *types.Session
		outcome *types.Outcome
	)

	for attempt := 0; attempt < maxStartAttempts && final == nil; attempt++ {
		// Fetch records for the current roster before taking the lock
		snapshot, err := m.registry.snapshot(sessionID)
		if err != nil {
			return nil, err
		}
		for _, member := range snapshot.Members {
			if _, ok := records[member.PlayerID]; ok {
				continue
			}
			record, err := m.fetchPlayer(ctx, member.PlayerID)
			if err != nil {
				return nil, err
			}
			records[member.PlayerID] = record
		}

		err = m.withSession(sessionID, func(e *entry) error {
			s := e.session
			if s.Status != types.StatusReady {
				return ErrNotReady
			}
			if err := checkLeader(s, leaderID); err != nil {
				return err
			}
			for _, member := range s.Members {
				if _, ok := records[member.PlayerID]; !ok {
					// Roster changed since the prefetch; retry
					return nil
				}
			}

			startedAt := m.registry.now()
			s.Status = types.StatusInProgress
			s.StartedAt = &startedAt
			s.Applicants = nil

			outcome = m.resolver.Resolve(s, e.dungeon, records, seed)
			final = m.finishLocked(e, s.Status)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if final == nil {
		return nil, fmt.Errorf("%w: roster kept changing during start", ErrInvalidState)
	}

	log.Printf("Session finished: id=%s status=%s seed=%d", final.ID, final.Status, seed)
	m.publish(types.EventEncounterResolved, final, leaderID, outcome)
	m.closeOut(ctx, final, outcome)
	return outcome, nil
}

// CancelSession abandons a forming session on the leader's request
func (m *Manager) CancelSession(ctx context.Context, sessionID, leaderID string) (*types.Session, error) {
	var final *types.Session
	err := m.withSession(sessionID, func(e *entry) error {
		if err := checkForming(e.session); err != nil {
			return err
		}
		if err := checkLeader(e.session, leaderID); err != nil {
			return err
		}
		final = m.finishLocked(e, types.StatusAbandoned)
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Session cancelled: id=%s leader=%s", sessionID, leaderID)
	m.closeOut(ctx, final, nil)
	return final, nil
}

// TransferLeadership hands the leader role from fromID to toID
func (m *Manager) TransferLeadership(ctx context.Context, sessionID, fromID, toID string) (*types.Session, error) {
	var snapshot *types.Session
	err := m.withSession(sessionID, func(e *entry) error {
		if err := checkForming(e.session); err != nil {
			return err
		}
		if err := transferLeadership(e.session, fromID, toID); err != nil {
			return err
		}
		snapshot = e.session.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Leadership transferred: session=%s from=%s to=%s", sessionID, fromID, toID)
	m.publish(types.EventLeaderChanged, snapshot, toID, nil)
	return snapshot, nil
}

// ApproveApplicant admits a queued applicant under the normal join rules,
// gated on the player's current level rather than the level they applied with
func (m *Manager) ApproveApplicant(ctx context.Context, sessionID, leaderID, playerID string) (*types.Session, error) {
	player, err := m.fetchPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}

	var (
		snapshot *types.Session
		changed  bool
	)
	err = m.withSession(sessionID, func(e *entry) error {
		s := e.session
		if err := checkForming(s); err != nil {
			return err
		}
		if err := checkLeader(s, leaderID); err != nil {
			return err
		}
		if s.ApplicantIndex(playerID) < 0 {
			return ErrNotApplicant
		}
		if err := checkAdmission(s, playerID, player.Level, e.dungeon.MaxLevel); err != nil {
			return err
		}
		if err := m.registry.claimPlayer(playerID, s.ID); err != nil {
			return err
		}

		_, _ = dropApplicant(s, playerID)
		before := s.Status
		addMember(s, playerID, m.registry.now())
		changed = s.Status != before
		snapshot = s.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Applicant approved: session=%s player=%s members=%d", sessionID, playerID, len(snapshot.Members))
	m.publish(types.EventMemberJoined, snapshot, playerID, nil)
	if changed {
		m.publish(types.EventStatusChanged, snapshot, "", nil)
	}
	return snapshot, nil
}

// RejectApplicant drops a queued applicant
func (m *Manager) RejectApplicant(ctx context.Context, sessionID, leaderID, playerID string) (*types.Session, error) {
	var snapshot *types.Session
	err := m.withSession(sessionID, func(e *entry) error {
		if err := checkForming(e.session); err != nil {
			return err
		}
		if err := checkLeader(e.session, leaderID); err != nil {
			return err
		}
		if _, err := dropApplicant(e.session, playerID); err != nil {
			return err
		}
		snapshot = e.session.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.publish(types.EventApplicantRejected, snapshot, playerID, nil)
	return snapshot, nil
}

// Expire abandons a forming session whose creation is older than deadline and
// whose last membership change is older than idle. It reports whether the
// session was abandoned; missing or already-closed sessions are a no-op.
func (m *Manager) Expire(ctx context.Context, sessionID string, deadline, idle time.Duration) (bool, error) {
	var final *types.Session
	err := m.withSession(sessionID, func(e *entry) error {
		s := e.session
		if s.Status != types.StatusRecruiting && s.Status != types.StatusReady {
			return nil
		}
		now := m.registry.now()
		if now.Sub(s.CreatedAt) < deadline || now.Sub(s.LastActivityAt) < idle {
			return nil
		}
		final = m.finishLocked(e, types.StatusAbandoned)
		return nil
	})
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrSessionClosed) {
		return false, nil
	}
	if err != nil || final == nil {
		return false, err
	}

	log.Printf("Session expired: id=%s dungeon=%s members=%d", final.ID, final.DungeonID, len(final.Members))
	m.closeOut(ctx, final, nil)
	return true, nil
}

// GetSession returns a snapshot of a live session
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	return m.registry.Get(sessionID)
}

// ListActiveFor returns the live sessions playerID belongs to
func (m *Manager) ListActiveFor(ctx context.Context, playerID string) ([]*types.Session, error) {
	return m.registry.ListActiveFor(playerID), nil
}

// withSession runs fn inside the critical section of sessionID
func (m *Manager) withSession(sessionID string, fn func(e *entry) error) error {
	e, err := m.registry.acquire(sessionID)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	return fn(e)
}

// finishLocked moves e into a terminal status, removes it from the registry
// and returns the final snapshot. e.mu must be held.
func (m *Manager) finishLocked(e *entry, status types.SessionStatus) *types.Session {
	completedAt := m.registry.now()
	e.session.Status = status
	e.session.CompletedAt = &completedAt
	final := e.session.Clone()
	m.registry.removeLocked(e)
	return final
}

// closeOut emits the terminal event and stores the session in history
func (m *Manager) closeOut(ctx context.Context, final *types.Session, outcome *types.Outcome) {
	if final.Status == types.StatusAbandoned {
		m.publish(types.EventSessionAbandoned, final, "", nil)
	}
	if m.recorder == nil {
		return
	}
	// The session is already out of the registry, so the write must not die
	// with the caller's request
	if err := m.recorder.RecordOutcome(context.WithoutCancel(ctx), final, outcome); err != nil {
		log.Printf("Failed to record session history: id=%s err=%v", final.ID, err)
	}
}

func (m *Manager) publish(eventType string, s *types.Session, playerID string, outcome *types.Outcome) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(&types.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		SessionID: s.ID,
		PlayerID:  playerID,
		Session:   s,
		Outcome:   outcome,
		Timestamp: time.Now(),
	})
}

func (m *Manager) fetchPlayer(ctx context.Context, playerID string) (*types.PlayerRecord, error) {
	record, err := m.players.GetPlayer(ctx, playerID)
	if err != nil {
		if errors.Is(err, interfaces.ErrPlayerNotFound) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrPlayerNotFound, playerID)
		}
		return nil, fmt.Errorf("%w: player store: %v", interfaces.ErrDependency, err)
	}
	return record, nil
}
