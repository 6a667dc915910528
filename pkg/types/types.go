package types

import (
	"time"
)

// SessionStatus is the lifecycle state of a raid session
type SessionStatus string

// ARCHITECTURAL DISCOVERY: Status values double as wire values for the API and
// the raid_history table, so they are never renamed once released
const (
	StatusRecruiting SessionStatus = "recruiting"
	StatusReady      SessionStatus = "ready"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
	StatusAbandoned  SessionStatus = "abandoned"
)

// IsTerminal reports whether no further transition is possible from s
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAbandoned:
		return true
	default:
		return false
	}
}

// Role of a member inside a session
type Role string

const (
	RoleLeader Role = "leader"
	RoleMember Role = "member"
)

// MemberStatus tracks a member's state during an encounter
type MemberStatus string

const (
	MemberAlive  MemberStatus = "alive"
	MemberDowned MemberStatus = "downed"
	MemberLeft   MemberStatus = "left"
)

// Visibility controls whether a session is advertised to other players
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Event types published on the session feed
const (
	EventSessionFormed     = "session_formed"
	EventMemberJoined      = "member_joined"
	EventMemberLeft        = "member_left"
	EventApplicantQueued   = "applicant_queued"
	EventApplicantRejected = "applicant_rejected"
	EventLeaderChanged     = "leader_changed"
	EventStatusChanged     = "status_changed"
	EventEncounterResolved = "encounter_resolved"
	EventSessionAbandoned  = "session_abandoned"
)

// Contribution is the accumulated effort of a member during an encounter
type Contribution struct {
	Damage  float64 `json:"damage"`
	Healing float64 `json:"healing"`
	Utility float64 `json:"utility"`
}

// Total returns the summed contribution used to weight rewards
func (c Contribution) Total() float64 {
	return c.Damage + c.Healing + c.Utility
}

// Member is one participant of a session
type Member struct {
	PlayerID     string       `json:"player_id"`
	Role         Role         `json:"role"`
	JoinedAt     time.Time    `json:"joined_at"`
	Status       MemberStatus `json:"status"`
	Contribution Contribution `json:"contribution"`
}

// Applicant is a player waiting for leader approval
type Applicant struct {
	PlayerID  string    `json:"player_id"`
	Level     int       `json:"level"`
	AppliedAt time.Time `json:"applied_at"`
}

// Capacity bounds the roster size. Zero values mean "use the dungeon bounds".
type Capacity struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Settings are fixed when the session is formed
type Settings struct {
	Visibility       Visibility `json:"visibility"`
	RequiresApproval bool       `json:"requires_approval"`
	MinLevel         int        `json:"min_level"`
	DifficultyTier   int        `json:"difficulty_tier"`
}

// Progress is only meaningful once the session is in progress
type Progress struct {
	CurrentPhase          int           `json:"current_phase"`
	BossResourceRemaining float64       `json:"boss_resource_remaining"`
	PlayersAlive          int           `json:"players_alive"`
	ElapsedTime           time.Duration `json:"elapsed_time"`
}

// Session is one forming or running raid
// FUNCTIONAL DISCOVERY: ID, DungeonID, Capacity and Settings are immutable after
// creation; everything else is mutated only inside the per-session critical section
type Session struct {
	ID             string        `json:"id"`
	DungeonID      string        `json:"dungeon_id"`
	Members        []Member      `json:"members"`
	Applicants     []Applicant   `json:"applicants,omitempty"`
	Capacity       Capacity      `json:"capacity"`
	Status         SessionStatus `json:"status"`
	Settings       Settings      `json:"settings"`
	Progress       Progress      `json:"progress"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

// Clone returns a deep copy that shares no slices or pointers with s
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Members = append([]Member(nil), s.Members...)
	if s.Applicants != nil {
		cp.Applicants = append([]Applicant(nil), s.Applicants...)
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		cp.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// MemberIndex returns the roster position of playerID or -1
func (s *Session) MemberIndex(playerID string) int {
	for i := range s.Members {
		if s.Members[i].PlayerID == playerID {
			return i
		}
	}
	return -1
}

// ApplicantIndex returns the queue position of playerID or -1
func (s *Session) ApplicantIndex(playerID string) int {
	for i := range s.Applicants {
		if s.Applicants[i].PlayerID == playerID {
			return i
		}
	}
	return -1
}

// LeaderID returns the current leader, or "" for an empty roster
func (s *Session) LeaderID() string {
	for _, m := range s.Members {
		if m.Role == RoleLeader {
			return m.PlayerID
		}
	}
	return ""
}

// AliveCount returns the number of members still standing
func (s *Session) AliveCount() int {
	n := 0
	for _, m := range s.Members {
		if m.Status == MemberAlive {
			n++
		}
	}
	return n
}

// PlayerRecord is the Player Store's view of a player
type PlayerRecord struct {
	ID        string    `json:"id"`
	Level     int       `json:"level"`
	Attack    int       `json:"attack"`
	Defense   int       `json:"defense"`
	Support   int       `json:"support"`
	Gold      int64     `json:"gold"`
	XP        int64     `json:"xp"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Strength is the player's contribution to aggregate party strength
func (p *PlayerRecord) Strength() float64 {
	return float64(p.Attack + p.Defense + p.Support + p.Level)
}

// BossSpec describes the boss of a dungeon
type BossSpec struct {
	Name     string  `json:"name"`
	Resource float64 `json:"resource"`
	Phases   int     `json:"phases"`
}

// RewardBand is the reward pool for one difficulty tier
type RewardBand struct {
	Tier int   `json:"tier"`
	Gold int64 `json:"gold"`
	XP   int64 `json:"xp"`
}

// DungeonSpec is one Encounter Catalog entry
type DungeonSpec struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	MinLevel int           `json:"min_level"`
	MaxLevel int           `json:"max_level"`
	MinParty int           `json:"min_party"`
	MaxParty int           `json:"max_party"`
	Duration time.Duration `json:"duration"`
	Boss     BossSpec      `json:"boss"`
	Rewards  []RewardBand  `json:"rewards"`
}

// RewardFor returns the band for tier, falling back to the highest band below it
func (d *DungeonSpec) RewardFor(tier int) RewardBand {
	var best RewardBand
	found := false
	for _, band := range d.Rewards {
		if band.Tier == tier {
			return band
		}
		if band.Tier < tier && (!found || band.Tier > best.Tier) {
			best = band
			found = true
		}
	}
	return best
}

// RewardShare is one member's cut of an encounter's rewards
type RewardShare struct {
	PlayerID string  `json:"player_id"`
	Share    float64 `json:"share"`
	Gold     int64   `json:"gold"`
	XP       int64   `json:"xp"`
}

// Outcome is the terminal result of an encounter
type Outcome struct {
	SessionID             string        `json:"session_id"`
	Status                SessionStatus `json:"status"`
	PhasesFought          int           `json:"phases_fought"`
	BossResourceRemaining float64       `json:"boss_resource_remaining"`
	PlayersAlive          int           `json:"players_alive"`
	Rewards               []RewardShare `json:"rewards,omitempty"`
	Seed                  int64         `json:"seed"`
}

// Event is published on the live session feed after every committed transition
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	PlayerID  string    `json:"player_id,omitempty"`
	Session   *Session  `json:"session,omitempty"`
	Outcome   *Outcome  `json:"outcome,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
