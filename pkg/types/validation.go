package types

import (
	"regexp"
)

// Difficulty tiers accepted by Settings.Validate
const (
	MinDifficultyTier = 1
	MaxDifficultyTier = 4
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate checks settings supplied when forming a session
func (s *Settings) Validate() error {
	if s.DifficultyTier < MinDifficultyTier || s.DifficultyTier > MaxDifficultyTier {
		return ErrInvalidDifficultyTier
	}
	if s.MinLevel < 1 {
		return ErrInvalidMinLevel
	}
	switch s.Visibility {
	case VisibilityPublic, VisibilityPrivate:
	default:
		return ErrInvalidVisibility
	}
	return nil
}

// Validate checks a catalog entry for internal consistency
func (d *DungeonSpec) Validate() error {
	if !IsValidID(d.ID) {
		return ErrInvalidDungeonID
	}
	if d.MinLevel < 1 || d.MinLevel > d.MaxLevel {
		return ErrInvalidLevelRange
	}
	if d.MinParty < 1 || d.MinParty > d.MaxParty {
		return ErrInvalidPartyRange
	}
	if d.Boss.Resource <= 0 || d.Boss.Phases < 1 {
		return ErrInvalidBoss
	}
	if d.Duration <= 0 {
		return ErrInvalidDuration
	}
	return nil
}

// IsValidPlayerID checks if a player ID meets format requirements
func IsValidPlayerID(playerID string) bool {
	return IsValidID(playerID)
}

// IsValidID checks the shared 1-64 character identifier format
func IsValidID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return idRegex.MatchString(id)
}
