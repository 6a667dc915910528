package types

import "errors"

// ARCHITECTURAL DISCOVERY: Validation errors live next to the types they guard
// so the catalog loader, the registry and the API report identical messages
var (
	ErrInvalidPlayerID       = errors.New("player ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidDifficultyTier = errors.New("difficulty tier must be between 1 and 4")
	ErrInvalidMinLevel       = errors.New("minimum level must be positive")
	ErrInvalidVisibility     = errors.New("visibility must be 'public' or 'private'")
	ErrInvalidDungeonID      = errors.New("dungeon ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidLevelRange     = errors.New("dungeon level range must satisfy 1 <= min <= max")
	ErrInvalidPartyRange     = errors.New("dungeon party range must satisfy 1 <= min <= max")
	ErrInvalidBoss           = errors.New("boss must have a positive resource pool and at least one phase")
	ErrInvalidDuration       = errors.New("dungeon duration must be positive")
)
