package session

import "errors"

// Session coordination error types
var (
	// Creation-time caller mistakes
	ErrInvalidDungeon  = errors.New("unknown dungeon")
	ErrInvalidCapacity = errors.New("requested capacity is outside the dungeon's party bounds")

	// Membership-time, user-correctable
	ErrSessionFull             = errors.New("session is full")
	ErrAlreadyJoined           = errors.New("player already joined this session")
	ErrAlreadyApplied          = errors.New("player already applied to this session")
	ErrAlreadyInAnotherSession = errors.New("player is already in another active session")
	ErrLevelTooLow             = errors.New("player level is below the session minimum")
	ErrLevelTooHigh            = errors.New("player level is above the dungeon maximum")
	ErrNotMember               = errors.New("player is not a member of this session")
	ErrNotApplicant            = errors.New("player has not applied to this session")
	ErrNotLeader               = errors.New("only the session leader may do this")

	// Lifecycle ordering violations
	ErrNotReady      = errors.New("session is not ready to start")
	ErrInvalidState  = errors.New("operation not allowed in the current session state")
	ErrSessionClosed = errors.New("session has already ended")

	ErrNotFound = errors.New("session not found")
)
