package interfaces

import (
	"context"
	"raidboard/pkg/types"
)

// SessionReader exposes read-only session snapshots
type SessionReader interface {
	// GetSession returns a snapshot of a live session
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
}

// SessionCoordinator is the entry point used by command handlers
// ARCHITECTURAL DISCOVERY: Every mutating call is linearizable per session;
// callers never receive a reference they can mutate
type SessionCoordinator interface {
	SessionReader

	// FormSession creates a session led by leaderID and returns its ID
	FormSession(ctx context.Context, dungeonID, leaderID string, capacity types.Capacity, settings types.Settings) (string, error)

	// JoinSession adds playerID, or queues it when the session requires approval
	JoinSession(ctx context.Context, sessionID, playerID string) (*types.Session, error)

	// LeaveSession removes playerID from a forming session
	LeaveSession(ctx context.Context, sessionID, playerID string) (*types.Session, error)

	// StartSession runs the encounter; only the leader may start
	StartSession(ctx context.Context, sessionID, leaderID string) (*types.Outcome, error)

	// CancelSession abandons a forming session; only the leader may cancel
	CancelSession(ctx context.Context, sessionID, leaderID string) (*types.Session, error)

	// TransferLeadership hands the leader role from fromID to toID
	TransferLeadership(ctx context.Context, sessionID, fromID, toID string) (*types.Session, error)

	// ApproveApplicant admits a queued applicant
	ApproveApplicant(ctx context.Context, sessionID, leaderID, playerID string) (*types.Session, error)

	// RejectApplicant drops a queued applicant
	RejectApplicant(ctx context.Context, sessionID, leaderID, playerID string) (*types.Session, error)

	// ListActiveFor returns the live sessions playerID is a member of
	ListActiveFor(ctx context.Context, playerID string) ([]*types.Session, error)
}
