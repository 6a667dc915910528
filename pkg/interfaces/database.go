package interfaces

import (
	"context"
	"raidboard/pkg/types"
)

// PlayerStore is the external collaborator holding player records
// ARCHITECTURAL DISCOVERY: The coordinator only reads through this interface;
// reward write-back goes through HistoryRecorder so the core stays read-only
type PlayerStore interface {
	// GetPlayer returns ErrPlayerNotFound for unknown IDs
	GetPlayer(ctx context.Context, playerID string) (*types.PlayerRecord, error)

	// PutPlayer inserts or replaces a player record
	PutPlayer(ctx context.Context, player *types.PlayerRecord) error
}

// HistoryRecorder persists terminal sessions and applies their rewards
type HistoryRecorder interface {
	// RecordOutcome stores the final snapshot of a session. outcome is nil for
	// sessions that ended without an encounter (cancelled, reaped, emptied).
	RecordOutcome(ctx context.Context, session *types.Session, outcome *types.Outcome) error
}

// DatabaseManager handles all persistence operations
// FUNCTIONAL DISCOVERY: Single interface for the SQLite-backed collaborators
// lets the application wire one manager into every consumer
type DatabaseManager interface {
	PlayerStore
	HistoryRecorder

	// ListHistory returns the most recent terminal sessions a player took part in
	ListHistory(ctx context.Context, playerID string, limit int) ([]*HistoryEntry, error)

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources
	Close() error
}

// HistoryEntry is one row of raid history
type HistoryEntry struct {
	Session *types.Session `json:"session"`
	Outcome *types.Outcome `json:"outcome,omitempty"`
}
