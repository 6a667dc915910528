package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"
	dbconfig "raidboard/pkg/database"
	"raidboard/pkg/interfaces"
	"raidboard/pkg/types"
)

// ErrClosed is returned by writes issued after Close
var ErrClosed = errors.New("database manager is closed")

// Manager implements interfaces.DatabaseManager on SQLite
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	retryDelay   time.Duration
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, migrates and verifies the schema, and starts
// the writer goroutine
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Schema drift fails startup, not the first history write
	if err := dbconfig.Prepare(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare database: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   5 * time.Second,
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: Retry exactly once; every write runs in its own
			// transaction so a failed attempt leaves nothing behind
			err := op.operation(m.db)
			if err != nil {
				log.Printf("Database write failed, retrying in %v: %v", m.retryDelay, err)
				time.Sleep(m.retryDelay)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}
}

// GetPlayer returns a player record or interfaces.ErrPlayerNotFound
func (m *Manager) GetPlayer(ctx context.Context, playerID string) (*types.PlayerRecord, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	row := m.db.QueryRowContext(ctx, `
		SELECT id, level, attack, defense, support, gold, xp, updated_at
		FROM players
		WHERE id = ?
	`, playerID)

	var p types.PlayerRecord
	err := row.Scan(&p.ID, &p.Level, &p.Attack, &p.Defense, &p.Support, &p.Gold, &p.XP, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to query player: %w", err)
	}
	return &p, nil
}

// PutPlayer inserts or replaces a player's level and stats. Gold and XP are
// only set on insert; afterwards they change through RecordOutcome.
func (m *Manager) PutPlayer(ctx context.Context, player *types.PlayerRecord) error {
	if !types.IsValidPlayerID(player.ID) {
		return types.ErrInvalidPlayerID
	}
	if player.Level < 1 || player.Attack < 0 || player.Defense < 0 || player.Support < 0 {
		return fmt.Errorf("invalid player stats for %s", player.ID)
	}

	now := time.Now().UTC()
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO players (id, level, attack, defense, support, gold, xp, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				level = excluded.level,
				attack = excluded.attack,
				defense = excluded.defense,
				support = excluded.support,
				updated_at = excluded.updated_at
		`, player.ID, player.Level, player.Attack, player.Defense, player.Support, player.Gold, player.XP, now)
		if err != nil {
			return fmt.Errorf("failed to upsert player: %w", err)
		}
		return nil
	})
}

// RecordOutcome stores a terminal session and credits its rewards. Recording
// the same session twice is a no-op, so rewards are applied at most once.
func (m *Manager) RecordOutcome(ctx context.Context, session *types.Session, outcome *types.Outcome) error {
	if !session.Status.IsTerminal() {
		return fmt.Errorf("session %s is not terminal: %s", session.ID, session.Status)
	}
	// FUNCTIONAL DISCOVERY: A terminal session exists nowhere else once it has
	// left the registry; a hung-up caller must not cost the party its rewards
	ctx = context.WithoutCancel(ctx)

	// TECHNICAL DISCOVERY: JSON snapshots keep the history schema independent of
	// the roster and contribution structure
	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	var (
		outcomeJSON sql.NullString
		seed        sql.NullInt64
	)
	if outcome != nil {
		data, err := json.Marshal(outcome)
		if err != nil {
			return fmt.Errorf("failed to marshal outcome: %w", err)
		}
		outcomeJSON = sql.NullString{String: string(data), Valid: true}
		seed = sql.NullInt64{Int64: outcome.Seed, Valid: true}
	}

	completedAt := time.Now().UTC()
	if session.CompletedAt != nil {
		completedAt = session.CompletedAt.UTC()
	}

	rewards := make(map[string]types.RewardShare)
	if outcome != nil {
		for _, share := range outcome.Rewards {
			rewards[share.PlayerID] = share
		}
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }() // TECHNICAL: Always rollback unless commit succeeds

		res, err := tx.ExecContext(ctx, `
			INSERT INTO raid_history (session_id, dungeon_id, status, seed, session_json, outcome_json, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO NOTHING
		`, session.ID, session.DungeonID, string(session.Status), seed, string(sessionJSON), outcomeJSON, completedAt)
		if err != nil {
			return fmt.Errorf("failed to insert history: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil
		}

		for _, member := range session.Members {
			share := rewards[member.PlayerID]
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO raid_participants (session_id, player_id, gold, xp)
				VALUES (?, ?, ?, ?)
			`, session.ID, member.PlayerID, share.Gold, share.XP); err != nil {
				return fmt.Errorf("failed to insert participant %s: %w", member.PlayerID, err)
			}
		}

		for _, share := range rewards {
			if _, err := tx.ExecContext(ctx, `
				UPDATE players SET gold = gold + ?, xp = xp + ?, updated_at = ?
				WHERE id = ?
			`, share.Gold, share.XP, completedAt, share.PlayerID); err != nil {
				return fmt.Errorf("failed to apply rewards to %s: %w", share.PlayerID, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit history: %w", err)
		}
		return nil
	})
}

// ListHistory returns the most recent terminal sessions playerID took part in
func (m *Manager) ListHistory(ctx context.Context, playerID string, limit int) ([]*interfaces.HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT h.session_json, h.outcome_json
		FROM raid_history h
		JOIN raid_participants p ON p.session_id = h.session_id
		WHERE p.player_id = ?
		ORDER BY h.completed_at DESC
		LIMIT ?
	`, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []*interfaces.HistoryEntry{}
	for rows.Next() {
		var (
			sessionJSON string
			outcomeJSON sql.NullString
		)
		if err := rows.Scan(&sessionJSON, &outcomeJSON); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}

		entry := &interfaces.HistoryEntry{Session: &types.Session{}}
		if err := json.Unmarshal([]byte(sessionJSON), entry.Session); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session: %w", err)
		}
		if outcomeJSON.Valid {
			entry.Outcome = &types.Outcome{}
			if err := json.Unmarshal([]byte(outcomeJSON.String), entry.Outcome); err != nil {
				return nil, fmt.Errorf("failed to unmarshal outcome: %w", err)
			}
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}
	return entries, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM players").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	// ARCHITECTURAL DISCOVERY: Graceful shutdown requires careful goroutine coordination
	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
