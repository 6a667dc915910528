package database

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config holds the SQLite store settings for players and raid history
type Config struct {
	DatabasePath    string        `json:"database_path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	BusyTimeout     time.Duration `json:"busy_timeout"`
	CacheSizeKB     int           `json:"cache_size_kb"`
}

// DefaultConfig returns production-ready database configuration
// FUNCTIONAL DISCOVERY: History writes are bursty (one per finished raid) while
// player reads happen on every join, so a small pool under WAL is enough
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/raidboard.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		BusyTimeout:     5 * time.Second,
		CacheSizeKB:     64000,
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 || c.ConnMaxIdleTime <= 0 {
		return errors.New("connection lifetime and idle time must be greater than 0")
	}
	if c.BusyTimeout < time.Millisecond {
		return errors.New("busy timeout must be at least 1ms")
	}
	if c.CacheSizeKB <= 0 {
		return errors.New("cache size must be greater than 0")
	}
	return nil
}

// DSN returns the go-sqlite3 connection string for the store
// TECHNICAL DISCOVERY: PRAGMAs run through db.Exec reach a single pooled
// connection; settings every connection needs go in the DSN, which go-sqlite3
// applies on each open
func (c *Config) DSN() string {
	params := url.Values{}
	params.Set("_busy_timeout", strconv.FormatInt(c.BusyTimeout.Milliseconds(), 10))
	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")
	params.Set("_foreign_keys", "on")
	params.Set("_cache_size", strconv.Itoa(-c.CacheSizeKB))
	return c.DatabasePath + "?" + params.Encode()
}

// Open opens the store with the pool limits applied
func Open(c *Config) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", c.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(c.MaxConnections)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)
	db.SetConnMaxIdleTime(c.ConnMaxIdleTime)
	return db, nil
}

// ApplySQLiteOptimizations sets the database-wide pragmas. WAL persists in the
// file once set; temp_store only matters for the history ordering sorts.
func ApplySQLiteOptimizations(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA temp_store = MEMORY;`); err != nil {
		return fmt.Errorf("apply pragmas: %w", err)
	}
	return nil
}
