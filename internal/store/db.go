package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Sentinel errors for store lookups and shape violations.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidChannel = errors.New("invalid channel")
	ErrInvalidMessage = errors.New("invalid message")
)

// DB wraps a SQLite database connection for the app-owned sigil.db.
// The current-channel cursor is session state, never persisted; it is
// mutated only from the foreground context.
type DB struct {
	*sql.DB

	curMu      sync.RWMutex
	currentSid string
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
// A failure here is fatal to the process: without the store there is nothing
// to reconcile against.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db}, nil
}

// SetCurrentChannel moves the foregrounded-conversation cursor. An empty
// sid clears it (no channel foregrounded).
func (db *DB) SetCurrentChannel(sid string) {
	db.curMu.Lock()
	db.currentSid = sid
	db.curMu.Unlock()
}

// CurrentChannelSid returns the sid of the foregrounded channel, or "" when
// none is selected.
func (db *DB) CurrentChannelSid() string {
	db.curMu.RLock()
	defer db.curMu.RUnlock()
	return db.currentSid
}
