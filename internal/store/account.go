package store

import (
	"database/sql"
	"time"
)

// EnsureAccount creates the account row for identity if it does not exist.
// Login calls this once when the application context is built.
func (db *DB) EnsureAccount(identity string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO accounts (identity, created_at)
		VALUES (?, ?)
		ON CONFLICT(identity) DO NOTHING`,
		identity, now)
	return err
}

// GetAccount returns the account for identity.
func (db *DB) GetAccount(identity string) (*Account, error) {
	var a Account
	err := db.QueryRow(`SELECT identity, created_at FROM accounts WHERE identity = ?`, identity).
		Scan(&a.Identity, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// DeleteAccount removes an account and, via foreign keys, every channel
// and message it owns. Logout tears the context down with this.
func (db *DB) DeleteAccount(identity string) error {
	_, err := db.Exec(`DELETE FROM accounts WHERE identity = ?`, identity)
	return err
}
