package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/sigil/internal/directory"
)

// CreateChannel inserts a channel row, enforcing the card-count shape:
// single channels carry exactly one card, group channels at least one.
func (db *DB) CreateChannel(c *Channel) error {
	switch c.Type {
	case ChannelSingle:
		if len(c.Cards) != 1 {
			return fmt.Errorf("single channel %s with %d cards: %w", c.Sid, len(c.Cards), ErrInvalidChannel)
		}
	case ChannelGroup:
		if len(c.Cards) < 1 {
			return fmt.Errorf("group channel %s with no cards: %w", c.Sid, ErrInvalidChannel)
		}
	default:
		return fmt.Errorf("channel %s type %q: %w", c.Sid, c.Type, ErrInvalidChannel)
	}

	cards, err := json.Marshal(c.Cards)
	if err != nil {
		return fmt.Errorf("encode cards: %w", err)
	}
	if c.CreatedAt == 0 {
		c.CreatedAt = time.Now().UnixMilli()
	}
	_, err = db.Exec(`
		INSERT INTO channels (sid, account, name, initiator, type, cards, unread_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		c.Sid, c.Account, c.Name, c.Initiator, string(c.Type), string(cards), c.CreatedAt)
	return err
}

// UpdateCards re-encodes and saves a channel's card set after a
// membership change.
func (db *DB) UpdateCards(sid string, cards []directory.Card) error {
	data, err := json.Marshal(cards)
	if err != nil {
		return fmt.Errorf("encode cards: %w", err)
	}
	_, err = db.Exec(`UPDATE channels SET cards = ? WHERE sid = ?`, string(data), sid)
	return err
}

const channelColumns = `sid, account, name, initiator, type, cards, unread_count, created_at`

func scanChannel(row interface{ Scan(...any) error }) (*Channel, error) {
	var c Channel
	var typ, cards string
	if err := row.Scan(&c.Sid, &c.Account, &c.Name, &c.Initiator, &typ, &cards, &c.UnreadCount, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Type = ChannelType(typ)
	// Cards decode eagerly on load; a corrupt column is a shape violation.
	if err := json.Unmarshal([]byte(cards), &c.Cards); err != nil {
		return nil, fmt.Errorf("decode cards for %s: %w", c.Sid, ErrInvalidChannel)
	}
	return &c, nil
}

// GetChannel returns the channel with the given sid.
func (db *DB) GetChannel(sid string) (*Channel, error) {
	row := db.QueryRow(`SELECT `+channelColumns+` FROM channels WHERE sid = ?`, sid)
	c, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

// GetSingleChannel returns the one-to-one channel with the given companion,
// if any. Single channels are named after their companion identity.
func (db *DB) GetSingleChannel(account, companion string) (*Channel, error) {
	row := db.QueryRow(`
		SELECT `+channelColumns+` FROM channels
		WHERE account = ? AND type = ? AND name = ?`,
		account, string(ChannelSingle), companion)
	c, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

// HasSingleChannel reports whether a one-to-one channel exists for companion.
func (db *DB) HasSingleChannel(account, companion string) (bool, error) {
	_, err := db.GetSingleChannel(account, companion)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (db *DB) listChannels(query string, args ...any) ([]Channel, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var channels []Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, *c)
	}
	return channels, rows.Err()
}

// ListChannels returns every channel of the account, newest first.
func (db *DB) ListChannels(account string) ([]Channel, error) {
	return db.listChannels(`
		SELECT `+channelColumns+` FROM channels
		WHERE account = ? ORDER BY created_at DESC`, account)
}

// ListGroupChannels returns the account's group channels. The reconciler
// diffs this set against the remote roster.
func (db *DB) ListGroupChannels(account string) ([]Channel, error) {
	return db.listChannels(`
		SELECT `+channelColumns+` FROM channels
		WHERE account = ? AND type = ?`, account, string(ChannelGroup))
}

// DeleteChannel removes a channel; messages cascade via foreign key.
func (db *DB) DeleteChannel(sid string) error {
	_, err := db.Exec(`DELETE FROM channels WHERE sid = ?`, sid)
	return err
}

// IncrementUnread bumps the unread counter of a backgrounded channel.
func (db *DB) IncrementUnread(sid string) error {
	_, err := db.Exec(`UPDATE channels SET unread_count = unread_count + 1 WHERE sid = ?`, sid)
	return err
}

// ResetUnread clears the unread counter when a channel is foregrounded.
func (db *DB) ResetUnread(sid string) error {
	_, err := db.Exec(`UPDATE channels SET unread_count = 0 WHERE sid = ?`, sid)
	return err
}
