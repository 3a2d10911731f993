package store

import (
	"fmt"
	"time"
)

// CreateMessage appends a message to its channel and fills in its ID.
// Messages are insertion-ordered and never resorted.
func (db *DB) CreateMessage(m *Message) error {
	if m.ChannelSid == "" {
		return fmt.Errorf("message without channel: %w", ErrInvalidMessage)
	}
	switch m.Direction {
	case Incoming, Outgoing:
	default:
		return fmt.Errorf("message direction %q: %w", m.Direction, ErrInvalidMessage)
	}
	if m.Date == 0 {
		m.Date = time.Now().UnixMilli()
	}
	res, err := db.Exec(`
		INSERT INTO messages (channel_sid, direction, kind, body, media_url, status, hidden, date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ChannelSid, string(m.Direction), string(m.Kind), m.Body, m.MediaURL,
		m.Status, m.Hidden, m.Date, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	m.ID, err = res.LastInsertId()
	return err
}

// CreatePlaceholder persists the hidden entry substituted for an envelope
// that failed to decrypt. It counts toward the channel's message total so
// backlog math stays consistent.
func (db *DB) CreatePlaceholder(sid string, date int64) (*Message, error) {
	m := &Message{
		ChannelSid: sid,
		Direction:  Incoming,
		Kind:       KindEncrypted,
		Hidden:     true,
		Date:       date,
	}
	if err := db.CreateMessage(m); err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateMessageStatus sets the delivery status of an outgoing message.
func (db *DB) UpdateMessageStatus(id int64, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE id = ?`, status, id)
	return err
}

// ListMessages returns the visible messages of a channel in insertion order.
// Hidden placeholder entries are retained but excluded from listing.
func (db *DB) ListMessages(sid string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, channel_sid, direction, kind, body, media_url, status, hidden, date
		FROM messages WHERE channel_sid = ? AND hidden = 0 ORDER BY id ASC`, sid)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		var dir, kind string
		if err := rows.Scan(&m.ID, &m.ChannelSid, &dir, &kind, &m.Body, &m.MediaURL, &m.Status, &m.Hidden, &m.Date); err != nil {
			return nil, err
		}
		m.Direction = Direction(dir)
		m.Kind = MessageKind(kind)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountMessages returns the total stored message count for a channel,
// hidden placeholders included. Backlog size is computed against this.
func (db *DB) CountMessages(sid string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE channel_sid = ?`, sid).Scan(&n)
	return n, err
}
