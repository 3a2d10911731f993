package store

import "github.com/matheus3301/sigil/internal/directory"

// ChannelType discriminates one-to-one and group conversations.
type ChannelType string

const (
	ChannelSingle ChannelType = "single"
	ChannelGroup  ChannelType = "group"
)

// Direction marks a message as received or sent.
type Direction string

const (
	Incoming Direction = "in"
	Outgoing Direction = "out"
)

// MessageKind is the persisted payload variant.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindPhoto MessageKind = "photo"
	KindVoice MessageKind = "voice"
	KindCall  MessageKind = "call"
	// KindEncrypted is the hidden placeholder written when an envelope
	// cannot be decrypted; it keeps counts consistent without surfacing
	// garbage in the UI listing.
	KindEncrypted MessageKind = "encrypted"
)

// Delivery statuses for outgoing messages.
const (
	StatusSending = "sending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Account is a local identity owning a set of channels.
type Account struct {
	Identity  string
	CreatedAt int64
}

// Channel is the persisted representation of a conversation. Cards are
// stored as a JSON column and decoded eagerly on scan; the live group
// session handle is never persisted and lives in the crypto manager.
type Channel struct {
	Sid         string
	Account     string
	Name        string
	Initiator   string
	Type        ChannelType
	Cards       []directory.Card
	UnreadCount int
	CreatedAt   int64
}

// Companion returns the single card of a one-to-one channel.
func (c *Channel) Companion() (directory.Card, error) {
	if c.Type != ChannelSingle || len(c.Cards) != 1 {
		return directory.Card{}, ErrInvalidChannel
	}
	return c.Cards[0], nil
}

// Message is a persisted chat entry, append-ordered within its channel.
type Message struct {
	ID         int64
	ChannelSid string
	Direction  Direction
	Kind       MessageKind
	Body       string
	MediaURL   string
	Status     string
	Hidden     bool
	Date       int64
}

// OutboxEntry is a pending outgoing message awaiting encryption and send.
type OutboxEntry struct {
	ID           int64
	ClientID     string
	ChannelSid   string
	Content      string // encoded codec content, current version
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	MessageID    int64
}
