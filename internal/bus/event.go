package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the core. Subscribers filter by namespace
// prefix, e.g. "chat." or "message.".
const (
	KindChatListUpdated   = "chat.list_updated"
	KindChannelDeleted    = "chat.channel_deleted"
	KindMessageCurrent    = "message.added_current"
	KindMessageSendFailed = "message.send_failed"
	KindCallSignal        = "call.signal"
	KindPushNotification  = "notify.push"
	KindConnStateChanged  = "conn.state_changed"
	KindSyncErrored       = "sync.errored"
)

// ChannelDeleted is the payload for chat.channel_deleted.
type ChannelDeleted struct {
	Sid string
}

// MessageAdded is the payload for message.added_current. The message has
// already been persisted; Sid identifies its channel.
type MessageAdded struct {
	Sid       string
	MessageID int64
}

// SendFailed is the payload for message.send_failed.
type SendFailed struct {
	ClientID string
	Sid      string
	Err      string
}

// CallSignal is the payload for call.signal. Body carries the decoded
// call-control content; signaling messages are never persisted.
type CallSignal struct {
	Sid    string
	Sender string
	Body   any
}

// Push is the payload for notify.push, raised for messages arriving on
// channels that are not foregrounded.
type Push struct {
	Sid    string
	Sender string
}

// Errored is the payload for sync.errored.
type Errored struct {
	Err error
}
