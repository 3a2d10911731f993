// Package remote defines the chat-transport collaborator the core talks
// to: a pub/sub channel roster with ciphertext message history. The real
// service lives behind this interface; Memory is the in-process
// implementation used by the dev daemon and tests.
package remote

import (
	"context"
	"errors"
)

// Sentinel errors surfaced by transport implementations.
var (
	ErrChannelNotFound = errors.New("remote channel not found")
	ErrInvalidChannel  = errors.New("invalid remote channel")
	ErrInvalidMessage  = errors.New("invalid remote message")
	ErrDisconnected    = errors.New("transport disconnected")
)

// Channel types carried in remote attributes.
const (
	TypeSingle = "single"
	TypeGroup  = "group"
)

// Message kinds distinguish user payloads from group-control traffic.
const (
	KindRegular = "regular"
	KindService = "service"
)

// Attributes describe a remote roster entry.
type Attributes struct {
	Type         string
	Initiator    string
	FriendlyName string
	// Members lists participant identities, the local identity included.
	Members []string
}

// Channel is a remote roster entry keyed by its stable sid.
type Channel struct {
	Sid        string
	Attributes Attributes
}

// Companion returns the one member of a single channel that is not self.
func (c Channel) Companion(self string) (string, error) {
	if c.Attributes.Type != TypeSingle {
		return "", ErrInvalidChannel
	}
	for _, m := range c.Attributes.Members {
		if m != self {
			return m, nil
		}
	}
	return "", ErrInvalidChannel
}

// InboundMessage is one ciphertext message fetched from or pushed by the
// transport. Body is the base64 envelope string.
type InboundMessage struct {
	Author string
	Body   string
	Kind   string
}

// ConnState mirrors the transport's connection lifecycle.
type ConnState string

const (
	StateUnknown      ConnState = "unknown"
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateDenied       ConnState = "denied"
	StateError        ConnState = "error"
)

// Event is an asynchronous transport notification.
type Event interface{ isEvent() }

// ChannelAdded fires when the local identity is subscribed to a new channel.
type ChannelAdded struct{ Channel Channel }

// MessageAdded fires for each new message on a subscribed channel, in
// delivery order per channel.
type MessageAdded struct {
	Sid     string
	Message InboundMessage
}

// ConnectionStateChanged fires on transport connectivity transitions.
type ConnectionStateChanged struct{ State ConnState }

func (ChannelAdded) isEvent()           {}
func (MessageAdded) isEvent()           {}
func (ConnectionStateChanged) isEvent() {}

// Transport is the remote chat service consumed by the core. Timeouts and
// retries are the implementation's concern; failures surface as ordinary
// errors. None of the calls support mid-flight cancellation beyond the
// context handed in.
type Transport interface {
	ListSubscribedChannels(ctx context.Context) ([]Channel, error)
	CreateSingleChannel(ctx context.Context, companion string) (Channel, error)
	CreateGroupChannel(ctx context.Context, sid, name string, members []string) (Channel, error)
	Leave(ctx context.Context, sid string) error
	Send(ctx context.Context, sid, body, kind string) error
	MessageCount(ctx context.Context, sid string) (int, error)
	// FetchMessagesSince returns the last count messages of a channel in
	// delivery order; the caller computes count from the backlog delta.
	FetchMessagesSince(ctx context.Context, sid string, count int) ([]InboundMessage, error)
	Events() <-chan Event
}
