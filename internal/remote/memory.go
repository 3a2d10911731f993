package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Transport holding the roster and message history
// for one local identity. The daemon runs against it in dev mode and the
// sync tests drive roster churn through it.
type Memory struct {
	identity string

	mu       sync.Mutex
	channels map[string]*memChannel
	state    ConnState
	events   chan Event
}

type memChannel struct {
	channel  Channel
	messages []InboundMessage
}

// NewMemory creates an empty in-memory transport for identity.
func NewMemory(identity string) *Memory {
	return &Memory{
		identity: identity,
		channels: make(map[string]*memChannel),
		state:    StateUnknown,
		events:   make(chan Event, 256),
	}
}

// Events returns the async notification stream.
func (m *Memory) Events() <-chan Event {
	return m.events
}

func (m *Memory) emit(evt Event) {
	select {
	case m.events <- evt:
	default:
		// Drop when the consumer is not draining.
	}
}

// SetConnectionState simulates a connectivity transition.
func (m *Memory) SetConnectionState(state ConnState) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
	m.emit(ConnectionStateChanged{State: state})
}

// Subscribe adds a roster entry created by a remote party and emits
// ChannelAdded, as the real service does when someone invites us.
func (m *Memory) Subscribe(ch Channel) {
	m.mu.Lock()
	m.channels[ch.Sid] = &memChannel{channel: ch}
	m.mu.Unlock()
	m.emit(ChannelAdded{Channel: ch})
}

// Unsubscribe drops a roster entry without notice, simulating a remote
// removal discovered only on the next roster enumeration.
func (m *Memory) Unsubscribe(sid string) {
	m.mu.Lock()
	delete(m.channels, sid)
	m.mu.Unlock()
}

// Inject appends a message to a channel's history and emits MessageAdded.
func (m *Memory) Inject(sid string, msg InboundMessage) error {
	m.mu.Lock()
	ch, ok := m.channels[sid]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("inject into %s: %w", sid, ErrChannelNotFound)
	}
	ch.messages = append(ch.messages, msg)
	m.mu.Unlock()
	m.emit(MessageAdded{Sid: sid, Message: msg})
	return nil
}

// InjectQuiet appends history without emitting an event, for seeding
// backlog that predates the local client.
func (m *Memory) InjectQuiet(sid string, msg InboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[sid]
	if !ok {
		return fmt.Errorf("inject into %s: %w", sid, ErrChannelNotFound)
	}
	ch.messages = append(ch.messages, msg)
	return nil
}

func (m *Memory) ListSubscribedChannels(_ context.Context) ([]Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	channels := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch.channel)
	}
	return channels, nil
}

func (m *Memory) CreateSingleChannel(_ context.Context, companion string) (Channel, error) {
	if companion == "" || companion == m.identity {
		return Channel{}, fmt.Errorf("create single channel with %q: %w", companion, ErrInvalidChannel)
	}
	ch := Channel{
		Sid: uuid.New().String(),
		Attributes: Attributes{
			Type:      TypeSingle,
			Initiator: m.identity,
			Members:   []string{m.identity, companion},
		},
	}
	m.mu.Lock()
	m.channels[ch.Sid] = &memChannel{channel: ch}
	m.mu.Unlock()
	return ch, nil
}

func (m *Memory) CreateGroupChannel(_ context.Context, sid, name string, members []string) (Channel, error) {
	if len(members) == 0 {
		return Channel{}, fmt.Errorf("create group %q with no members: %w", name, ErrInvalidChannel)
	}
	if sid == "" {
		sid = uuid.New().String()
	}
	ch := Channel{
		Sid: sid,
		Attributes: Attributes{
			Type:         TypeGroup,
			Initiator:    m.identity,
			FriendlyName: name,
			Members:      members,
		},
	}
	m.mu.Lock()
	m.channels[ch.Sid] = &memChannel{channel: ch}
	m.mu.Unlock()
	return ch, nil
}

func (m *Memory) Leave(_ context.Context, sid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[sid]; !ok {
		return fmt.Errorf("leave %s: %w", sid, ErrChannelNotFound)
	}
	delete(m.channels, sid)
	return nil
}

func (m *Memory) Send(_ context.Context, sid, body, kind string) error {
	if body == "" {
		return fmt.Errorf("send to %s: %w", sid, ErrInvalidMessage)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[sid]
	if !ok {
		return fmt.Errorf("send to %s: %w", sid, ErrChannelNotFound)
	}
	ch.messages = append(ch.messages, InboundMessage{Author: m.identity, Body: body, Kind: kind})
	return nil
}

func (m *Memory) MessageCount(_ context.Context, sid string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[sid]
	if !ok {
		return 0, fmt.Errorf("message count %s: %w", sid, ErrChannelNotFound)
	}
	return len(ch.messages), nil
}

func (m *Memory) FetchMessagesSince(_ context.Context, sid string, count int) ([]InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[sid]
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", sid, ErrChannelNotFound)
	}
	if count <= 0 || count > len(ch.messages) {
		count = len(ch.messages)
	}
	tail := ch.messages[len(ch.messages)-count:]
	out := make([]InboundMessage, count)
	copy(out, tail)
	return out, nil
}

// Compile-time assertion that Memory implements Transport.
var _ Transport = (*Memory)(nil)
