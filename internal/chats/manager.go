// Package chats implements the user-facing conversation operations:
// starting one-to-one and group chats, joining channels offered by the
// roster, and deleting conversations.
package chats

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/matheus3301/sigil/internal/bus"
	"github.com/matheus3301/sigil/internal/codec"
	"github.com/matheus3301/sigil/internal/crypto"
	"github.com/matheus3301/sigil/internal/directory"
	"github.com/matheus3301/sigil/internal/reconcile"
	"github.com/matheus3301/sigil/internal/remote"
	"github.com/matheus3301/sigil/internal/store"
	"go.uber.org/zap"
)

// User-facing validation errors.
var (
	ErrSelfChat      = errors.New("cannot start a chat with yourself")
	ErrChannelExists = errors.New("chat already exists")
	ErrNoMembers     = errors.New("group needs at least one member")
)

// Manager drives outbound conversation lifecycle operations.
type Manager struct {
	db         *store.DB
	transport  remote.Transport
	dir        directory.Directory
	sessions   *crypto.Manager
	reconciler *reconcile.Reconciler
	bus        *bus.Bus
	logger     *zap.Logger
}

// New creates a chats manager over the injected collaborators.
func New(db *store.DB, transport remote.Transport, dir directory.Directory,
	sessions *crypto.Manager, reconciler *reconcile.Reconciler, b *bus.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		db:         db,
		transport:  transport,
		dir:        dir,
		sessions:   sessions,
		reconciler: reconciler,
		bus:        b,
		logger:     logger,
	}
}

// StartSingle creates a one-to-one conversation with identity: card
// lookup, remote channel, then the local record.
func (m *Manager) StartSingle(ctx context.Context, identity string) (*store.Channel, error) {
	identity = strings.ToLower(strings.TrimSpace(identity))
	self := m.sessions.Identity()
	if identity == self {
		return nil, ErrSelfChat
	}
	if exists, err := m.db.HasSingleChannel(self, identity); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("single chat with %q: %w", identity, ErrChannelExists)
	}

	card, err := m.dir.FindUser(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("start single with %q: %w", identity, err)
	}
	rc, err := m.transport.CreateSingleChannel(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("create remote channel: %w", err)
	}

	ch := &store.Channel{
		Sid:       rc.Sid,
		Account:   self,
		Name:      identity,
		Initiator: self,
		Type:      store.ChannelSingle,
		Cards:     []directory.Card{card},
	}
	if err := m.db.CreateChannel(ch); err != nil {
		return nil, err
	}
	m.logger.Info("started single chat",
		zap.String("sid", ch.Sid), zap.String("companion", identity))
	m.bus.Emit(bus.KindChatListUpdated, nil)
	return ch, nil
}

// StartGroup creates a group conversation as initiator: resolve member
// cards, create the remote channel and the group session (seeded with the
// member set), then the local record.
func (m *Manager) StartGroup(ctx context.Context, name string, members []string) (*store.Channel, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	self := m.sessions.Identity()

	unique := make([]string, 0, len(members))
	seen := map[string]bool{self: true}
	for _, member := range members {
		member = strings.ToLower(strings.TrimSpace(member))
		if !seen[member] {
			seen[member] = true
			unique = append(unique, member)
		}
	}
	if len(unique) == 0 {
		return nil, ErrNoMembers
	}

	result, err := m.dir.FindUsers(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("resolve group members: %w", err)
	}
	cards := make([]directory.Card, 0, len(unique))
	for _, member := range unique {
		cards = append(cards, result[member])
	}

	sid := uuid.New().String()
	rc, err := m.transport.CreateGroupChannel(ctx, sid, name, append(unique, self))
	if err != nil {
		return nil, fmt.Errorf("create remote group: %w", err)
	}

	if _, err := m.sessions.CreateGroup(rc.Sid, cards); err != nil {
		return nil, fmt.Errorf("create group session: %w", err)
	}

	ch := &store.Channel{
		Sid:       rc.Sid,
		Account:   self,
		Name:      name,
		Initiator: self,
		Type:      store.ChannelGroup,
		Cards:     cards,
	}
	if err := m.db.CreateChannel(ch); err != nil {
		return nil, err
	}
	m.logger.Info("started group chat",
		zap.String("sid", ch.Sid), zap.String("name", name), zap.Int("members", len(cards)))
	m.bus.Emit(bus.KindChatListUpdated, nil)
	return ch, nil
}

// Join materializes a channel offered by the roster (the non-initiator
// path, triggered by a channelAdded event). It reuses the reconciler's
// per-channel step so storage, session and backlog handling stay in one
// place.
func (m *Manager) Join(ctx context.Context, rc remote.Channel) error {
	if rc.Attributes.Initiator == m.sessions.Identity() {
		// Our own channel echoing back; reconcile covers it.
		return nil
	}
	if err := m.reconciler.ReconcileChannel(ctx, rc); err != nil {
		return fmt.Errorf("join %s: %w", rc.Sid, err)
	}
	m.bus.Emit(bus.KindChatListUpdated, nil)
	return nil
}

// Delete leaves the remote channel and removes the local conversation,
// cascading to its messages and group session. The remote leave is
// attempted first but a failure there does not keep the local state.
func (m *Manager) Delete(ctx context.Context, sid string) error {
	ch, err := m.db.GetChannel(sid)
	if err != nil {
		return err
	}

	if err := m.transport.Leave(ctx, sid); err != nil {
		m.logger.Warn("remote leave failed", zap.String("sid", sid), zap.Error(err))
	}
	if ch.Type == store.ChannelGroup {
		if err := m.sessions.DeleteGroup(sid); err != nil {
			m.logger.Warn("group session delete failed", zap.String("sid", sid), zap.Error(err))
		}
	}
	if err := m.db.DeleteChannel(sid); err != nil {
		return err
	}
	if m.db.CurrentChannelSid() == sid {
		m.db.SetCurrentChannel("")
	}
	m.logger.Info("deleted chat", zap.String("sid", sid))
	m.bus.Emit(bus.KindChannelDeleted, bus.ChannelDeleted{Sid: sid})
	return nil
}

// Send persists an outgoing message with sending status and queues it on
// the outbox; the sender loop performs the encrypt-and-send. The returned
// message carries the per-message delivery status the UI watches.
func (m *Manager) Send(ctx context.Context, sid string, content codec.Content) (*store.Message, error) {
	ch, err := m.db.GetChannel(sid)
	if err != nil {
		return nil, err
	}
	data, err := codec.Encode(content)
	if err != nil {
		return nil, err
	}

	msg := &store.Message{
		ChannelSid: ch.Sid,
		Direction:  store.Outgoing,
		Status:     store.StatusSending,
	}
	switch content.Type {
	case codec.TypeText:
		msg.Kind = store.KindText
		msg.Body = content.Text.Body
	case codec.TypePhoto:
		msg.Kind = store.KindPhoto
		msg.Body = content.Photo.Identifier
		msg.MediaURL = content.Photo.URL
	case codec.TypeVoice:
		msg.Kind = store.KindVoice
		msg.Body = content.Voice.Identifier
		msg.MediaURL = content.Voice.URL
	default:
		msg.Kind = store.KindCall
	}
	if err := m.db.CreateMessage(msg); err != nil {
		return nil, err
	}
	if err := m.db.QueueOutbox(uuid.New().String(), ch.Sid, string(data), msg.ID); err != nil {
		return nil, err
	}
	return msg, nil
}

// Select moves the current-channel cursor and clears unread state for the
// foregrounded conversation. Called from the foreground context only.
func (m *Manager) Select(sid string) error {
	if sid == "" {
		m.db.SetCurrentChannel("")
		return nil
	}
	if _, err := m.db.GetChannel(sid); err != nil {
		return err
	}
	m.db.SetCurrentChannel(sid)
	return m.db.ResetUnread(sid)
}
