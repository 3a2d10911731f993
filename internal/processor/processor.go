// Package processor turns inbound ciphertext envelopes into persisted
// messages and bus notifications. The same pipeline serves live delivery
// and backlog sync; only the notification step differs.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/sigil/internal/bus"
	"github.com/matheus3301/sigil/internal/codec"
	"github.com/matheus3301/sigil/internal/crypto"
	"github.com/matheus3301/sigil/internal/directory"
	"github.com/matheus3301/sigil/internal/remote"
	"github.com/matheus3301/sigil/internal/store"
	"go.uber.org/zap"
)

// Processor decrypts, classifies and persists inbound envelopes.
type Processor struct {
	db       *store.DB
	dir      directory.Directory
	sessions *crypto.Manager
	bus      *bus.Bus
	logger   *zap.Logger
}

// New creates a processor over the injected collaborators.
func New(db *store.DB, dir directory.Directory, sessions *crypto.Manager, b *bus.Bus, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{db: db, dir: dir, sessions: sessions, bus: b, logger: logger}
}

// Process handles one live inbound message: resolve the channel,
// decrypt/classify/persist, then notify. Envelopes that cannot even be
// parsed are rejected before any persistence.
func (p *Processor) Process(ctx context.Context, sid string, msg remote.InboundMessage) error {
	env, err := codec.ImportEnvelope(msg.Body)
	if err != nil {
		p.logger.Warn("rejecting malformed envelope",
			zap.String("sid", sid), zap.String("author", msg.Author), zap.Error(err))
		return err
	}

	ch, err := p.resolveChannel(ctx, sid, msg.Author)
	if err != nil {
		return err
	}

	stored, content, err := p.persist(ctx, ch, env, msg.Author)
	if err != nil {
		return err
	}

	p.notify(ch, stored, content, msg.Author)
	return nil
}

// IngestBacklog persists a slice of history messages for a known channel
// in delivery order. One undecryptable or malformed message degrades to a
// hidden placeholder rather than aborting the batch; every remote entry
// must land as a local row or the remote-minus-local delta refetches the
// tail forever. A single list-level event fires at the end.
func (p *Processor) IngestBacklog(ctx context.Context, ch *store.Channel, msgs []remote.InboundMessage) error {
	stored := 0
	for _, msg := range msgs {
		env, err := codec.ImportEnvelope(msg.Body)
		if err != nil {
			p.logger.Warn("storing placeholder for malformed backlog envelope",
				zap.String("sid", ch.Sid), zap.Error(err))
			if _, perr := p.db.CreatePlaceholder(ch.Sid, time.Now().UnixMilli()); perr != nil {
				return fmt.Errorf("backlog for %s: %w", ch.Sid, perr)
			}
			stored++
			continue
		}
		if _, _, err := p.persist(ctx, ch, env, msg.Author); err != nil {
			return fmt.Errorf("backlog for %s: %w", ch.Sid, err)
		}
		stored++
	}
	if stored > 0 {
		p.bus.Emit(bus.KindChatListUpdated, nil)
	}
	return nil
}

// resolveChannel finds the local channel for an envelope, auto-provisioning
// a single channel for a first message from an unknown sender. A failed
// card lookup here is fatal for the envelope: there is no channel to
// attach the message to.
func (p *Processor) resolveChannel(ctx context.Context, sid, author string) (*store.Channel, error) {
	ch, err := p.db.GetChannel(sid)
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	account := p.sessions.Identity()
	ch, err = p.db.GetSingleChannel(account, author)
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	card, err := p.dir.FindUser(ctx, author)
	if err != nil {
		return nil, fmt.Errorf("resolve sender %q: %w", author, err)
	}
	ch = &store.Channel{
		Sid:       sid,
		Account:   account,
		Name:      author,
		Initiator: author,
		Type:      store.ChannelSingle,
		Cards:     []directory.Card{card},
	}
	if err := p.db.CreateChannel(ch); err != nil {
		return nil, fmt.Errorf("auto-provision channel for %q: %w", author, err)
	}
	p.logger.Info("auto-provisioned single channel",
		zap.String("sid", sid), zap.String("companion", author))
	return ch, nil
}

// persist decrypts and classifies one envelope. Returns the stored message
// (nil for non-storable control content) and the decoded content (nil when
// decryption failed and a placeholder was written instead).
func (p *Processor) persist(ctx context.Context, ch *store.Channel, env codec.Envelope, author string) (*store.Message, *codec.Content, error) {
	plaintext, err := p.sessions.Decrypt(env.Ciphertext, ch)
	if err != nil {
		p.logger.Warn("decrypt failed, storing placeholder",
			zap.String("sid", ch.Sid), zap.Error(err))
		placeholder, perr := p.db.CreatePlaceholder(ch.Sid, env.Date.UnixMilli())
		if perr != nil {
			return nil, nil, perr
		}
		return placeholder, nil, nil
	}

	content, err := codec.Decode(plaintext, env.Version)
	if err != nil {
		return nil, nil, err
	}

	m := &store.Message{
		ChannelSid: ch.Sid,
		Direction:  store.Incoming,
		Date:       env.Date.UnixMilli(),
	}
	if author == p.sessions.Identity() {
		m.Direction = store.Outgoing
		m.Status = store.StatusSuccess
	}

	switch content.Type {
	case codec.TypeText:
		m.Kind = store.KindText
		m.Body = content.Text.Body
	case codec.TypePhoto:
		m.Kind = store.KindPhoto
		m.Body = content.Photo.Identifier
		m.MediaURL = content.Photo.URL
	case codec.TypeVoice:
		m.Kind = store.KindVoice
		m.Body = content.Voice.Identifier
		m.MediaURL = content.Voice.URL
	case codec.TypeCallOffer:
		m.Kind = store.KindCall
	case codec.TypeCallAnswer, codec.TypeIceCandidate:
		// Transient signaling: never persisted, straight to notify.
		return nil, &content, nil
	case codec.TypeMembersChanged:
		if err := p.applyMembership(ctx, ch, content.MembersChanged); err != nil {
			return nil, nil, err
		}
		return nil, &content, nil
	default:
		return nil, nil, fmt.Errorf("content type %q: %w", content.Type, codec.ErrMalformed)
	}

	if err := p.db.CreateMessage(m); err != nil {
		return nil, nil, err
	}
	return m, &content, nil
}

// applyMembership applies a group control delta to the attached session in
// delivery order and re-saves the channel's card set from the session.
func (p *Processor) applyMembership(ctx context.Context, ch *store.Channel, delta *codec.MembersChanged) error {
	var added []directory.Card
	if len(delta.Added) > 0 {
		cards, err := p.dir.FindUsers(ctx, delta.Added)
		if err != nil {
			return fmt.Errorf("resolve added members for %s: %w", ch.Sid, err)
		}
		for _, identity := range delta.Added {
			added = append(added, cards[identity])
		}
	}
	if err := p.sessions.ApplyMembershipChange(ch.Sid, added, delta.Removed); err != nil {
		return err
	}
	session := p.sessions.GetGroup(ch.Sid)
	if session == nil {
		return crypto.ErrSessionMissing
	}
	return p.db.UpdateCards(ch.Sid, session.Members())
}

// notify performs the unread accounting and event fan-out for one live
// message. Message-level events are reserved for the foregrounded channel;
// everything else gets a list-level refresh plus a local push.
func (p *Processor) notify(ch *store.Channel, m *store.Message, content *codec.Content, author string) {
	if m == nil {
		if content == nil {
			return
		}
		switch content.Type {
		case codec.TypeCallAnswer, codec.TypeIceCandidate:
			p.bus.Emit(bus.KindCallSignal, bus.CallSignal{Sid: ch.Sid, Sender: author, Body: *content})
		case codec.TypeMembersChanged:
			p.bus.Emit(bus.KindChatListUpdated, nil)
		}
		return
	}

	if content != nil && content.Type == codec.TypeCallOffer {
		p.bus.Emit(bus.KindCallSignal, bus.CallSignal{Sid: ch.Sid, Sender: author, Body: *content})
	}

	// A hidden placeholder never lists, so no message-level event, unread
	// bump or push; the list refresh still surfaces the channel activity.
	if m.Hidden {
		p.bus.Emit(bus.KindChatListUpdated, nil)
		return
	}

	if p.db.CurrentChannelSid() == ch.Sid {
		p.bus.Emit(bus.KindMessageCurrent, bus.MessageAdded{Sid: ch.Sid, MessageID: m.ID})
		return
	}

	if err := p.db.IncrementUnread(ch.Sid); err != nil {
		p.logger.Error("failed to bump unread counter", zap.String("sid", ch.Sid), zap.Error(err))
	}
	p.bus.Emit(bus.KindChatListUpdated, nil)
	if m.Direction == store.Incoming {
		p.bus.Emit(bus.KindPushNotification, bus.Push{Sid: ch.Sid, Sender: author})
	}
}
