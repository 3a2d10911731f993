package crypto

import (
	"errors"
	"fmt"
	"sync"

	"github.com/matheus3301/sigil/internal/directory"
	"github.com/matheus3301/sigil/internal/kmutex"
	"github.com/matheus3301/sigil/internal/store"
)

// Manager owns the lifecycle of per-channel cryptographic material: the
// one-to-one cipher for single channels and attached group sessions for
// group channels. Live sessions are held in memory keyed by sid and
// rebuilt from the group store on demand; they are never persisted with
// the channel.
type Manager struct {
	identity string
	cipher   Cipher
	groups   GroupStore

	mu   sync.RWMutex
	live map[string]*GroupSession

	creating *kmutex.KMutex
}

// NewManager creates a session manager for the local identity.
func NewManager(identity string, cipher Cipher, groups GroupStore) *Manager {
	return &Manager{
		identity: identity,
		cipher:   cipher,
		groups:   groups,
		live:     make(map[string]*GroupSession),
		creating: kmutex.New(),
	}
}

// Identity returns the local identity the manager encrypts as.
func (m *Manager) Identity() string {
	return m.identity
}

// Encrypt seals plaintext for a channel. Group channels require an
// attached session; callers must reconcile before retrying on
// ErrSessionMissing.
func (m *Manager) Encrypt(plaintext []byte, ch *store.Channel) ([]byte, error) {
	switch ch.Type {
	case store.ChannelSingle:
		card, err := ch.Companion()
		if err != nil {
			return nil, err
		}
		return m.cipher.Encrypt(plaintext, card)
	case store.ChannelGroup:
		session := m.GetGroup(ch.Sid)
		if session == nil {
			return nil, fmt.Errorf("encrypt for %s: %w", ch.Sid, ErrSessionMissing)
		}
		return session.Encrypt(plaintext)
	default:
		return nil, store.ErrInvalidChannel
	}
}

// Decrypt opens ciphertext from a channel, dispatching on channel type
// like Encrypt.
func (m *Manager) Decrypt(ciphertext []byte, ch *store.Channel) ([]byte, error) {
	switch ch.Type {
	case store.ChannelSingle:
		card, err := ch.Companion()
		if err != nil {
			return nil, err
		}
		return m.cipher.Decrypt(ciphertext, card)
	case store.ChannelGroup:
		session := m.GetGroup(ch.Sid)
		if session == nil {
			return nil, fmt.Errorf("decrypt for %s: %w", ch.Sid, ErrSessionMissing)
		}
		return session.Decrypt(ciphertext)
	default:
		return nil, store.ErrInvalidChannel
	}
}

// GetGroup returns the live session attached for sid, if any.
func (m *Manager) GetGroup(sid string) *GroupSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live[sid]
}

func (m *Manager) attach(session *GroupSession) {
	m.mu.Lock()
	m.live[session.Sid()] = session
	m.mu.Unlock()
}

// CreateGroup mints a new group session as initiator, seeded with the
// member card set, and attaches it. Creation is serialized per sid so two
// concurrent callers can never produce divergent key material.
func (m *Manager) CreateGroup(sid string, members []directory.Card) (*GroupSession, error) {
	m.creating.Lock(sid)
	defer m.creating.Unlock(sid)

	if session := m.GetGroup(sid); session != nil {
		return session, nil
	}
	session, err := m.groups.CreateGroup(sid, m.identity, members)
	if err != nil {
		return nil, err
	}
	m.attach(session)
	return session, nil
}

// EnsureGroup resolves the session for a group channel: reuse the live
// handle, else load persisted state, else create fresh key material
// seeded with the channel's card set, the last step only when the local
// identity initiated the channel. A non-initiator must never fabricate
// group keys; it
// propagates ErrGroupNotFound and waits for a control message to supply
// the material.
func (m *Manager) EnsureGroup(sid, initiator string, cards []directory.Card) (*GroupSession, error) {
	if session := m.GetGroup(sid); session != nil {
		return session, nil
	}

	session, err := m.groups.LoadGroup(sid, initiator)
	if err == nil {
		m.attach(session)
		return session, nil
	}
	if !errors.Is(err, ErrGroupNotFound) {
		return nil, err
	}

	if initiator != m.identity {
		return nil, err
	}
	return m.CreateGroup(sid, cards)
}

// ImportGroup installs group state received out-of-band (the control
// message that hands a non-initiator its key material), persists it and
// attaches the session.
func (m *Manager) ImportGroup(state GroupState) (*GroupSession, error) {
	m.creating.Lock(state.Sid)
	defer m.creating.Unlock(state.Sid)

	session := &GroupSession{state: state}
	if err := m.groups.SaveGroup(session); err != nil {
		return nil, err
	}
	m.attach(session)
	return session, nil
}

// ApplyMembershipChange applies a membership delta to the attached
// session in delivery order and persists the advanced state.
func (m *Manager) ApplyMembershipChange(sid string, added []directory.Card, removed []string) error {
	session := m.GetGroup(sid)
	if session == nil {
		return fmt.Errorf("membership change for %s: %w", sid, ErrSessionMissing)
	}
	if len(added) > 0 {
		if err := session.AddParticipants(added); err != nil {
			return err
		}
	}
	if len(removed) > 0 {
		if err := session.RemoveParticipants(removed); err != nil {
			return err
		}
	}
	return m.groups.SaveGroup(session)
}

// DeleteGroup detaches and removes persisted state for sid.
func (m *Manager) DeleteGroup(sid string) error {
	m.mu.Lock()
	delete(m.live, sid)
	m.mu.Unlock()
	return m.groups.DeleteGroup(sid)
}
