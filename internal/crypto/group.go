package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/matheus3301/sigil/internal/directory"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// GroupState is the persisted form of a group session: the participant
// card set plus the epoch key the group encrypts under. Every membership
// change bumps the epoch and ratchets the key forward.
type GroupState struct {
	Sid       string           `json:"sid"`
	Initiator string           `json:"initiator"`
	Epoch     uint32           `json:"epoch"`
	Key       []byte           `json:"key"`
	Members   []directory.Card `json:"members"`
}

// GroupSession is a live handle over GroupState. State updates are applied
// strictly in delivery order by the owning worker; the internal mutex only
// guards against the reconciler and processor touching the same sid.
type GroupSession struct {
	mu    sync.Mutex
	state GroupState
}

func newGroupState(sid, initiator string, members []directory.Card) (GroupState, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return GroupState{}, fmt.Errorf("generate group key: %w", err)
	}
	return GroupState{Sid: sid, Initiator: initiator, Epoch: 1, Key: key, Members: members}, nil
}

// Sid returns the channel identifier this session is keyed by.
func (s *GroupSession) Sid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Sid
}

// Initiator returns the identity that created the group.
func (s *GroupSession) Initiator() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Initiator
}

// Members returns a copy of the current participant card set.
func (s *GroupSession) Members() []directory.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make([]directory.Card, len(s.state.Members))
	copy(members, s.state.Members)
	return members
}

// Encrypt seals plaintext under the current epoch key.
func (s *GroupSession) Encrypt(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	aead, err := chacha20poly1305.NewX(s.state.Key)
	if err != nil {
		return nil, fmt.Errorf("group %s aead: %w", s.state.Sid, err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a group ciphertext sealed under the current epoch key.
func (s *GroupSession) Decrypt(ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	aead, err := chacha20poly1305.NewX(s.state.Key)
	if err != nil {
		return nil, fmt.Errorf("group %s aead: %w", s.state.Sid, err)
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("group %s ciphertext too short: %w", s.state.Sid, ErrDecrypt)
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("open group %s message: %w", s.state.Sid, ErrDecrypt)
	}
	return plaintext, nil
}

// ratchet derives the next epoch key from the current one. Not
// commutative: both sides must apply membership deltas in delivery order
// to stay on the same key.
func (s *GroupSession) ratchet() error {
	s.state.Epoch++
	info := make([]byte, 8)
	binary.BigEndian.PutUint32(info, s.state.Epoch)
	next := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, s.state.Key, nil, info)
	if _, err := io.ReadFull(kdf, next); err != nil {
		return fmt.Errorf("ratchet group %s: %w", s.state.Sid, err)
	}
	s.state.Key = next
	return nil
}

// AddParticipants appends cards to the member set and ratchets the key.
// Identities already present are skipped.
func (s *GroupSession) AddParticipants(cards []directory.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := make(map[string]bool, len(s.state.Members))
	for _, m := range s.state.Members {
		existing[m.Identity] = true
	}
	added := false
	for _, card := range cards {
		if !existing[card.Identity] {
			s.state.Members = append(s.state.Members, card)
			added = true
		}
	}
	if !added {
		return nil
	}
	return s.ratchet()
}

// RemoveParticipants drops identities from the member set and ratchets.
func (s *GroupSession) RemoveParticipants(identities []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]bool, len(identities))
	for _, id := range identities {
		drop[id] = true
	}
	kept := s.state.Members[:0]
	removed := false
	for _, m := range s.state.Members {
		if drop[m.Identity] {
			removed = true
			continue
		}
		kept = append(kept, m)
	}
	s.state.Members = kept
	if !removed {
		return nil
	}
	return s.ratchet()
}

func (s *GroupSession) snapshot() GroupState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.state
	state.Key = append([]byte(nil), s.state.Key...)
	state.Members = append([]directory.Card(nil), s.state.Members...)
	return state
}
