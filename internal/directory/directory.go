package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrCardNotFound is returned when an identity has no published card.
var ErrCardNotFound = errors.New("card not found")

// Card is a participant's public identity bundle. PublicKey is the
// 32-byte encryption key the cipher engine encrypts against.
type Card struct {
	Identity  string `json:"identity"`
	PublicKey []byte `json:"public_key"`
}

// Directory resolves identities to their published cards.
type Directory interface {
	FindUser(ctx context.Context, identity string) (Card, error)
	FindUsers(ctx context.Context, identities []string) (map[string]Card, error)
}

// Memory is an in-process directory used by the dev transport and tests.
type Memory struct {
	mu    sync.RWMutex
	cards map[string]Card
}

// NewMemory creates an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{cards: make(map[string]Card)}
}

// Register publishes a card for its identity, replacing any previous one.
func (m *Memory) Register(card Card) {
	m.mu.Lock()
	m.cards[card.Identity] = card
	m.mu.Unlock()
}

// FindUser returns the card for a single identity.
func (m *Memory) FindUser(_ context.Context, identity string) (Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	card, ok := m.cards[identity]
	if !ok {
		return Card{}, fmt.Errorf("find user %q: %w", identity, ErrCardNotFound)
	}
	return card, nil
}

// FindUsers resolves a batch of identities. A single missing identity
// fails the whole lookup, matching the one-shot batch semantics of the
// remote card service.
func (m *Memory) FindUsers(ctx context.Context, identities []string) (map[string]Card, error) {
	result := make(map[string]Card, len(identities))
	for _, identity := range identities {
		card, err := m.FindUser(ctx, identity)
		if err != nil {
			return nil, err
		}
		result[identity] = card
	}
	return result, nil
}
