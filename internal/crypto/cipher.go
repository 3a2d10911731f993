// Package crypto orchestrates per-channel cryptographic material: a
// one-to-one cipher keyed by participant cards and group sessions keyed
// by channel sid. The primitives live behind the Cipher and GroupStore
// interfaces; the bundled implementations use nacl/box and
// chacha20poly1305.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/matheus3301/sigil/internal/directory"
	"golang.org/x/crypto/nacl/box"
)

// Sentinel errors for session lifecycle and decryption.
var (
	ErrDecrypt        = errors.New("decrypt failed")
	ErrGroupNotFound  = errors.New("group session not found")
	ErrGroupExists    = errors.New("group session already exists")
	ErrSessionMissing = errors.New("group session not attached")
)

// Cipher performs one-to-one authenticated encryption against a card.
type Cipher interface {
	Encrypt(plaintext []byte, to directory.Card) ([]byte, error)
	Decrypt(ciphertext []byte, from directory.Card) ([]byte, error)
}

const boxKeySize = 32

// BoxCipher is the nacl/box implementation of Cipher, holding the local
// identity's key pair.
type BoxCipher struct {
	pub  *[boxKeySize]byte
	priv *[boxKeySize]byte
}

// NewBoxCipher generates a fresh key pair.
func NewBoxCipher() (*BoxCipher, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate box keys: %w", err)
	}
	return &BoxCipher{pub: pub, priv: priv}, nil
}

func (c *BoxCipher) save(path string) error {
	raw := make([]byte, 0, 2*boxKeySize)
	raw = append(raw, c.priv[:]...)
	raw = append(raw, c.pub[:]...)
	return os.WriteFile(path, raw, 0600)
}

// LoadOrCreateBoxCipher restores the key pair stored at path, generating
// and persisting a new one on first run.
func LoadOrCreateBoxCipher(path string) (*BoxCipher, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		c, genErr := NewBoxCipher()
		if genErr != nil {
			return nil, genErr
		}
		if saveErr := c.save(path); saveErr != nil {
			return nil, fmt.Errorf("persist box keys: %w", saveErr)
		}
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read box keys: %w", err)
	}
	if len(raw) != 2*boxKeySize {
		return nil, fmt.Errorf("key file %s: unexpected length %d", path, len(raw))
	}
	c := &BoxCipher{pub: new([boxKeySize]byte), priv: new([boxKeySize]byte)}
	copy(c.priv[:], raw[:boxKeySize])
	copy(c.pub[:], raw[boxKeySize:])
	return c, nil
}

// PublicKey returns the public half, published on the identity's card.
func (c *BoxCipher) PublicKey() []byte {
	key := make([]byte, boxKeySize)
	copy(key, c.pub[:])
	return key
}

func peerKey(card directory.Card) (*[boxKeySize]byte, error) {
	if len(card.PublicKey) != boxKeySize {
		return nil, fmt.Errorf("card %q key length %d: %w", card.Identity, len(card.PublicKey), ErrDecrypt)
	}
	var key [boxKeySize]byte
	copy(key[:], card.PublicKey)
	return &key, nil
}

// Encrypt seals plaintext for the card's key. The random nonce is
// prepended to the box.
func (c *BoxCipher) Encrypt(plaintext []byte, to directory.Card) ([]byte, error) {
	peer, err := peerKey(to)
	if err != nil {
		return nil, err
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return box.Seal(nonce[:], plaintext, &nonce, peer, c.priv), nil
}

// Decrypt opens a box sealed by the card's holder for us.
func (c *BoxCipher) Decrypt(ciphertext []byte, from directory.Card) ([]byte, error) {
	peer, err := peerKey(from)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < 24 {
		return nil, fmt.Errorf("ciphertext too short: %w", ErrDecrypt)
	}
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])
	plaintext, ok := box.Open(nil, ciphertext[24:], &nonce, peer, c.priv)
	if !ok {
		return nil, fmt.Errorf("open box from %q: %w", from.Identity, ErrDecrypt)
	}
	return plaintext, nil
}

// Compile-time assertion that BoxCipher implements Cipher.
var _ Cipher = (*BoxCipher)(nil)
