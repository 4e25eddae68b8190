// Package cryptox holds the node's cryptographic helpers: curve25519 box
// ciphers for sealing manifests between nodes, chunked secretbox streams for
// database dumps, and base58 key codecs.
package cryptox

import (
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const boxNonceSize = 24

// ErrDecrypt is returned when authentication of a ciphertext fails.
var ErrDecrypt = errors.New("decryption failed")

// BoxKeyPair is a curve25519 key pair.
type BoxKeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// DeriveBoxKeyPair derives a curve25519 key pair from an ed25519 seed the same
// way libsodium converts signing keys: the scalar is sha512(seed)[:32].
func DeriveBoxKeyPair(seed []byte) (*BoxKeyPair, error) {
	h := sha512.Sum512(seed)
	kp := &BoxKeyPair{}
	copy(kp.Private[:], h[:32])

	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// GenerateBoxKeyPair creates a random key pair.
func GenerateBoxKeyPair() (*BoxKeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &BoxKeyPair{Public: *pub, Private: *priv}, nil
}

// PublicKeyString renders the public key as base58.
func (kp *BoxKeyPair) PublicKeyString() string {
	return EncodeKey(kp.Public)
}

// Cipher seals messages between one local key pair and one remote public key.
type Cipher struct {
	shared [32]byte
}

// NewCipher precomputes the shared key for a conversation.
func NewCipher(ours *BoxKeyPair, theirs [32]byte) *Cipher {
	c := &Cipher{}
	box.Precompute(&c.shared, &theirs, &ours.Private)
	return c
}

// Seal returns nonce || box(plain).
func (c *Cipher) Seal(plain []byte) ([]byte, error) {
	var nonce [boxNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return box.SealAfterPrecomputation(nonce[:], plain, &nonce, &c.shared), nil
}

// Open reverses Seal.
func (c *Cipher) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < boxNonceSize+box.Overhead {
		return nil, ErrDecrypt
	}
	var nonce [boxNonceSize]byte
	copy(nonce[:], sealed[:boxNonceSize])

	plain, ok := box.OpenAfterPrecomputation(nil, sealed[boxNonceSize:], &nonce, &c.shared)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// EncodeKey renders a 32-byte key as base58.
func EncodeKey(k [32]byte) string {
	return base58.Encode(k[:])
}

// DecodeKey parses a base58 32-byte key.
func DecodeKey(s string) ([32]byte, error) {
	var k [32]byte
	b, err := base58.Decode(s)
	if err != nil {
		return k, fmt.Errorf("decode key: %w", err)
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("decode key: want %d bytes, got %d", len(k), len(b))
	}
	copy(k[:], b)
	return k, nil
}
