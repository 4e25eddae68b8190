// Package did implements the decentralized-identity primitives the node
// needs: did:key identifiers, DID documents, verifiable credentials and
// presentations with ed25519 proofs, and document resolution.
package did

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// KeyMethodPrefix is the did:key prefix for base58btc multibase values.
const KeyMethodPrefix = "did:key:z"

// ed25519-pub multicodec, varint encoded.
var ed25519Multicodec = []byte{0xed, 0x01}

// ErrInvalidDID is returned for identifiers that cannot be parsed.
var ErrInvalidDID = errors.New("invalid did")

// MethodSpecificID returns the part after "did:<method>:".
func MethodSpecificID(id string) (string, error) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 || parts[0] != "did" || parts[1] == "" || parts[2] == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidDID, id)
	}
	return parts[2], nil
}

// StripFragment drops "#fragment" from a DID URL.
func StripFragment(id string) string {
	if i := strings.IndexByte(id, '#'); i >= 0 {
		return id[:i]
	}
	return id
}

// KeyDID builds the did:key identifier of an ed25519 public key.
func KeyDID(pub ed25519.PublicKey) string {
	buf := make([]byte, 0, len(ed25519Multicodec)+len(pub))
	buf = append(buf, ed25519Multicodec...)
	buf = append(buf, pub...)
	return KeyMethodPrefix + base58.Encode(buf)
}

// PublicKeyFromKeyDID extracts the ed25519 key embedded in a did:key.
func PublicKeyFromKeyDID(id string) (ed25519.PublicKey, error) {
	id = StripFragment(id)
	if !strings.HasPrefix(id, KeyMethodPrefix) {
		return nil, fmt.Errorf("%w: not a did:key: %q", ErrInvalidDID, id)
	}
	raw, err := base58.Decode(strings.TrimPrefix(id, KeyMethodPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDID, err)
	}
	if len(raw) != len(ed25519Multicodec)+ed25519.PublicKeySize ||
		raw[0] != ed25519Multicodec[0] || raw[1] != ed25519Multicodec[1] {
		return nil, fmt.Errorf("%w: unsupported did:key codec", ErrInvalidDID)
	}
	return ed25519.PublicKey(raw[len(ed25519Multicodec):]), nil
}

// IsKeyDID reports whether id uses the did:key method.
func IsKeyDID(id string) bool {
	return strings.HasPrefix(StripFragment(id), KeyMethodPrefix)
}

// Signer produces proofs on behalf of a DID.
type Signer interface {
	DID() string
	KeyID() string
	Sign(msg []byte) []byte
}

// KeyPair is an ed25519 key controlled by a did:key identifier.
type KeyPair struct {
	priv ed25519.PrivateKey
	did  string
}

// GenerateKeyPair creates a new random identity.
func GenerateKeyPair() (*KeyPair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return newKeyPair(priv), nil
}

// KeyPairFromSeed restores an identity from its 32-byte seed.
func KeyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes", ed25519.SeedSize)
	}
	return newKeyPair(ed25519.NewKeyFromSeed(seed)), nil
}

func newKeyPair(priv ed25519.PrivateKey) *KeyPair {
	return &KeyPair{priv: priv, did: KeyDID(priv.Public().(ed25519.PublicKey))}
}

func (k *KeyPair) DID() string { return k.did }

// KeyID is the verification method id, "<did>#<msid>".
func (k *KeyPair) KeyID() string {
	return k.did + "#" + strings.TrimPrefix(k.did, "did:key:")
}

func (k *KeyPair) Sign(msg []byte) []byte { return ed25519.Sign(k.priv, msg) }

func (k *KeyPair) PublicKey() ed25519.PublicKey { return k.priv.Public().(ed25519.PublicKey) }

func (k *KeyPair) PrivateKey() ed25519.PrivateKey { return k.priv }

func (k *KeyPair) Seed() []byte { return k.priv.Seed() }
