package did

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mr-tron/base58"
)

const verificationKeyType = "Ed25519VerificationKey2018"

// VerificationMethod is one public key of a document.
type VerificationMethod struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Controller      string `json:"controller,omitempty"`
	PublicKeyBase58 string `json:"publicKeyBase58"`
}

// Document is a DID document. Both "verificationMethod" and the older
// "publicKey" member are accepted on input.
type Document struct {
	ID                 string               `json:"id"`
	VerificationMethod []VerificationMethod `json:"verificationMethod,omitempty"`
	PublicKeys         []VerificationMethod `json:"publicKey,omitempty"`
	Authentication     []string             `json:"authentication,omitempty"`
	Expires            string               `json:"expires,omitempty"`
	Proof              *Proof               `json:"proof,omitempty"`

	raw []byte
}

// ParseDocument decodes a document, keeping the original bytes for proof
// verification.
func ParseDocument(data []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: document: %v", ErrInvalidDID, err)
	}
	d.raw = append([]byte(nil), data...)
	return &d, nil
}

// Raw returns the JSON the document was parsed from, or a fresh encoding.
func (d *Document) Raw() ([]byte, error) {
	if d.raw != nil {
		return d.raw, nil
	}
	return json.Marshal(d)
}

func (d *Document) methods() []VerificationMethod {
	out := make([]VerificationMethod, 0, len(d.VerificationMethod)+len(d.PublicKeys))
	out = append(out, d.VerificationMethod...)
	return append(out, d.PublicKeys...)
}

func (d *Document) matches(m VerificationMethod, keyID string) bool {
	if m.ID == keyID {
		return true
	}
	// relative ids ("#primary") and fragment-only references
	frag := keyID
	if i := strings.IndexByte(keyID, '#'); i >= 0 {
		frag = keyID[i:]
	}
	return m.ID == frag || strings.HasSuffix(m.ID, frag) && strings.HasPrefix(keyID, d.ID)
}

// PublicKey returns the key named by keyID. An empty keyID, or a document
// with a single key, selects the first key.
func (d *Document) PublicKey(keyID string) (ed25519.PublicKey, error) {
	methods := d.methods()
	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: document %s has no keys", ErrInvalidDID, d.ID)
	}

	var chosen *VerificationMethod
	if keyID != "" {
		if StripFragment(keyID) != d.ID && !strings.HasPrefix(keyID, "#") {
			return nil, fmt.Errorf("%w: key %s is not controlled by %s", ErrInvalidProof, keyID, d.ID)
		}
		for i := range methods {
			if d.matches(methods[i], keyID) {
				chosen = &methods[i]
				break
			}
		}
	}
	if chosen == nil {
		if keyID != "" && len(methods) > 1 {
			return nil, fmt.Errorf("%w: unknown key %s", ErrInvalidProof, keyID)
		}
		chosen = &methods[0]
	}

	raw, err := base58.Decode(chosen.PublicKeyBase58)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: malformed key %s", ErrInvalidDID, chosen.ID)
	}
	return ed25519.PublicKey(raw), nil
}

// Validate checks the structural rules a sign-in document must satisfy: an
// id, at least one key, no past expiry, a did:key id matching its key, and a
// valid self-signature when a proof is present.
func (d *Document) Validate(now time.Time) error {
	if _, err := MethodSpecificID(d.ID); err != nil {
		return err
	}
	if _, err := d.PublicKey(""); err != nil {
		return err
	}
	if d.Expires != "" {
		exp, err := time.Parse(time.RFC3339, d.Expires)
		if err != nil {
			return fmt.Errorf("%w: bad expires", ErrInvalidDID)
		}
		if !exp.After(now) {
			return fmt.Errorf("%w: document expired", ErrInvalidDID)
		}
	}
	if IsKeyDID(d.ID) {
		want, err := PublicKeyFromKeyDID(d.ID)
		if err != nil {
			return err
		}
		got, _ := d.PublicKey("")
		if !want.Equal(got) {
			return fmt.Errorf("%w: key does not match did:key", ErrInvalidDID)
		}
	}
	if d.Proof != nil {
		raw, err := d.Raw()
		if err != nil {
			return err
		}
		return verifyJSON(raw, d.Proof, d)
	}
	return nil
}

// NewDocument returns the self-signed document of a key pair.
func NewDocument(kp *KeyPair, expires time.Time, now time.Time) (*Document, error) {
	d := &Document{
		ID: kp.DID(),
		VerificationMethod: []VerificationMethod{{
			ID:              kp.KeyID(),
			Type:            verificationKeyType,
			Controller:      kp.DID(),
			PublicKeyBase58: base58.Encode(kp.PublicKey()),
		}},
		Authentication: []string{kp.KeyID()},
	}
	if !expires.IsZero() {
		d.Expires = expires.UTC().Format(time.RFC3339)
	}

	d.Proof = newProof(kp, now)
	if err := signJSON(kp, d.Proof, func() ([]byte, error) { return json.Marshal(d) }); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	d.raw = raw
	return d, nil
}

// KeyDocument synthesizes the document of a did:key identifier.
func KeyDocument(id string) (*Document, error) {
	id = StripFragment(id)
	pub, err := PublicKeyFromKeyDID(id)
	if err != nil {
		return nil, err
	}
	keyID := id + "#" + strings.TrimPrefix(id, "did:key:")
	return &Document{
		ID: id,
		VerificationMethod: []VerificationMethod{{
			ID:              keyID,
			Type:            verificationKeyType,
			Controller:      id,
			PublicKeyBase58: base58.Encode(pub),
		}},
		Authentication: []string{keyID},
	}, nil
}

func ed25519Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	return len(sig) == ed25519.SignatureSize && ed25519.Verify(pub, msg, sig)
}
