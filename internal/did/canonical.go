package did

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidProof is returned when a signature does not verify.
var ErrInvalidProof = errors.New("invalid proof")

// Proof is an ed25519 signature over the canonical form of its container.
// Every field except Signature is covered by the signature.
type Proof struct {
	Type               string `json:"type"`
	Created            string `json:"created,omitempty"`
	VerificationMethod string `json:"verificationMethod"`
	Realm              string `json:"realm,omitempty"`
	Nonce              string `json:"nonce,omitempty"`
	Signature          string `json:"signature,omitempty"`
}

const proofType = "Ed25519Signature2018"

// canonicalize returns the signing input for a JSON object: keys sorted,
// numbers untouched, proof.signature removed.
func canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	if p, ok := obj["proof"].(map[string]any); ok {
		delete(p, "signature")
	}
	return json.Marshal(obj)
}

// signJSON fills proof.Signature for the object produced by marshal.
// marshal must serialize the container with proof (sans signature) embedded.
func signJSON(signer Signer, proof *Proof, marshal func() ([]byte, error)) error {
	proof.Signature = ""
	raw, err := marshal()
	if err != nil {
		return err
	}
	msg, err := canonicalize(raw)
	if err != nil {
		return err
	}
	proof.Signature = base64.RawURLEncoding.EncodeToString(signer.Sign(msg))
	return nil
}

func newProof(signer Signer, now time.Time) *Proof {
	return &Proof{
		Type:               proofType,
		Created:            now.UTC().Format(time.RFC3339),
		VerificationMethod: signer.KeyID(),
	}
}

// verifyJSON checks proof against raw, using the key named by
// proof.VerificationMethod in doc.
func verifyJSON(raw []byte, proof *Proof, doc *Document) error {
	if proof == nil || proof.Signature == "" {
		return fmt.Errorf("%w: missing proof", ErrInvalidProof)
	}
	pub, err := doc.PublicKey(proof.VerificationMethod)
	if err != nil {
		return err
	}
	sig, err := base64.RawURLEncoding.DecodeString(proof.Signature)
	if err != nil {
		return fmt.Errorf("%w: bad signature encoding", ErrInvalidProof)
	}
	msg, err := canonicalize(raw)
	if err != nil {
		return err
	}
	if !ed25519Verify(pub, msg, sig) {
		return ErrInvalidProof
	}
	return nil
}
