package did

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const TypeVerifiablePresentation = "VerifiablePresentation"

// Presentation wraps credentials with a holder proof bound to a realm and a
// nonce.
type Presentation struct {
	Type                 []string          `json:"type"`
	Holder               string            `json:"holder"`
	VerifiableCredential []json.RawMessage `json:"verifiableCredential"`
	Proof                *Proof            `json:"proof,omitempty"`

	raw []byte
}

// ParsePresentation decodes a presentation and keeps its bytes.
func ParsePresentation(data []byte) (*Presentation, error) {
	var p Presentation
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: presentation: %v", ErrInvalidDID, err)
	}
	p.raw = append([]byte(nil), data...)
	return &p, nil
}

func (p *Presentation) MarshalJSON() ([]byte, error) {
	if p.raw != nil {
		return p.raw, nil
	}
	type plain Presentation
	return json.Marshal((*plain)(p))
}

// CreatePresentation signs creds on behalf of holder for realm/nonce.
func CreatePresentation(holder Signer, creds []*Credential, realm, nonce string, now time.Time) (*Presentation, error) {
	p := &Presentation{
		Type:   []string{TypeVerifiablePresentation},
		Holder: holder.DID(),
	}
	for _, c := range creds {
		raw, err := c.MarshalJSON()
		if err != nil {
			return nil, err
		}
		p.VerifiableCredential = append(p.VerifiableCredential, raw)
	}

	type plain Presentation
	p.Proof = newProof(holder, now)
	p.Proof.Realm = realm
	p.Proof.Nonce = nonce
	if err := signJSON(holder, p.Proof, func() ([]byte, error) { return json.Marshal((*plain)(p)) }); err != nil {
		return nil, err
	}
	raw, err := json.Marshal((*plain)(p))
	if err != nil {
		return nil, err
	}
	p.raw = raw
	return p, nil
}

// Credentials parses the embedded credentials.
func (p *Presentation) Credentials() ([]*Credential, error) {
	out := make([]*Credential, 0, len(p.VerifiableCredential))
	for _, raw := range p.VerifiableCredential {
		c, err := ParseCredential(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Realm and Nonce come from the signed proof.
func (p *Presentation) Realm() string {
	if p.Proof == nil {
		return ""
	}
	return p.Proof.Realm
}

func (p *Presentation) Nonce() string {
	if p.Proof == nil {
		return ""
	}
	return p.Proof.Nonce
}

// Verify checks the holder's proof. Embedded credentials are verified
// separately by the caller, who knows which issuer to expect.
func (p *Presentation) Verify(ctx context.Context, r Resolver) error {
	if p.Holder == "" {
		return fmt.Errorf("%w: presentation without holder", ErrInvalidDID)
	}
	if p.Proof == nil || StripFragment(p.Proof.VerificationMethod) != p.Holder {
		return fmt.Errorf("%w: presentation not signed by holder", ErrInvalidProof)
	}
	doc, err := r.Resolve(ctx, p.Holder)
	if err != nil {
		return err
	}
	raw, err := p.MarshalJSON()
	if err != nil {
		return err
	}
	return verifyJSON(raw, p.Proof, doc)
}
