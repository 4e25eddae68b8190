package did

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Credential types the node understands.
const (
	TypeVerifiableCredential = "VerifiableCredential"
	TypeAppIDCredential      = "AppIdCredential"
	TypeBackupCredential     = "BackupCredential"
)

// Credential is a W3C-style verifiable credential.
type Credential struct {
	ID                string         `json:"id"`
	Type              []string       `json:"type"`
	Issuer            string         `json:"issuer"`
	IssuanceDate      string         `json:"issuanceDate"`
	ExpirationDate    string         `json:"expirationDate,omitempty"`
	CredentialSubject map[string]any `json:"credentialSubject"`
	Proof             *Proof         `json:"proof,omitempty"`

	raw []byte
}

// ParseCredential decodes a credential and keeps its bytes for verification.
func ParseCredential(data []byte) (*Credential, error) {
	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: credential: %v", ErrInvalidDID, err)
	}
	c.raw = append([]byte(nil), data...)
	return &c, nil
}

// MarshalJSON emits the original bytes of a parsed or issued credential so
// that embedding it elsewhere keeps the proof valid.
func (c *Credential) MarshalJSON() ([]byte, error) {
	if c.raw != nil {
		return c.raw, nil
	}
	type plain Credential
	return json.Marshal((*plain)(c))
}

// IssueCredential signs a credential about subject (which must carry "id").
func IssueCredential(issuer Signer, id string, types []string, subject map[string]any, issued, expires time.Time) (*Credential, error) {
	if _, ok := subject["id"].(string); !ok {
		return nil, fmt.Errorf("%w: credential subject requires id", ErrInvalidDID)
	}
	c := &Credential{
		ID:                id,
		Type:              append([]string{TypeVerifiableCredential}, types...),
		Issuer:            issuer.DID(),
		IssuanceDate:      issued.UTC().Format(time.RFC3339),
		CredentialSubject: subject,
	}
	if !expires.IsZero() {
		c.ExpirationDate = expires.UTC().Format(time.RFC3339)
	}

	type plain Credential
	c.Proof = newProof(issuer, issued)
	if err := signJSON(issuer, c.Proof, func() ([]byte, error) { return json.Marshal((*plain)(c)) }); err != nil {
		return nil, err
	}
	raw, err := json.Marshal((*plain)(c))
	if err != nil {
		return nil, err
	}
	c.raw = raw
	return c, nil
}

// HasType reports whether t is among the credential types.
func (c *Credential) HasType(t string) bool {
	for _, v := range c.Type {
		if v == t {
			return true
		}
	}
	return false
}

// SubjectID returns credentialSubject.id.
func (c *Credential) SubjectID() string {
	return c.SubjectString("id")
}

// SubjectString returns a string member of the subject, or "".
func (c *Credential) SubjectString(key string) string {
	s, _ := c.CredentialSubject[key].(string)
	return s
}

// Expiration returns the expiration date; ok is false when none is set.
func (c *Credential) Expiration() (t time.Time, ok bool, err error) {
	if c.ExpirationDate == "" {
		return time.Time{}, false, nil
	}
	t, err = time.Parse(time.RFC3339, c.ExpirationDate)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: bad expirationDate", ErrInvalidDID)
	}
	return t, true, nil
}

// Verify checks required members, expiry and the issuer's proof.
func (c *Credential) Verify(ctx context.Context, r Resolver, now time.Time) error {
	if c.Issuer == "" || c.SubjectID() == "" {
		return fmt.Errorf("%w: credential missing issuer or subject", ErrInvalidDID)
	}
	if exp, ok, err := c.Expiration(); err != nil {
		return err
	} else if ok && !exp.After(now) {
		return fmt.Errorf("%w: credential expired", ErrInvalidDID)
	}
	if c.Proof == nil || StripFragment(c.Proof.VerificationMethod) != c.Issuer {
		return fmt.Errorf("%w: credential not signed by issuer", ErrInvalidProof)
	}

	doc, err := r.Resolve(ctx, c.Issuer)
	if err != nil {
		return err
	}
	raw, err := c.MarshalJSON()
	if err != nil {
		return err
	}
	return verifyJSON(raw, c.Proof, doc)
}
