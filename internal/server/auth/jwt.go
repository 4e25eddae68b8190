package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/did"
)

// Token subjects.
const (
	SubjectChallenge   = "DIDAuthChallenge"
	SubjectAccess      = "AccessToken"
	SubjectBackup      = "BackupToken"
	SubjectTransaction = "ScriptingTransaction"
)

// Claims is the payload of every token the node issues or accepts. Props
// carries a JSON string, Presentation is set on challenge responses.
type Claims struct {
	jwt.RegisteredClaims
	Nonce        string          `json:"nonce,omitempty"`
	Props        string          `json:"props,omitempty"`
	Presentation json.RawMessage `json:"presentation,omitempty"`
}

// DecodeProps unmarshals the props claim into v.
func (c *Claims) DecodeProps(v any) error {
	if c.Props == "" {
		return fmt.Errorf("%w: props missing", common.ErrInvalidToken)
	}
	if err := json.Unmarshal([]byte(c.Props), v); err != nil {
		return fmt.Errorf("%w: props: %v", common.ErrInvalidToken, err)
	}
	return nil
}

var now = time.Now

var validMethods = jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()})

// Tokens issues tokens signed by a DID key and verifies the ones it issued.
type Tokens struct {
	key *did.KeyPair
}

func NewTokens(key *did.KeyPair) *Tokens {
	return &Tokens{key: key}
}

func (t *Tokens) DID() string { return t.key.DID() }

// Issue signs a token from this key. props, when non-nil, is JSON encoded
// into the props claim.
func (t *Tokens) Issue(subject, audience string, expires time.Time, nonce string, props any) (string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.key.DID(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now()),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Nonce: nonce,
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	if props != nil {
		b, err := json.Marshal(props)
		if err != nil {
			return "", err
		}
		claims.Props = string(b)
	}
	return t.sign(claims)
}

// Respond signs a challenge response carrying a presentation for audience.
func (t *Tokens) Respond(audience string, p *did.Presentation, ttl time.Duration) (string, error) {
	raw, err := p.MarshalJSON()
	if err != nil {
		return "", err
	}
	ts := now()
	return t.sign(&Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.key.DID(),
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(ts),
			ExpiresAt: jwt.NewNumericDate(ts.Add(ttl)),
		},
		Presentation: raw,
	})
}

func (t *Tokens) sign(claims *Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = t.key.KeyID()
	return tok.SignedString(t.key.PrivateKey())
}

// Parse verifies a token this key issued with the given subject.
func (t *Tokens) Parse(tokenString, subject string) (*Claims, error) {
	claims := &Claims{}
	pub := t.key.PublicKey()
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) { return pub, nil },
		validMethods,
		jwt.WithIssuer(t.key.DID()),
		jwt.WithSubject(subject),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	return claims, nil
}

// ParseSigned verifies a token signed by the DID named in its iss claim,
// resolving the key through r. audience, when set, must be among aud.
func ParseSigned(ctx context.Context, tokenString string, r did.Resolver, audience string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{validMethods, jwt.WithExpirationRequired(), jwt.WithTimeFunc(now)}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(tok *jwt.Token) (any, error) {
		iss := tok.Claims.(*Claims).Issuer
		if iss == "" {
			return nil, fmt.Errorf("issuer missing")
		}
		doc, err := r.Resolve(ctx, iss)
		if err != nil {
			return nil, err
		}
		kid, _ := tok.Header["kid"].(string)
		pub, err := doc.PublicKey(kid)
		if err != nil {
			return nil, err
		}
		return ed25519.PublicKey(pub), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	return claims, nil
}
