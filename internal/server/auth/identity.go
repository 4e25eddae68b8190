package auth

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/hivenode/internal/common"
)

// Identity is who a request acts for, taken from its bearer token only.
// Backup is set for inter-node tokens, which carry no app.
type Identity struct {
	UserDID        string
	AppDID         string
	AppInstanceDID string
	Backup         bool
	SourceDID      string
	TargetHost     string
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity bound to ctx, or nil.
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// BearerToken extracts the token of an "Authorization: token|bearer <jwt>"
// header value.
func BearerToken(header string) (string, error) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok {
		return "", common.Unauthorized("authorization header missing or malformed")
	}
	switch strings.ToLower(scheme) {
	case "token", "bearer":
	default:
		return "", common.Unauthorized("unsupported authorization scheme %q", scheme)
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", common.Unauthorized("empty token")
	}
	return tok, nil
}
