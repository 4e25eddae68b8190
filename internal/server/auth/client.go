package auth

import (
	"context"
	"time"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/did"
)

// AnswerChallenge is the client half of sign-in: it checks that challenge
// was issued by service to the key behind tokens, then wraps creds in a
// presentation for the challenge nonce and signs the response.
func AnswerChallenge(ctx context.Context, tokens *Tokens, challenge, service string, r did.Resolver, creds []*did.Credential) (string, error) {
	claims, err := ParseSigned(ctx, challenge, r, tokens.DID())
	if err != nil {
		return "", err
	}
	if claims.Subject != SubjectChallenge || claims.Nonce == "" {
		return "", common.Unauthorized("not a sign-in challenge")
	}
	if service != "" && claims.Issuer != service {
		return "", common.Unauthorized("challenge issued by %s, expected %s", claims.Issuer, service)
	}
	p, err := did.CreatePresentation(tokens.key, creds, claims.Issuer, claims.Nonce, now())
	if err != nil {
		return "", err
	}
	return tokens.Respond(claims.Issuer, p, 5*time.Minute)
}
