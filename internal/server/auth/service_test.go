package auth

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/did"
	"github.com/dmitrijs2005/hivenode/internal/logging"
	"github.com/dmitrijs2005/hivenode/internal/server/config"
	"github.com/dmitrijs2005/hivenode/internal/server/repositories/repomanager"
)

type fixture struct {
	svc      *Service
	node     *did.KeyPair
	user     *did.KeyPair
	instance *did.KeyPair
	resolver did.Resolver
}

func mustKey(t *testing.T) *did.KeyPair {
	t.Helper()
	kp, err := did.GenerateKeyPair()
	require.NoError(t, err)
	return kp
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()

	store := did.NewStore(t.TempDir())
	resolver := did.Chain{did.KeyResolver{}, store}
	node := mustKey(t)
	svc := NewService(repomanager.NewMemoryRepositoryManager(), NewTokens(node), resolver, store, cfg, logging.Nop{})
	return &fixture{svc: svc, node: node, user: mustKey(t), instance: mustKey(t), resolver: resolver}
}

func (f *fixture) instanceDoc(t *testing.T) []byte {
	t.Helper()
	doc, err := did.NewDocument(f.instance, time.Time{}, time.Now())
	require.NoError(t, err)
	raw, err := doc.Raw()
	require.NoError(t, err)
	return raw
}

func (f *fixture) appCredential(t *testing.T, subjectID string, ttl time.Duration) *did.Credential {
	t.Helper()
	ts := time.Now()
	c, err := did.IssueCredential(f.user, "urn:test:1", []string{did.TypeAppIDCredential},
		map[string]any{"id": subjectID, "appDid": "did:example:app"}, ts, ts.Add(ttl))
	require.NoError(t, err)
	return c
}

func (f *fixture) signIn(t *testing.T, creds ...*did.Credential) string {
	t.Helper()
	ctx := context.Background()
	challenge, err := f.svc.SignIn(ctx, f.instanceDoc(t))
	require.NoError(t, err)
	resp, err := AnswerChallenge(ctx, NewTokens(f.instance), challenge, f.node.DID(), f.resolver, creds)
	require.NoError(t, err)
	return resp
}

func TestSignInAuth_IssuesAccessToken(t *testing.T) {
	f := newFixture(t)
	resp := f.signIn(t, f.appCredential(t, f.instance.DID(), time.Hour))

	tok, err := f.svc.Auth(context.Background(), resp)
	require.NoError(t, err)

	id, err := f.svc.ParseAccess(tok, true)
	require.NoError(t, err)
	assert.Equal(t, f.user.DID(), id.UserDID)
	assert.Equal(t, "did:example:app", id.AppDID)
	assert.Equal(t, f.instance.DID(), id.AppInstanceDID)

	claims, err := f.svc.Tokens().Parse(tok, SubjectAccess)
	require.NoError(t, err)
	assert.Equal(t, f.node.DID(), claims.Issuer)
	assert.Equal(t, []string{f.instance.DID()}, []string(claims.Audience))
	// the credential expires before the access token lifetime
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

func TestSignIn_RejectsBadDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SignIn(context.Background(), []byte(`{"id":"not-a-did"}`))
	assert.ErrorIs(t, err, common.ErrorDID)
}

func TestAuth_ExpiredChallenge(t *testing.T) {
	f := newFixture(t)
	resp := f.signIn(t, f.appCredential(t, f.instance.DID(), time.Hour))

	orig := now
	now = func() time.Time { return time.Now().Add(4 * time.Minute) }
	t.Cleanup(func() { now = orig })

	_, err := f.svc.Auth(context.Background(), resp)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestAuth_CredentialForAnotherInstance(t *testing.T) {
	f := newFixture(t)
	other := mustKey(t)
	resp := f.signIn(t, f.appCredential(t, other.DID(), time.Hour))

	_, err := f.svc.Auth(context.Background(), resp)
	assert.ErrorIs(t, err, common.ErrorDID)
}

func TestAuth_MissingCredential(t *testing.T) {
	f := newFixture(t)
	resp := f.signIn(t)

	_, err := f.svc.Auth(context.Background(), resp)
	assert.ErrorIs(t, err, common.ErrorDID)
}

func TestAuth_ResponseForAnotherNode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SignIn(ctx, f.instanceDoc(t))
	require.NoError(t, err)

	p, err := did.CreatePresentation(f.instance, []*did.Credential{f.appCredential(t, f.instance.DID(), time.Hour)}, "did:key:zOther", "n", time.Now())
	require.NoError(t, err)
	resp, err := NewTokens(f.instance).Respond("did:key:zOther", p, time.Minute)
	require.NoError(t, err)

	_, err = f.svc.Auth(ctx, resp)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestBackupAuth(t *testing.T) {
	f := newFixture(t)
	ts := time.Now()
	cred, err := did.IssueCredential(f.user, "urn:test:b", []string{did.TypeBackupCredential}, map[string]any{
		"id":         f.instance.DID(),
		"sourceDID":  f.instance.DID(),
		"targetHost": "http://backup.example",
		"targetDID":  f.node.DID(),
	}, ts, ts.Add(time.Hour))
	require.NoError(t, err)

	tok, err := f.svc.BackupAuth(context.Background(), f.signIn(t, cred))
	require.NoError(t, err)

	id, err := f.svc.ParseBackup(tok)
	require.NoError(t, err)
	assert.True(t, id.Backup)
	assert.Equal(t, f.user.DID(), id.UserDID)
	assert.Equal(t, "http://backup.example", id.TargetHost)

	_, err = f.svc.ParseAccess(tok, false)
	assert.ErrorIs(t, err, common.ErrorUnauthorized, "backup tokens are not access tokens")
}

func TestParseAccess_Rules(t *testing.T) {
	f := newFixture(t)
	exp := time.Now().Add(time.Hour)

	noApp, err := f.svc.Tokens().Issue(SubjectAccess, "aud", exp, "", map[string]string{"userDid": "did:u"})
	require.NoError(t, err)
	_, err = f.svc.ParseAccess(noApp, true)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	id, err := f.svc.ParseAccess(noApp, false)
	require.NoError(t, err)
	assert.Equal(t, "did:u", id.UserDID)

	noUser, err := f.svc.Tokens().Issue(SubjectAccess, "aud", exp, "", map[string]string{"appDid": "did:a"})
	require.NoError(t, err)
	_, err = f.svc.ParseAccess(noUser, false)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	foreign, err := NewTokens(mustKey(t)).Issue(SubjectAccess, "aud", exp, "", map[string]string{"userDid": "did:u", "appDid": "did:a"})
	require.NoError(t, err)
	_, err = f.svc.ParseAccess(foreign, true)
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	expired, err := f.svc.Tokens().Issue(SubjectAccess, "aud", time.Now().Add(-time.Minute), "", map[string]string{"userDid": "did:u", "appDid": "did:a"})
	require.NoError(t, err)
	_, err = f.svc.ParseAccess(expired, true)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestClaimsProps(t *testing.T) {
	tokens := NewTokens(mustKey(t))
	tok, err := tokens.Issue(SubjectTransaction, "", time.Now().Add(time.Minute), "", map[string]string{"row_id": "r1"})
	require.NoError(t, err)

	claims, err := tokens.Parse(tok, SubjectTransaction)
	require.NoError(t, err)
	var props map[string]string
	require.NoError(t, claims.DecodeProps(&props))
	assert.Equal(t, "r1", props["row_id"])

	_, err = tokens.Parse(tok, SubjectAccess)
	assert.Error(t, err)

	raw, _ := json.Marshal(claims)
	assert.Contains(t, string(raw), `"props"`)
}

func TestBearerToken(t *testing.T) {
	for _, h := range []string{"token abc", "Bearer abc", "  TOKEN   abc "} {
		tok, err := BearerToken(h)
		require.NoError(t, err, h)
		assert.Equal(t, "abc", tok)
	}
	for _, h := range []string{"", "abc", "basic abc", "token "} {
		_, err := BearerToken(h)
		assert.ErrorIs(t, err, common.ErrorUnauthorized, h)
	}
}

func TestPurge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SignIn(ctx, f.instanceDoc(t))
	require.NoError(t, err)

	n, err := f.svc.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	orig := now
	now = func() time.Time { return time.Now().Add(time.Hour) }
	t.Cleanup(func() { now = orig })

	n, err = f.svc.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, IdentityFrom(ctx))
	id := &Identity{UserDID: "u"}
	assert.Same(t, id, IdentityFrom(WithIdentity(ctx, id)))
}
