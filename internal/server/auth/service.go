// Package auth runs DID sign-in: challenges, verification of signed
// presentations, and the access and backup tokens interpreted on every
// request.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/did"
	"github.com/dmitrijs2005/hivenode/internal/logging"
	"github.com/dmitrijs2005/hivenode/internal/server/config"
	"github.com/dmitrijs2005/hivenode/internal/server/models"
	"github.com/dmitrijs2005/hivenode/internal/server/repositories/repomanager"
)

type accessProps struct {
	UserDID        string `json:"userDid"`
	AppDID         string `json:"appDid,omitempty"`
	AppInstanceDID string `json:"appInstanceDid,omitempty"`
	Nonce          string `json:"nonce,omitempty"`
}

type backupProps struct {
	UserDID    string `json:"userDid"`
	SourceDID  string `json:"sourceDid"`
	TargetHost string `json:"targetHost"`
}

type Service struct {
	m             repomanager.RepositoryManager
	tokens        *Tokens
	resolver      did.Resolver
	docs          *did.Store
	challengeTTL  time.Duration
	accessTTL     time.Duration
	purgeInterval time.Duration
	log           logging.Logger
}

func NewService(m repomanager.RepositoryManager, tokens *Tokens, resolver did.Resolver, docs *did.Store, cfg *config.Config, log logging.Logger) *Service {
	return &Service{
		m:             m,
		tokens:        tokens,
		resolver:      resolver,
		docs:          docs,
		challengeTTL:  cfg.ChallengeValidityDuration,
		accessTTL:     cfg.AccessTokenValidityDuration,
		purgeInterval: cfg.AuthPurgeInterval,
		log:           log.With("module", "auth"),
	}
}

func (s *Service) NodeDID() string { return s.tokens.DID() }

func (s *Service) Tokens() *Tokens { return s.tokens }

// SignIn validates and caches the app-instance document and returns a
// challenge bound to a fresh nonce.
func (s *Service) SignIn(ctx context.Context, rawDoc []byte) (string, error) {
	doc, err := did.ParseDocument(rawDoc)
	if err != nil {
		return "", common.DIDError("%v", err)
	}
	if err := doc.Validate(now()); err != nil {
		return "", common.DIDError("%v", err)
	}
	if err := s.docs.SaveDocument(doc); err != nil {
		return "", common.Internal(err, "save did document")
	}

	nonce := uuid.NewString()
	expires := now().Add(s.challengeTTL)
	if err := s.m.AuthRegister(s.m.DB()).SaveNonce(ctx, doc.ID, nonce, expires.Unix()); err != nil {
		return "", err
	}
	s.log.Debug(ctx, "sign-in challenge issued", "app_instance_did", doc.ID)
	return s.tokens.Issue(SubjectChallenge, doc.ID, expires, nonce, nil)
}

type verifiedResponse struct {
	row  *models.AuthRegister
	cred *did.Credential
}

// verifyResponse checks a challenge response and returns the sign-in row
// and the credential of type credType it presents.
func (s *Service) verifyResponse(ctx context.Context, response, credType string) (*verifiedResponse, error) {
	claims, err := ParseSigned(ctx, response, s.resolver, s.tokens.DID())
	if err != nil {
		return nil, err
	}
	if len(claims.Presentation) == 0 {
		return nil, common.InvalidParameter("challenge response carries no presentation")
	}
	p, err := did.ParsePresentation(claims.Presentation)
	if err != nil {
		return nil, common.DIDError("%v", err)
	}
	if err := p.Verify(ctx, s.resolver); err != nil {
		return nil, common.DIDError("presentation: %v", err)
	}
	if p.Holder != claims.Issuer {
		return nil, common.DIDError("presentation holder %s did not sign the response", p.Holder)
	}
	if p.Realm() != s.tokens.DID() {
		return nil, common.DIDError("presentation realm %q is not this node", p.Realm())
	}

	row, err := s.m.AuthRegister(s.m.DB()).GetByNonce(ctx, p.Nonce())
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.Unauthorized("unknown nonce")
		}
		return nil, err
	}
	if row.NonceExpiresAt < now().Unix() {
		return nil, common.Unauthorized("challenge expired")
	}
	if row.AppInstanceDID != p.Holder {
		return nil, common.Unauthorized("nonce was issued to another instance")
	}

	creds, err := p.Credentials()
	if err != nil {
		return nil, common.DIDError("%v", err)
	}
	var cred *did.Credential
	for _, c := range creds {
		if c.HasType(credType) {
			cred = c
			break
		}
	}
	if cred == nil {
		return nil, common.DIDError("presentation carries no %s", credType)
	}
	if err := cred.Verify(ctx, s.resolver, now()); err != nil {
		return nil, common.DIDError("credential: %v", err)
	}
	if cred.SubjectID() != row.AppInstanceDID {
		return nil, common.DIDError("credential subject %s does not match %s", cred.SubjectID(), row.AppInstanceDID)
	}
	return &verifiedResponse{row: row, cred: cred}, nil
}

// Auth completes an app sign-in and returns an access token.
func (s *Service) Auth(ctx context.Context, response string) (string, error) {
	v, err := s.verifyResponse(ctx, response, did.TypeAppIDCredential)
	if err != nil {
		return "", err
	}
	appDID := v.cred.SubjectString("appDid")
	if appDID == "" {
		return "", common.DIDError("credential subject carries no appDid")
	}

	expires := now().Add(s.accessTTL)
	if vcExp, ok, _ := v.cred.Expiration(); ok && vcExp.Before(expires) {
		expires = vcExp
	}
	props := accessProps{
		UserDID:        v.cred.Issuer,
		AppDID:         appDID,
		AppInstanceDID: v.row.AppInstanceDID,
		Nonce:          v.row.Nonce,
	}
	tok, err := s.tokens.Issue(SubjectAccess, v.row.AppInstanceDID, expires, v.row.Nonce, props)
	if err != nil {
		return "", common.Internal(err, "sign access token")
	}
	if err := s.m.AuthRegister(s.m.DB()).SaveToken(ctx, v.row.AppInstanceDID, props.UserDID, appDID, tok, expires.Unix()); err != nil {
		return "", err
	}
	s.log.Info(ctx, "access token issued", "user_did", props.UserDID, "app_did", appDID)
	return tok, nil
}

// BackupAuth completes the sign-in of a peer node presenting a backup
// credential issued by the user, and returns a backup token.
func (s *Service) BackupAuth(ctx context.Context, response string) (string, error) {
	v, err := s.verifyResponse(ctx, response, did.TypeBackupCredential)
	if err != nil {
		return "", err
	}
	if target := v.cred.SubjectString("targetDID"); target != "" && target != s.tokens.DID() {
		return "", common.DIDError("backup credential targets %s", target)
	}

	expires := now().Add(s.accessTTL)
	if vcExp, ok, _ := v.cred.Expiration(); ok && vcExp.Before(expires) {
		expires = vcExp
	}
	props := backupProps{
		UserDID:    v.cred.Issuer,
		SourceDID:  v.cred.SubjectString("sourceDID"),
		TargetHost: v.cred.SubjectString("targetHost"),
	}
	tok, err := s.tokens.Issue(SubjectBackup, v.row.AppInstanceDID, expires, v.row.Nonce, props)
	if err != nil {
		return "", common.Internal(err, "sign backup token")
	}
	if err := s.m.AuthRegister(s.m.DB()).SaveToken(ctx, v.row.AppInstanceDID, props.UserDID, "", tok, expires.Unix()); err != nil {
		return "", err
	}
	s.log.Info(ctx, "backup token issued", "user_did", props.UserDID, "source_did", v.row.AppInstanceDID)
	return tok, nil
}

// ParseAccess interprets an access token. requireApp is false only for
// paths that accept tokens without an app.
func (s *Service) ParseAccess(token string, requireApp bool) (*Identity, error) {
	claims, err := s.tokens.Parse(token, SubjectAccess)
	if err != nil {
		return nil, err
	}
	var p accessProps
	if err := claims.DecodeProps(&p); err != nil {
		return nil, err
	}
	if p.UserDID == "" {
		return nil, common.Unauthorized("token carries no user did")
	}
	if requireApp && p.AppDID == "" {
		return nil, common.Unauthorized("token carries no app did")
	}
	return &Identity{UserDID: p.UserDID, AppDID: p.AppDID, AppInstanceDID: p.AppInstanceDID}, nil
}

// ParseBackup interprets an inter-node backup token.
func (s *Service) ParseBackup(token string) (*Identity, error) {
	claims, err := s.tokens.Parse(token, SubjectBackup)
	if err != nil {
		return nil, err
	}
	var p backupProps
	if err := claims.DecodeProps(&p); err != nil {
		return nil, err
	}
	if p.UserDID == "" {
		return nil, common.Unauthorized("token carries no user did")
	}
	var aud string
	if len(claims.Audience) > 0 {
		aud = claims.Audience[0]
	}
	return &Identity{UserDID: p.UserDID, AppInstanceDID: aud, Backup: true, SourceDID: p.SourceDID, TargetHost: p.TargetHost}, nil
}

// Purge deletes sign-in rows whose nonce and token have both expired.
func (s *Service) Purge(ctx context.Context) (int64, error) {
	return s.m.AuthRegister(s.m.DB()).PurgeExpired(ctx, now().Unix())
}

// RunPurger calls Purge every purge interval until ctx is done.
func (s *Service) RunPurger(ctx context.Context) {
	if s.purgeInterval <= 0 {
		return
	}
	t := time.NewTicker(s.purgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.Purge(ctx)
			if err != nil {
				s.log.Warn(ctx, "purge auth register failed", "error", err)
				continue
			}
			if n > 0 {
				s.log.Debug(ctx, "auth register purged", "rows", n)
			}
		}
	}
}
