package backup

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/did"
	"github.com/dmitrijs2005/hivenode/internal/netx"
	"github.com/dmitrijs2005/hivenode/internal/server/auth"
)

// Paths of the backup node's internal API.
const (
	pathSignIn     = common.APIPrefix + "/did/signin"
	pathBackupAuth = common.APIPrefix + "/did/backup_auth"
	pathPush       = common.APIPrefix + "/vault-backup-service/backup"
	pathRestore    = common.APIPrefix + "/vault-backup-service/restore"
	pathState      = common.APIPrefix + "/vault-backup-service/state"
)

// PushRequest announces a new manifest to the backup node.
type PushRequest struct {
	CID       string `json:"cid" binding:"required"`
	SHA256    string `json:"sha256" binding:"required"`
	Size      int64  `json:"size" binding:"gt=0"`
	IsForce   bool   `json:"is_force"`
	PublicKey string `json:"public_key" binding:"required"`
}

// peer is an authenticated session with a backup node.
type peer struct {
	c           *netx.Client
	pollTimeout time.Duration
	pushTimeout time.Duration
}

func (s *Service) connect(host, token string) *peer {
	return &peer{
		c:           netx.NewClient(host, s.opts.PushTimeout).WithToken(token),
		pollTimeout: s.opts.PollTimeout,
		pushTimeout: s.opts.PushTimeout,
	}
}

// signIn authenticates this node at host with a backup credential and
// returns the backup token.
func (s *Service) signIn(ctx context.Context, host, targetDID string, cred *did.Credential) (string, error) {
	c := netx.NewClient(host, s.opts.PushTimeout)
	raw, err := s.node.Document.Raw()
	if err != nil {
		return "", err
	}
	var ch struct {
		Challenge string `json:"challenge"`
	}
	if err := c.DoJSON(ctx, http.MethodPost, pathSignIn, map[string]json.RawMessage{"id": raw}, &ch); err != nil {
		return "", err
	}
	resp, err := auth.AnswerChallenge(ctx, s.tokens, ch.Challenge, targetDID, s.resolver, []*did.Credential{cred})
	if err != nil {
		return "", err
	}
	var tok struct {
		Token string `json:"token"`
	}
	if err := c.DoJSON(ctx, http.MethodPost, pathBackupAuth, map[string]string{"challenge_response": resp}, &tok); err != nil {
		return "", err
	}
	if tok.Token == "" {
		return "", common.Unauthorized("backup node returned no token")
	}
	return tok.Token, nil
}

func (p *peer) state(ctx context.Context) (*StateInfo, error) {
	var st StateInfo
	if err := p.c.WithTimeout(p.pollTimeout).DoJSON(ctx, http.MethodGet, pathState, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (p *peer) push(ctx context.Context, req *PushRequest) error {
	return p.c.WithTimeout(p.pushTimeout).DoJSON(ctx, http.MethodPost, pathPush, req, nil)
}

// restore asks the backup node for the last manifest sealed to publicKey.
func (p *peer) restore(ctx context.Context, publicKey string) (*Descriptor, error) {
	var d Descriptor
	path := pathRestore + "?public_key=" + url.QueryEscape(publicKey)
	if err := p.c.WithTimeout(p.pushTimeout).DoJSON(ctx, http.MethodGet, path, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
