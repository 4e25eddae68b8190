// Package backup replicates vaults between nodes. On the vault's node the
// client executor snapshots every app database, seals a manifest for the
// backup node and follows the peer until it has pinned everything; restore
// runs the other way. On the backup node the server executor anchors
// received manifests, and promotion turns the last one into a live vault.
package backup

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dmitrijs2005/hivenode/internal/did"
	"github.com/dmitrijs2005/hivenode/internal/docstore"
	"github.com/dmitrijs2005/hivenode/internal/logging"
	"github.com/dmitrijs2005/hivenode/internal/objectstore"
	"github.com/dmitrijs2005/hivenode/internal/server/apps"
	"github.com/dmitrijs2005/hivenode/internal/server/auth"
	"github.com/dmitrijs2005/hivenode/internal/server/cidref"
	"github.com/dmitrijs2005/hivenode/internal/server/config"
	"github.com/dmitrijs2005/hivenode/internal/server/files"
	"github.com/dmitrijs2005/hivenode/internal/server/models"
	"github.com/dmitrijs2005/hivenode/internal/server/repositories/repomanager"
)

// Executor roles reported to the observer.
const (
	RoleClient = "client"
	RoleServer = "server"
)

// Objects is the part of the object network client used here.
type Objects interface {
	Add(ctx context.Context, r io.Reader) (string, error)
	Get(ctx context.Context, cid string, exp objectstore.Expect) (io.ReadCloser, error)
	Pin(ctx context.Context, cid string) error
	Unpin(ctx context.Context, cid string) error
}

// Vaults is the vault registry as seen by backup and promotion.
type Vaults interface {
	Get(ctx context.Context, userDID string) (*models.Vault, error)
	CreateForPromotion(ctx context.Context, userDID string) (*models.Vault, error)
	SetDBUsed(ctx context.Context, userDID string, n int64) error
	RecomputeDBUsed(ctx context.Context, userDID string) (int64, error)
}

// Files is the file service as seen by backup.
type Files interface {
	FileRefs(ctx context.Context, userDID string) ([]files.FileRef, error)
	AppFileRefs(ctx context.Context, userDID, appDID string) ([]files.FileRef, error)
	RecomputeUsed(ctx context.Context, userDID string) (int64, error)
}

// Observer is told about every state a backup row enters.
type Observer func(role, action, state string)

// Options tune peer calls.
type Options struct {
	PushTimeout  time.Duration
	PollTimeout  time.Duration
	PollInterval time.Duration
}

// OptionsFromConfig takes the backup timings of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PushTimeout:  cfg.BackupPushTimeout,
		PollTimeout:  cfg.BackupPollTimeout,
		PollInterval: cfg.BackupPollInterval,
	}
}

// Deps are the collaborators of the service.
type Deps struct {
	Repos    repomanager.RepositoryManager
	Node     *did.Identity
	Tokens   *auth.Tokens
	Resolver did.Resolver
	Docs     docstore.Store
	Apps     *apps.Service
	Vaults   Vaults
	Files    Files
	Refs     *cidref.Service
	Objects  Objects
	Plans    *config.Plans
	DataDir  string
	Options  Options
	Observer Observer
}

type Service struct {
	m        repomanager.RepositoryManager
	node     *did.Identity
	tokens   *auth.Tokens
	resolver did.Resolver
	docs     docstore.Store
	apps     *apps.Service
	vaults   Vaults
	files    Files
	refs     *cidref.Service
	objects  Objects
	plans    *config.Plans
	tmpDir   string
	opts     Options
	observe  Observer
	log      logging.Logger

	root context.Context
	wg   sync.WaitGroup
	// pins is held for reading while a server executor has blobs pinned
	// that no reference holds yet, and for writing while such blobs are
	// discarded.
	pins sync.RWMutex
}

func NewService(d Deps, log logging.Logger) *Service {
	observe := d.Observer
	if observe == nil {
		observe = func(string, string, string) {}
	}
	return &Service{
		m:        d.Repos,
		node:     d.Node,
		tokens:   d.Tokens,
		resolver: d.Resolver,
		docs:     d.Docs,
		apps:     d.Apps,
		vaults:   d.Vaults,
		files:    d.Files,
		refs:     d.Refs,
		objects:  d.Objects,
		plans:    d.Plans,
		tmpDir:   filepath.Join(d.DataDir, "tmp"),
		opts:     d.Options,
		observe:  observe,
		log:      log.With("module", "backup"),
		root:     context.Background(),
	}
}

// Bind makes executors run under ctx. It must be called before any
// executor starts; cancelling ctx fails executors that are still running.
func (s *Service) Bind(ctx context.Context) { s.root = ctx }

// Wait blocks until every executor has finished.
func (s *Service) Wait() { s.wg.Wait() }

// spawn runs fn in the background. A returned error or panic is persisted
// through fail; fail runs even when the root context is gone.
func (s *Service) spawn(role, action, userDID string, fn func(ctx context.Context) error, fail func(ctx context.Context, msg string) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx := s.root
		log := s.log.With("role", role, "action", action, "user_did", userDID)

		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error(ctx, "executor panic", "panic", r, "stack", string(debug.Stack()))
					err = fmt.Errorf("executor panic: %v", r)
				}
			}()
			return fn(ctx)
		}()
		if err == nil {
			return
		}
		log.Error(ctx, "executor failed", "error", err)
		if ferr := fail(context.WithoutCancel(ctx), err.Error()); ferr != nil {
			log.Error(ctx, "persist failure", "error", ferr)
		}
		s.observe(role, action, models.BackupStateFailed)
	}()
}

// StateInfo is the state of the last backup or restore. State is the last
// action, or stop when there was none.
type StateInfo struct {
	State     string `json:"state"`
	Result    string `json:"result"`
	Message   string `json:"message"`
	PublicKey string `json:"public_key,omitempty"`
}

func stateOf(action, state, msg string) *StateInfo {
	if action == "" {
		return &StateInfo{State: models.BackupStateStop, Result: state, Message: msg}
	}
	return &StateInfo{State: action, Result: state, Message: msg}
}
