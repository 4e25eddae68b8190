// Package server wires the node together: storage backends, the object
// network client, the services and the HTTP API. It runs the HTTP server,
// the auth purger and reboot recovery, and shuts everything down on
// SIGINT/SIGTERM.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/hivenode/internal/buildinfo"
	"github.com/dmitrijs2005/hivenode/internal/did"
	"github.com/dmitrijs2005/hivenode/internal/docstore"
	"github.com/dmitrijs2005/hivenode/internal/logging"
	"github.com/dmitrijs2005/hivenode/internal/objectstore"
	"github.com/dmitrijs2005/hivenode/internal/server/api"
	"github.com/dmitrijs2005/hivenode/internal/server/apps"
	"github.com/dmitrijs2005/hivenode/internal/server/auth"
	"github.com/dmitrijs2005/hivenode/internal/server/backup"
	"github.com/dmitrijs2005/hivenode/internal/server/cidref"
	"github.com/dmitrijs2005/hivenode/internal/server/config"
	"github.com/dmitrijs2005/hivenode/internal/server/database"
	"github.com/dmitrijs2005/hivenode/internal/server/files"
	"github.com/dmitrijs2005/hivenode/internal/server/metrics"
	"github.com/dmitrijs2005/hivenode/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/hivenode/internal/server/scripting"
	"github.com/dmitrijs2005/hivenode/internal/server/vault"
	"github.com/dmitrijs2005/hivenode/internal/server/worker"
)

const (
	shutdownTimeout  = 30 * time.Second
	objectTimeout    = 2 * time.Minute
	resolverTimeout  = 10 * time.Second
	objectReadRetry  = 3
	objectRetryDelay = 200 * time.Millisecond
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	sqlDB   *sql.DB
	node    *did.Identity
	handler http.Handler
	auth    *auth.Service
	backup  *backup.Service
	pool    *worker.Pool
	stop    context.CancelFunc
}

type options struct {
	logger  logging.Logger
	objects objectstore.Backend
}

// Option adjusts how NewApp builds the node.
type Option func(*options)

// WithLogger replaces the logger built from the configuration.
func WithLogger(l logging.Logger) Option { return func(o *options) { o.logger = l } }

// WithObjectBackend replaces the object network selected by the
// configuration.
func WithObjectBackend(b objectstore.Backend) Option { return func(o *options) { o.objects = b } }

func NewApp(ctx context.Context, c *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	logger := o.logger
	if logger == nil {
		l, err := logging.New(c.LogFormat, c.LogLevel, os.Stdout)
		if err != nil {
			return nil, err
		}
		logger = l
	}

	plans := config.DefaultPlans()
	if c.PricingPlansFile != "" {
		p, err := config.LoadPlans(c.PricingPlansFile)
		if err != nil {
			return nil, err
		}
		plans = p
	}

	app := &App{config: c, logger: logger}

	var (
		repos repomanager.RepositoryManager
		docs  docstore.Store
	)
	switch c.StorageBackend {
	case config.StorageBackendMemory:
		repos = repomanager.NewMemoryRepositoryManager()
		docs = docstore.NewMemory()
	default:
		db, err := sql.Open("pgx", c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("db init error: %w", err)
		}
		app.sqlDB = db
		if repos, err = repomanager.NewPostgresRepositoryManager(db); err != nil {
			db.Close()
			return nil, err
		}
		if err := repos.RunMigrations(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		docs = docstore.NewPostgres(db)
	}

	node, err := did.LoadOrCreateIdentity(c.DIDStoreDir)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("node identity: %w", err)
	}
	app.node = node
	didStore := did.NewStore(filepath.Join(c.DIDStoreDir, "docs"))
	resolver := did.Chain{did.KeyResolver{}, didStore}
	if c.DIDResolverURL != "" {
		resolver = append(resolver, did.NewHTTPResolver(c.DIDResolverURL, resolverTimeout))
	}

	var vaults *vault.Service
	m := metrics.New(func() float64 {
		n, err := vaults.CountActive(context.Background())
		if err != nil {
			return 0
		}
		return float64(n)
	})

	backend := o.objects
	if backend == nil {
		if backend, err = objectBackend(ctx, c, node); err != nil {
			app.close()
			return nil, err
		}
	}
	tmpDir := filepath.Join(c.DataDir, "tmp")
	objects := objectstore.NewClient(backend,
		objectstore.WithRetry(objectReadRetry, objectRetryDelay),
		objectstore.WithTempDir(tmpDir),
		objectstore.WithObserver(m.ObjectOperation))

	tokens := auth.NewTokens(node.Key)
	appSvc := apps.NewService(repos, c.UserDatabasePrefix(), logger)
	vaults = vault.NewService(repos, plans, appSvc, docs, c.EnforceQuota, logger)
	refs := cidref.NewService(repos, objects, logger)
	fileSvc := files.NewService(docs, appSvc, vaults, refs, objects, c.DataDir, logger)
	vaults.SetPurger(fileSvc)
	dbSvc := database.NewService(docs, appSvc, vaults, logger)
	scripts := scripting.NewService(dbSvc, fileSvc, vaults, tokens, c.BaseURL, c.TransactionValidityDuration, logger)
	app.auth = auth.NewService(repos, tokens, resolver, didStore, c, logger)
	app.backup = backup.NewService(backup.Deps{
		Repos:    repos,
		Node:     node,
		Tokens:   tokens,
		Resolver: resolver,
		Docs:     docs,
		Apps:     appSvc,
		Vaults:   vaults,
		Files:    fileSvc,
		Refs:     refs,
		Objects:  objects,
		Plans:    plans,
		DataDir:  c.DataDir,
		Options:  backup.OptionsFromConfig(c),
		Observer: m.BackupTransition,
	}, logger)

	// the pool outlives request contexts and drains on Close
	poolCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	app.stop = stop
	app.pool = worker.NewPool(poolCtx, c.WorkerPoolSize, m.WorkerTask, logger)

	gin.SetMode(gin.ReleaseMode)
	app.handler = api.NewRouter(api.Deps{
		Auth:     app.auth,
		Apps:     appSvc,
		Vaults:   vaults,
		Database: dbSvc,
		Files:    fileSvc,
		Scripts:  scripts,
		Backup:   app.backup,
		Plans:    plans,
		Pool:     app.pool,
		Metrics:  m,
		Node: api.NodeInfo{
			Name:        c.NodeName,
			Email:       c.NodeEmail,
			Description: c.NodeDescription,
			OwnerDID:    c.OwnerDID,
			Version:     buildinfo.Version,
			CommitID:    buildinfo.Commit,
		},
		RateLimit: c.SigninRateLimit,
		RateBurst: c.SigninRateBurst,
	}, logger)

	return app, nil
}

func objectBackend(ctx context.Context, c *config.Config, node *did.Identity) (objectstore.Backend, error) {
	switch c.ObjectStore {
	case config.ObjectStoreMemory:
		return objectstore.NewMemoryNetwork().Node(node.DID()), nil
	case config.ObjectStoreS3:
		nodeID, err := did.MethodSpecificID(node.DID())
		if err != nil {
			return nil, err
		}
		b, err := objectstore.NewS3Backend(ctx, objectstore.S3Options{
			Bucket:    c.S3Bucket,
			Prefix:    c.S3Prefix,
			Region:    c.S3Region,
			Endpoint:  c.S3BaseEndpoint,
			AccessKey: c.S3RootUser,
			SecretKey: c.S3RootPassword,
			NodeID:    nodeID,
			TempDir:   filepath.Join(c.DataDir, "tmp"),
		})
		if err != nil {
			return nil, fmt.Errorf("s3 backend: %w", err)
		}
		return b, nil
	default:
		return objectstore.NewKuboBackend(c.IPFSAPIURL, objectTimeout), nil
	}
}

// Handler serves the HTTP API.
func (app *App) Handler() http.Handler { return app.handler }

// NodeDID is the DID the node signs with.
func (app *App) NodeDID() string { return app.node.DID() }

// Node is the identity of the node.
func (app *App) Node() *did.Identity { return app.node }

// Start binds background work to ctx and schedules reboot recovery. Run
// calls it; tests serving Handler themselves call it directly.
func (app *App) Start(ctx context.Context) {
	app.backup.Bind(ctx)
	go app.auth.RunPurger(ctx)

	delay := app.config.RecoveryDelay
	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		err := app.pool.Submit("recovery", func(ctx context.Context) error {
			return app.backup.Recover(ctx)
		})
		if err != nil {
			app.logger.Warn(ctx, "recovery not queued", "error", err)
		}
	}()
}

// Shutdown drains the worker pool and waits for backup executors, then
// releases the database.
func (app *App) Shutdown() {
	app.pool.Close()
	app.stop()
	app.backup.Wait()
	app.close()
}

func (app *App) close() {
	if app.sqlDB == nil {
		return
	}
	if err := app.sqlDB.Close(); err != nil {
		app.logger.Warn(context.Background(), "close database", "error", err)
	}
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// down gracefully.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app.logger.Info(ctx, "Starting app...", "node_did", app.NodeDID(), "address", app.config.HTTPAddr)
	app.Start(ctx)

	srv := &http.Server{
		Addr:              app.config.HTTPAddr,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info(gctx, "Stopping HTTP server...")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err := g.Wait()
	app.Shutdown()
	app.logger.Info(context.Background(), "App stopped")
	return err
}
