// Package api is the HTTP adapter of the node: a gin router over the
// services, the auth and maintenance middleware and the error envelope.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/logging"
	"github.com/dmitrijs2005/hivenode/internal/server/apps"
	"github.com/dmitrijs2005/hivenode/internal/server/auth"
	"github.com/dmitrijs2005/hivenode/internal/server/backup"
	"github.com/dmitrijs2005/hivenode/internal/server/config"
	"github.com/dmitrijs2005/hivenode/internal/server/database"
	"github.com/dmitrijs2005/hivenode/internal/server/files"
	"github.com/dmitrijs2005/hivenode/internal/server/metrics"
	"github.com/dmitrijs2005/hivenode/internal/server/scripting"
	"github.com/dmitrijs2005/hivenode/internal/server/vault"
	"github.com/dmitrijs2005/hivenode/internal/server/worker"
)

// NodeInfo is what /about reports besides the version.
type NodeInfo struct {
	Name        string
	Email       string
	Description string
	OwnerDID    string
	Version     string
	CommitID    string
}

type Deps struct {
	Auth      *auth.Service
	Apps      *apps.Service
	Vaults    *vault.Service
	Database  *database.Service
	Files     *files.Service
	Scripts   *scripting.Service
	Backup    *backup.Service
	Plans     *config.Plans
	Pool      *worker.Pool
	Metrics   *metrics.Metrics
	Node      NodeInfo
	RateLimit float64
	RateBurst int
}

type handler struct {
	auth    *auth.Service
	apps    *apps.Service
	vaults  *vault.Service
	db      *database.Service
	files   *files.Service
	scripts *scripting.Service
	backup  *backup.Service
	plans   *config.Plans
	pool    *worker.Pool
	metrics *metrics.Metrics
	node    NodeInfo
	log     logging.Logger
}

func NewRouter(d Deps, log logging.Logger) *gin.Engine {
	h := &handler{
		auth:    d.Auth,
		apps:    d.Apps,
		vaults:  d.Vaults,
		db:      d.Database,
		files:   d.Files,
		scripts: d.Scripts,
		backup:  d.Backup,
		plans:   d.Plans,
		pool:    d.Pool,
		metrics: d.Metrics,
		node:    d.Node,
		log:     log.With("module", "api"),
	}

	r := gin.New()
	r.ContextWithFallback = true
	// script parameters travel URL-encoded in a path segment
	r.UseRawPath = true
	r.Use(requestID(), h.accessLog(), h.recovery())
	r.NoRoute(func(c *gin.Context) {
		h.fail(c, common.NotFound(0, "%s %s not found", c.Request.Method, c.Request.URL.Path))
	})
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	v2 := r.Group(common.APIPrefix)
	v2.Use(h.maintenance())

	didGroup := v2.Group("/did")
	if d.RateLimit > 0 && d.RateBurst > 0 {
		didGroup.Use(h.rateLimit(NewRateLimiter(d.RateLimit, d.RateBurst)))
	}
	didGroup.POST("/signin", h.signIn)
	didGroup.POST("/auth", h.authenticate)
	didGroup.POST("/backup_auth", h.backupAuth)

	about := v2.Group("/about")
	about.GET("/version", h.version)
	about.GET("/commit_id", h.commitID)
	about.GET("/node", h.nodeInfo)

	// anonymous file and script access
	v2.GET("/vault/anonymous/:target/:cid", h.anonymousFile)
	opt := v2.Group("", h.optionalAccess())
	opt.PATCH("/vault/scripting/:name", h.runScript)
	opt.GET("/vault/scripting/:name/:target/:params", h.runScriptURL)
	opt.PUT("/vault/scripting/stream/:transaction_id", h.uploadStream)
	opt.GET("/vault/scripting/stream/:transaction_id", h.downloadStream)

	a := v2.Group("", h.requireAccess())
	a.PUT("/subscription/vault", h.subscribeVault)
	a.GET("/subscription/vault", h.vaultInfo)
	a.POST("/subscription/vault", h.activateVault)
	a.DELETE("/subscription/vault", h.unsubscribeVault)
	a.GET("/subscription/pricing_plan", h.pricingPlan)
	a.PUT("/subscription/backup", h.subscribeBackup)
	a.GET("/subscription/backup", h.backupInfo)
	a.DELETE("/subscription/backup", h.unsubscribeBackup)

	a.PUT("/vault/db/collections/:name", h.createCollection)
	a.DELETE("/vault/db/:name", h.deleteCollection)
	a.GET("/vault/db/:name", h.findDocuments)
	a.POST("/vault/db/query", h.queryDocuments)
	a.POST("/vault/db/collection/:name", h.insertOrCount)
	a.PATCH("/vault/db/collection/:name", h.updateDocuments)
	a.DELETE("/vault/db/collection/:name", h.deleteDocuments)

	a.PUT("/vault/files/*path", h.uploadFile)
	a.PATCH("/vault/files/*path", h.moveFile)
	a.GET("/vault/files/*path", h.getFile)
	a.DELETE("/vault/files/*path", h.deleteFile)

	a.PUT("/vault/scripting/:name", h.registerScript)
	a.DELETE("/vault/scripting/:name", h.unregisterScript)

	a.POST("/vault/content", h.startBackup)
	a.GET("/vault/content", h.backupState)
	a.POST("/backup/promotion", h.promote)

	b := v2.Group("/vault-backup-service", h.requireBackup())
	b.POST("/backup", h.acceptBackup)
	b.GET("/restore", h.restoreDescriptor)
	b.GET("/state", h.serverState)

	return r
}
