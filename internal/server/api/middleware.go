package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/logging"
	"github.com/dmitrijs2005/hivenode/internal/server/auth"
)

const requestIDKey = "request_id"

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(common.RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(common.RequestIDHeader, id)
		c.Request = c.Request.WithContext(logging.ContextWithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func (h *handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		route := c.FullPath()
		status := c.Writer.Status()
		if h.metrics != nil {
			h.metrics.ObserveRequest(c.Request.Method, route, status, latency)
		}
		h.log.Info(c.Request.Context(), "request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"latency", latency)
	}
}

func (h *handler) recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		h.log.Error(c.Request.Context(), "handler panic",
			"panic", recovered,
			"route", c.FullPath(),
			"stack", string(debug.Stack()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, envelope(fmt.Errorf("%v", recovered)))
	})
}

func identity(c *gin.Context) *auth.Identity {
	return auth.IdentityFrom(c.Request.Context())
}

func (h *handler) bind(c *gin.Context, id *auth.Identity) {
	ctx := auth.WithIdentity(c.Request.Context(), id)
	c.Request = c.Request.WithContext(logging.ContextWithCaller(ctx, id.UserDID, id.AppDID))
}

// requireAccess accepts access tokens that name an app and registers the
// (user, app) pair on first sight.
func (h *handler) requireAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, err := auth.BearerToken(c.GetHeader(common.AuthorizationHeader))
		if err != nil {
			h.fail(c, err)
			return
		}
		id, err := h.auth.ParseAccess(tok, true)
		if err != nil {
			h.fail(c, err)
			return
		}
		if err := h.apps.Ensure(c.Request.Context(), id.UserDID, id.AppDID); err != nil {
			h.fail(c, err)
			return
		}
		h.bind(c, id)
		c.Next()
	}
}

// optionalAccess binds an identity when the request carries a token and
// lets anonymous requests through. A token that is present must be valid.
func (h *handler) optionalAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(common.AuthorizationHeader)
		if header == "" {
			c.Next()
			return
		}
		tok, err := auth.BearerToken(header)
		if err != nil {
			h.fail(c, err)
			return
		}
		id, err := h.auth.ParseAccess(tok, false)
		if err != nil {
			h.fail(c, err)
			return
		}
		if id.AppDID != "" {
			if err := h.apps.Ensure(c.Request.Context(), id.UserDID, id.AppDID); err != nil {
				h.fail(c, err)
				return
			}
		}
		h.bind(c, id)
		c.Next()
	}
}

// requireBackup accepts inter-node backup tokens only.
func (h *handler) requireBackup() gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, err := auth.BearerToken(c.GetHeader(common.AuthorizationHeader))
		if err != nil {
			h.fail(c, err)
			return
		}
		id, err := h.auth.ParseBackup(tok)
		if err != nil {
			h.fail(c, err)
			return
		}
		h.bind(c, id)
		c.Next()
	}
}

// readOnlyPrefixes need no usage reconciliation after a request.
var readOnlyPrefixes = []string{
	common.APIPrefix + "/did/",
	common.APIPrefix + "/about/",
	common.APIPrefix + "/payment/",
	common.APIPrefix + "/subscription/",
}

func reconciles(path string) bool {
	for _, p := range readOnlyPrefixes {
		if strings.HasPrefix(path, p) {
			return false
		}
	}
	return true
}

// maintenance queues access accounting for authenticated requests and,
// outside the read-only subtrees, a recount of database usage.
func (h *handler) maintenance() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		id := identity(c)
		if h.pool == nil || id == nil || id.Backup || id.AppDID == "" {
			return
		}
		amount := max(c.Request.ContentLength, 0) + int64(max(c.Writer.Size(), 0))
		recount := reconciles(c.Request.URL.Path) && c.Writer.Status() < http.StatusBadRequest
		user, app := id.UserDID, id.AppDID
		err := h.pool.Submit("maintenance", func(ctx context.Context) error {
			if err := h.apps.RecordAccess(ctx, user, app, 1, amount); err != nil {
				return err
			}
			if !recount {
				return nil
			}
			if err := h.vaults.TouchAccess(ctx, user); err != nil && !errors.Is(err, common.ErrorNotFound) {
				return err
			}
			if _, err := h.vaults.RecomputeDBUsed(ctx, user); err != nil && !errors.Is(err, common.ErrorNotFound) {
				return err
			}
			return nil
		})
		if err != nil {
			h.log.Warn(c.Request.Context(), "maintenance not queued", "error", err)
		}
	}
}

// RateLimiter hands out one token bucket per client key. Buckets idle for
// longer than ttl are dropped.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	lastGC   time.Time
	now      func() time.Time
}

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return NewRateLimiterWithNow(perSecond, burst, time.Now)
}

func NewRateLimiterWithNow(perSecond float64, burst int, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		ttl:      10 * time.Minute,
		lastGC:   now(),
		now:      now,
	}
}

func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastGC) > rl.ttl {
		for k, v := range rl.visitors {
			if now.Sub(v.seen) > rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.lastGC = now
	}
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.seen = now
	return v.lim.AllowN(now, 1)
}

func (h *handler) rateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			h.fail(c, &common.Error{Kind: common.KindTooManyRequests, Message: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
