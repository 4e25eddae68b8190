package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/hivenode/internal/server/config"
)

func queryBool(c *gin.Context, key string) (bool, error) {
	v := c.Query(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, badRequest("%s must be true or false", key)
	}
	return b, nil
}

func (h *handler) writeVaultInfo(c *gin.Context, status int) {
	id := identity(c)
	info, err := h.vaults.Info(c.Request.Context(), id.UserDID)
	if err != nil {
		h.fail(c, err)
		return
	}
	info.ServiceDID = h.auth.NodeDID()
	c.JSON(status, info)
}

func (h *handler) subscribeVault(c *gin.Context) {
	if _, err := h.vaults.Subscribe(c.Request.Context(), identity(c).UserDID); err != nil {
		h.fail(c, err)
		return
	}
	h.writeVaultInfo(c, http.StatusOK)
}

func (h *handler) vaultInfo(c *gin.Context) {
	recount, err := queryBool(c, "files_used")
	if err != nil {
		h.fail(c, err)
		return
	}
	if recount {
		if _, err := h.files.RecomputeUsed(c.Request.Context(), identity(c).UserDID); err != nil {
			h.fail(c, err)
			return
		}
	}
	h.writeVaultInfo(c, http.StatusOK)
}

func (h *handler) activateVault(c *gin.Context) {
	var active bool
	switch op := c.Query("op"); op {
	case "activation":
		active = true
	case "deactivation":
	default:
		h.fail(c, badRequest("unknown op %q", op))
		return
	}
	if err := h.vaults.Activate(c.Request.Context(), identity(c).UserDID, active); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (h *handler) unsubscribeVault(c *gin.Context) {
	force, err := queryBool(c, "force")
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.vaults.Unsubscribe(c.Request.Context(), identity(c).UserDID, force); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) pricingPlan(c *gin.Context) {
	kind := c.DefaultQuery("subscription", "all")
	name := c.Query("name")
	if kind != "all" && kind != "vault" && kind != "backup" {
		h.fail(c, badRequest("unknown subscription %q", kind))
		return
	}

	if name != "" {
		var (
			plan config.Plan
			err  error
		)
		switch kind {
		case "backup":
			plan, err = h.plans.BackupPlan(name)
		default:
			plan, err = h.plans.VaultPlan(name)
			if err != nil && kind == "all" {
				plan, err = h.plans.BackupPlan(name)
			}
		}
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, plan)
		return
	}

	out := config.Plans{Version: h.plans.Version}
	if kind != "backup" {
		out.PricingPlans = h.plans.PricingPlans
	}
	if kind != "vault" {
		out.BackupPlans = h.plans.BackupPlans
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) subscribeBackup(c *gin.Context) {
	info, err := h.backup.Subscribe(c.Request.Context(), identity(c).UserDID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *handler) backupInfo(c *gin.Context) {
	info, err := h.backup.Info(c.Request.Context(), identity(c).UserDID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *handler) unsubscribeBackup(c *gin.Context) {
	if err := h.backup.Unsubscribe(c.Request.Context(), identity(c).UserDID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
