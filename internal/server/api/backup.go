package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/hivenode/internal/server/backup"
)

const hiveNode = "hive_node"

type contentRequest struct {
	Credential json.RawMessage `json:"credential" binding:"required"`
}

// credential accepts the credential as an object or as a JSON string
// holding one.
func (r *contentRequest) credential() (json.RawMessage, error) {
	var s string
	if err := json.Unmarshal(r.Credential, &s); err == nil {
		if !json.Valid([]byte(s)) {
			return nil, badRequest("credential is not JSON")
		}
		return json.RawMessage(s), nil
	}
	return r.Credential, nil
}

func (h *handler) startBackup(c *gin.Context) {
	force, err := queryBool(c, "is_force")
	if err != nil {
		h.fail(c, err)
		return
	}
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest("invalid request body: %v", err))
		return
	}
	cred, err := req.credential()
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	user := identity(c).UserDID
	switch {
	case c.Query("to") == hiveNode:
		err = h.backup.StartBackup(ctx, user, cred, force)
	case c.Query("from") == hiveNode:
		err = h.backup.StartRestore(ctx, user, cred, force)
	default:
		err = badRequest("to=hive_node or from=hive_node is required")
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (h *handler) backupState(c *gin.Context) {
	st, err := h.backup.ClientState(c.Request.Context(), identity(c).UserDID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handler) promote(c *gin.Context) {
	if err := h.backup.Promote(c.Request.Context(), identity(c).UserDID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (h *handler) acceptBackup(c *gin.Context) {
	var req backup.PushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest("invalid backup request: %v", err))
		return
	}
	if err := h.backup.AcceptBackup(c.Request.Context(), identity(c).UserDID, &req); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (h *handler) restoreDescriptor(c *gin.Context) {
	key := c.Query("public_key")
	if key == "" {
		h.fail(c, badRequest("public_key is required"))
		return
	}
	d, err := h.backup.ResealForRestore(c.Request.Context(), identity(c).UserDID, key)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *handler) serverState(c *gin.Context) {
	st, err := h.backup.ServerState(c.Request.Context(), identity(c).UserDID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
