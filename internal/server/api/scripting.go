package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/hivenode/internal/docstore"
	"github.com/dmitrijs2005/hivenode/internal/server/scripting"
)

func readDocument(c *gin.Context) (docstore.Document, error) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, badRequest("read body: %v", err)
	}
	if len(raw) == 0 {
		return docstore.Document{}, nil
	}
	doc, err := docstore.DecodeDocument(raw)
	if err != nil {
		return nil, badRequest("%v", err)
	}
	return doc, nil
}

func (h *handler) registerScript(c *gin.Context) {
	body, err := readDocument(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	id := identity(c)
	res, err := h.scripts.Register(c.Request.Context(), id.UserDID, id.AppDID, c.Param("name"), body)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"acknowledged":   true,
		"matched_count":  res.MatchedCount,
		"modified_count": res.ModifiedCount,
		"upserted_id":    res.UpsertedID,
	})
}

func (h *handler) unregisterScript(c *gin.Context) {
	id := identity(c)
	if err := h.scripts.Unregister(c.Request.Context(), id.UserDID, id.AppDID, c.Param("name")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) run(c *gin.Context, target scripting.Target, params map[string]any) {
	out, err := h.scripts.Run(c.Request.Context(), identity(c), c.Param("name"), target, params)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) runScript(c *gin.Context) {
	body, err := readDocument(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var target scripting.Target
	if raw, ok := body["context"]; ok && raw != nil {
		ctxDoc, ok := raw.(map[string]any)
		if !ok {
			h.fail(c, badRequest("context must be an object"))
			return
		}
		target.DID, _ = ctxDoc["target_did"].(string)
		target.AppDID, _ = ctxDoc["target_app_did"].(string)
	}
	params, _ := body["params"].(map[string]any)
	if raw, ok := body["params"]; ok && raw != nil && params == nil {
		h.fail(c, badRequest("params must be an object"))
		return
	}
	h.run(c, target, params)
}

// runScriptURL serves GET /vault/scripting/{name}/{owner}@{app}/{params}
// where params is URL-encoded JSON.
func (h *handler) runScriptURL(c *gin.Context) {
	owner, app, err := splitTarget(c.Param("target"))
	if err != nil {
		h.fail(c, err)
		return
	}
	var params map[string]any
	if raw := c.Param("params"); raw != "" && raw != "{}" {
		if !json.Valid([]byte(raw)) {
			h.fail(c, badRequest("params must be JSON"))
			return
		}
		if params, err = docstore.DecodeDocument([]byte(raw)); err != nil {
			h.fail(c, badRequest("params: %v", err))
			return
		}
	}
	h.run(c, scripting.Target{DID: owner, AppDID: app}, params)
}

func (h *handler) uploadStream(c *gin.Context) {
	if _, err := h.scripts.UploadStream(c.Request.Context(), c.Param("transaction_id"), c.Request.Body); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (h *handler) downloadStream(c *gin.Context) {
	m, f, err := h.scripts.DownloadStream(c.Request.Context(), c.Param("transaction_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	serveFile(c, m, f)
}
