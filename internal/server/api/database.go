package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/hivenode/internal/docstore"
	"github.com/dmitrijs2005/hivenode/internal/server/database"
)

// dbRequest is the union of the collection request bodies. Fields stay raw
// until decoded into the store's value space.
type dbRequest struct {
	Collection string          `json:"collection"`
	Document   json.RawMessage `json:"document"`
	Filter     json.RawMessage `json:"filter"`
	Update     json.RawMessage `json:"update"`
	Options    json.RawMessage `json:"options"`
}

func readDBRequest(c *gin.Context) (*dbRequest, error) {
	var req dbRequest
	if c.Request.ContentLength == 0 {
		return &req, nil
	}
	err := json.NewDecoder(c.Request.Body).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, badRequest("invalid request body: %v", err)
	}
	return &req, nil
}

// document decodes an optional JSON object; absent and null mean nil.
func document(field string, raw json.RawMessage) (docstore.Document, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	d, err := docstore.DecodeDocument(raw)
	if err != nil {
		return nil, badRequest("%s: %v", field, err)
	}
	return d, nil
}

// withRawSort puts the undecoded sort of options back into opts so a
// mapping sort keeps its key order.
func withRawSort(opts docstore.Document, options json.RawMessage) docstore.Document {
	if _, ok := opts["sort"]; !ok {
		return opts
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(options, &raw); err != nil {
		return opts
	}
	opts["sort"] = raw["sort"]
	return opts
}

// documents accepts one object or an array of objects.
func documents(raw json.RawMessage) ([]docstore.Document, error) {
	v, err := docstore.DecodeValue(raw)
	if err != nil || v == nil {
		return nil, badRequest("document is required")
	}
	switch t := v.(type) {
	case map[string]any:
		return []docstore.Document{t}, nil
	case []any:
		out := make([]docstore.Document, 0, len(t))
		for _, e := range t {
			d, ok := e.(map[string]any)
			if !ok {
				return nil, badRequest("document items must be objects")
			}
			out = append(out, d)
		}
		if len(out) == 0 {
			return nil, badRequest("document is empty")
		}
		return out, nil
	}
	return nil, badRequest("document must be an object or an array")
}

func (h *handler) createCollection(c *gin.Context) {
	var req struct {
		IsEncrypt     bool   `json:"is_encrypt"`
		EncryptMethod string `json:"encrypt_method"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, badRequest("invalid request body: %v", err))
			return
		}
	}
	id := identity(c)
	name := c.Param("name")
	if err := h.db.CreateCollection(c.Request.Context(), id.UserDID, id.AppDID, name, req.IsEncrypt, req.EncryptMethod); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name})
}

func (h *handler) deleteCollection(c *gin.Context) {
	id := identity(c)
	if err := h.db.DeleteCollection(c.Request.Context(), id.UserDID, id.AppDID, c.Param("name")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) insertOrCount(c *gin.Context) {
	req, err := readDBRequest(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	opts, err := document("options", req.Options)
	if err != nil {
		h.fail(c, err)
		return
	}
	id := identity(c)
	ctx := c.Request.Context()
	name := c.Param("name")

	switch op := c.Query("op"); op {
	case "count":
		filter, err := document("filter", req.Filter)
		if err != nil {
			h.fail(c, err)
			return
		}
		countOpts, err := database.ParseCountOptions(opts)
		if err != nil {
			h.fail(c, err)
			return
		}
		n, err := h.db.Count(ctx, id.UserDID, id.AppDID, name, filter, countOpts)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"count": n})
	case "":
		docs, err := documents(req.Document)
		if err != nil {
			h.fail(c, err)
			return
		}
		insertOpts, err := database.ParseInsertOptions(opts)
		if err != nil {
			h.fail(c, err)
			return
		}
		res, err := h.db.Insert(ctx, id.UserDID, id.AppDID, name, docs, insertOpts)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"acknowledged": true, "inserted_ids": res.InsertedIDs})
	default:
		h.fail(c, badRequest("unknown op %q", op))
	}
}

func (h *handler) updateDocuments(c *gin.Context) {
	one, err := queryBool(c, "updateone")
	if err != nil {
		h.fail(c, err)
		return
	}
	req, err := readDBRequest(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	filter, err := document("filter", req.Filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	update, err := document("update", req.Update)
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(update) == 0 {
		h.fail(c, badRequest("update is required"))
		return
	}
	raw, err := document("options", req.Options)
	if err != nil {
		h.fail(c, err)
		return
	}
	opts, err := database.ParseUpdateOptions(raw)
	if err != nil {
		h.fail(c, err)
		return
	}
	id := identity(c)
	res, err := h.db.Update(c.Request.Context(), id.UserDID, id.AppDID, c.Param("name"), filter, update, opts, one)
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

func (h *handler) deleteDocuments(c *gin.Context) {
	one, err := queryBool(c, "deleteone")
	if err != nil {
		h.fail(c, err)
		return
	}
	req, err := readDBRequest(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	filter, err := document("filter", req.Filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	id := identity(c)
	if _, err := h.db.Delete(c.Request.Context(), id.UserDID, id.AppDID, c.Param("name"), filter, one); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) findDocuments(c *gin.Context) {
	var filter docstore.Document
	if raw := c.Query("filter"); raw != "" {
		var err error
		if filter, err = document("filter", json.RawMessage(raw)); err != nil {
			h.fail(c, err)
			return
		}
	}
	var opts docstore.FindOptions
	for key, dst := range map[string]*int64{"skip": &opts.Skip, "limit": &opts.Limit} {
		v := c.Query(key)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			h.fail(c, badRequest("%s must be a non-negative integer", key))
			return
		}
		*dst = n
	}
	id := identity(c)
	res, err := h.db.Find(c.Request.Context(), id.UserDID, id.AppDID, c.Param("name"), filter, opts)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) queryDocuments(c *gin.Context) {
	req, err := readDBRequest(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if req.Collection == "" {
		h.fail(c, badRequest("collection is required"))
		return
	}
	filter, err := document("filter", req.Filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	raw, err := document("options", req.Options)
	if err != nil {
		h.fail(c, err)
		return
	}
	opts, err := database.ParseFindOptions(withRawSort(raw, req.Options))
	if err != nil {
		h.fail(c, err)
		return
	}
	id := identity(c)
	res, err := h.db.Find(c.Request.Context(), id.UserDID, id.AppDID, req.Collection, filter, opts)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}
