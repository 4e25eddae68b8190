package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/hivenode/internal/buildinfo"
)

type signInRequest struct {
	ID json.RawMessage `json:"id" binding:"required"`
}

type challengeResponseRequest struct {
	ChallengeResponse string `json:"challenge_response" binding:"required"`
}

func (h *handler) signIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest("invalid sign-in request: %v", err))
		return
	}
	challenge, err := h.auth.SignIn(c.Request.Context(), req.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"challenge": challenge})
}

func (h *handler) authenticate(c *gin.Context) {
	var req challengeResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest("invalid auth request: %v", err))
		return
	}
	tok, err := h.auth.Auth(c.Request.Context(), req.ChallengeResponse)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": tok})
}

func (h *handler) backupAuth(c *gin.Context) {
	var req challengeResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest("invalid auth request: %v", err))
		return
	}
	tok, err := h.auth.BackupAuth(c.Request.Context(), req.ChallengeResponse)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": tok})
}

func (h *handler) version(c *gin.Context) {
	major, minor, patch := buildinfo.Semver(h.node.Version)
	c.JSON(http.StatusOK, gin.H{"major": major, "minor": minor, "patch": patch})
}

func (h *handler) commitID(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"commit_id": h.node.CommitID})
}

func (h *handler) nodeInfo(c *gin.Context) {
	users, err := h.vaults.CountActive(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"service_did":    h.auth.NodeDID(),
		"owner_did":      h.node.OwnerDID,
		"name":           h.node.Name,
		"email":          h.node.Email,
		"description":    h.node.Description,
		"version":        h.node.Version,
		"last_commit_id": h.node.CommitID,
		"user_count":     users,
	})
}
