package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/hivenode/internal/server/files"
)

type fileProperties struct {
	Name       string `json:"name"`
	IsFile     bool   `json:"is_file"`
	Size       int64  `json:"size"`
	IsEncrypt  bool   `json:"is_encrypt"`
	Encrypt    string `json:"encrypt_method,omitempty"`
	Created    int64  `json:"created"`
	LastModify int64  `json:"updated"`
}

func propertiesOf(m *files.Metadata) fileProperties {
	return fileProperties{
		Name:       m.Path,
		IsFile:     true,
		Size:       m.Size,
		IsEncrypt:  m.IsEncrypted,
		Encrypt:    m.EncryptMethod,
		Created:    m.Created,
		LastModify: m.Modified,
	}
}

func filePath(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("path"), "/")
}

// serveFile streams f with range, conditional and validator support.
func serveFile(c *gin.Context, m *files.Metadata, f *os.File) {
	defer f.Close()
	c.Header("ETag", m.ETag())
	c.Header("Content-Type", "application/octet-stream")
	http.ServeContent(c.Writer, c.Request, m.Path, m.ModTime(), f)
}

func (h *handler) uploadFile(c *gin.Context) {
	id := identity(c)
	ctx := c.Request.Context()
	p := filePath(c)

	if dest := c.Query("dest"); dest != "" {
		m, err := h.files.Copy(ctx, id.UserDID, id.AppDID, p, dest)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"name": m.Path})
		return
	}

	encrypted, err := queryBool(c, "is_encrypt")
	if err != nil {
		h.fail(c, err)
		return
	}
	public, err := queryBool(c, "public")
	if err != nil {
		h.fail(c, err)
		return
	}
	scriptName := c.Query("script_name")
	if public && scriptName == "" {
		h.fail(c, badRequest("script_name is required for public files"))
		return
	}

	m, err := h.files.Upload(ctx, id.UserDID, id.AppDID, p, c.Request.Body, files.UploadOptions{
		IsEncrypted:   encrypted,
		EncryptMethod: c.Query("encrypt_method"),
		Public:        public,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := gin.H{"name": m.Path}
	if public {
		if err := h.scripts.RegisterPublicDownload(ctx, id.UserDID, id.AppDID, scriptName, m.Path); err != nil {
			h.fail(c, err)
			return
		}
		resp["cid"] = m.CID
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) moveFile(c *gin.Context) {
	to := c.Query("to")
	if to == "" {
		h.fail(c, badRequest("to is required"))
		return
	}
	id := identity(c)
	m, err := h.files.Move(c.Request.Context(), id.UserDID, id.AppDID, filePath(c), to)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": m.Path})
}

func (h *handler) getFile(c *gin.Context) {
	id := identity(c)
	ctx := c.Request.Context()
	p := filePath(c)

	switch comp := c.Query("comp"); comp {
	case "children":
		list, err := h.files.List(ctx, id.UserDID, id.AppDID, p)
		if err != nil {
			h.fail(c, err)
			return
		}
		value := make([]fileProperties, len(list))
		for i, m := range list {
			value[i] = propertiesOf(m)
		}
		c.JSON(http.StatusOK, gin.H{"value": value})
	case "metadata":
		m, err := h.files.Properties(ctx, id.UserDID, id.AppDID, p)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, propertiesOf(m))
	case "hash":
		m, err := h.files.Properties(ctx, id.UserDID, id.AppDID, p)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"name": m.Path, "algorithm": "SHA256", "hash": m.SHA256})
	case "":
		m, f, err := h.files.Open(ctx, id.UserDID, id.AppDID, p)
		if err != nil {
			h.fail(c, err)
			return
		}
		serveFile(c, m, f)
	default:
		h.fail(c, badRequest("unknown comp %q", comp))
	}
}

func (h *handler) deleteFile(c *gin.Context) {
	id := identity(c)
	if err := h.files.Delete(c.Request.Context(), id.UserDID, id.AppDID, filePath(c), true); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// splitTarget parses "{owner}@{app}".
func splitTarget(s string) (owner, app string, err error) {
	i := strings.LastIndex(s, "@")
	if i <= 0 || i == len(s)-1 {
		return "", "", badRequest("target must be owner@app")
	}
	return s[:i], s[i+1:], nil
}

func (h *handler) anonymousFile(c *gin.Context) {
	owner, app, err := splitTarget(c.Param("target"))
	if err != nil {
		h.fail(c, err)
		return
	}
	m, f, err := h.files.OpenAnonymous(c.Request.Context(), owner, app, c.Param("cid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	serveFile(c, m, f)
}
