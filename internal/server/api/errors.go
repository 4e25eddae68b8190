package api

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/hivenode/internal/common"
)

type errorBody struct {
	Message      string `json:"message"`
	InternalCode int    `json:"internal_code,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func envelope(err error) errorEnvelope {
	msg := err.Error()
	var e *common.Error
	if errors.As(err, &e) && e.Message != "" {
		msg = e.Message
	}
	return errorEnvelope{Error: errorBody{Message: msg, InternalCode: common.CodeOf(err)}}
}

// fail writes the envelope of err and aborts the chain. Internal errors
// are logged with the request id.
func (h *handler) fail(c *gin.Context, err error) {
	kind := common.KindOf(err)
	if kind == common.KindInternal {
		h.log.Error(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"error", err)
	}
	c.AbortWithStatusJSON(common.HTTPStatus(kind), envelope(err))
}

func badRequest(format string, args ...any) error {
	return common.InvalidParameter(format, args...)
}
