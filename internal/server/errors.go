package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/apperr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var (
	errInvalidBody     = apperr.New(apperr.KindInvalidInput, "server.invalid_body", "request body is not valid JSON")
	errUnknownStream   = apperr.New(apperr.KindNotFound, "server.stream.unknown", "unknown stream")
	errNotRecipient    = apperr.New(apperr.KindForbidden, "server.friend_request.not_recipient", "only the recipient can answer this request")
	errStaleRequest    = apperr.New(apperr.KindConflict, "server.friend_request.stale", "this request was already answered")
	errProfileNotFound = apperr.New(apperr.KindNotFound, "server.profile_not_found", "profile not found")
)

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindInvalidOperation:
		return http.StatusUnprocessableEntity
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) (int, errorPayload) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, errorPayload{Error: "internal_error", Message: "something went wrong"}
	}
	message := appErr.Message()
	if message == "" {
		message = string(appErr.Kind())
	}
	return statusForKind(appErr.Kind()), errorPayload{Error: appErr.Code(), Message: message}
}

func (h *httpHandler) writeError(c *gin.Context, err error) {
	status, payload := errorBody(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, payload)
}
