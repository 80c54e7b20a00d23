package handler

import (
	"log/slog"
	"net/http"

	"libraryapi/internal/apperror"
	"libraryapi/pkg/response"

	"github.com/gin-gonic/gin"
)

// statusFor maps a service failure kind to its HTTP status.
func statusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.KindValidation:
		return http.StatusBadRequest
	case apperror.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperror.KindPermissionDenied:
		return http.StatusForbidden
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindBookUnavailable, apperror.KindInvalidReservationState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err in the standard envelope. Infrastructure details
// are logged, not returned.
func respondError(c *gin.Context, err error) {
	kind := apperror.KindOf(err)
	status := statusFor(kind)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method, "path", c.FullPath(), "error", err)
		msg = "Internal server error"
	}
	c.JSON(status, response.ErrorWithCode(status, string(kind), msg))
}

func badPayload(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, response.ErrorWithCode(http.StatusBadRequest,
		string(apperror.KindValidation), "Invalid request payload: "+err.Error()))
}
