package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"aanmelden/internal/attendance"
	"aanmelden/internal/observability"
)

var rejectionMessages = map[string]string{
	"not_enough_slots":        "Not enough slots available",
	"too_many_days":           "You have reached your number of days this week",
	"stripcard_limit_reached": "You have reached the limit on your strip card",
	"already_seen":            "You are already marked present",
}

// fail maps a service error onto the HTTP response.
func (h *handlers) fail(c *gin.Context, err error) {
	kind := attendance.ErrorKind(err)
	switch {
	case attendance.IsRejection(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": kind, "message": rejectionMessages[kind]})
	case errors.Is(err, attendance.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": kind})
	case errors.Is(err, attendance.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": kind})
	case errors.Is(err, attendance.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": kind, "message": err.Error()})
	default:
		h.log.Error("request failed",
			zap.String("request_id", requestID(c)), zap.String("route", c.FullPath()), zap.Error(err))
		observability.CaptureRequestErr(err, requestID(c), c.FullPath())
		c.JSON(http.StatusInternalServerError, gin.H{"error": kind})
	}
}
