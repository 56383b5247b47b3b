package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"catalogsync/internal/apperr"
	"catalogsync/internal/runlock"

	"github.com/gin-gonic/gin"
)

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var unsupported *apperr.UnsupportedTopicError
	var invalid *apperr.ValidationError
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrSignatureMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, runlock.ErrLocked):
		return http.StatusConflict
	case errors.As(err, &unsupported):
		return http.StatusUnprocessableEntity
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case apperr.IsRetryable(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
