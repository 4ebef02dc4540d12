package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dialogkit/dialogkit/pkg/checkpoint"
	"github.com/dialogkit/dialogkit/pkg/runtime"
)

// abortWithError maps loop and store errors onto HTTP responses.
func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, runtime.ErrSessionBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "session is processing another message"})
	case errors.Is(err, checkpoint.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, runtime.ErrStateTooLarge):
		c.JSON(http.StatusInsufficientStorage, gin.H{"error": "session state exceeds the size limit"})
	default:
		slog.Error("Unexpected handler error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
