package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// MessageRequest is the body of POST /api/v1/sessions/:id/messages.
type MessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// postMessage handles POST /api/v1/sessions/:id/messages. The reply carries
// the assistant's text and the checkpoint it was saved under.
func (s *Server) postMessage(c *gin.Context) {
	sessionID := c.Param("id")

	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message must not be empty"})
		return
	}

	reply, err := s.loop.HandleMessage(c.Request.Context(), sessionID, req.Message)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}
