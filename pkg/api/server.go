// Package api exposes the dialogue engine over HTTP. One resource, the
// session: post messages to it, inspect it, walk its checkpoint history,
// rewind it, end it.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dialogkit/dialogkit/pkg/checkpoint"
	"github.com/dialogkit/dialogkit/pkg/runtime"
)

// Server is the HTTP front for a runtime loop.
type Server struct {
	loop  *runtime.Loop
	store checkpoint.Checkpointer
	http  *http.Server
}

// NewServer wires the API over the loop and its checkpoint store.
func NewServer(loop *runtime.Loop, store checkpoint.Checkpointer) *Server {
	return &Server{loop: loop, store: store}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), securityHeaders())

	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/sessions/:id/messages", s.postMessage)
		v1.GET("/sessions/:id", s.getSession)
		v1.GET("/sessions/:id/checkpoints", s.listCheckpoints)
		v1.POST("/sessions/:id/rewind", s.rewindSession)
		v1.DELETE("/sessions/:id", s.endSession)
	}
	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
