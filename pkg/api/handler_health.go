package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dialogkit/dialogkit/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// healthProber is implemented by checkpoint stores with a backing service
// worth pinging. The in-memory store has nothing to probe.
type healthProber interface {
	Health(ctx context.Context) error
}

// health handles GET /health. Only the engine's own dependencies are
// checked; a sick NLU backend must not get the process restarted.
func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := healthStatusHealthy
	checks := map[string]HealthCheck{}

	if prober, ok := s.store.(healthProber); ok {
		if err := prober.Health(ctx); err != nil {
			status = healthStatusUnhealthy
			checks["checkpoint_store"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["checkpoint_store"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}
