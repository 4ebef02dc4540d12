// Package cleanup enforces the checkpoint retention policy: sessions whose
// newest checkpoint is older than the retention window are deleted from the
// store on a fixed interval.
package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dialogkit/dialogkit/pkg/checkpoint"
	"github.com/dialogkit/dialogkit/pkg/config"
	"github.com/dialogkit/dialogkit/pkg/dialogue"
)

// sessionLister is implemented by stores that can enumerate their sessions.
// A store without it (or with its own expiry, like Redis with a TTL) is left
// alone.
type sessionLister interface {
	Sessions(ctx context.Context) ([]string, error)
}

// Service is the background retention sweeper. All operations are idempotent
// and safe to run from multiple replicas against the same store.
type Service struct {
	cfg   config.CheckpointConfig
	store checkpoint.Checkpointer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates the sweeper. It does nothing until Start.
func NewService(cfg config.CheckpointConfig, store checkpoint.Checkpointer) *Service {
	return &Service{cfg: cfg, store: store}
}

// Start launches the background sweep loop. A zero retention disables it.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil || s.cfg.SessionRetention() <= 0 {
		return
	}
	if _, ok := s.store.(sessionLister); !ok {
		slog.Info("Checkpoint store does not enumerate sessions, retention sweep disabled")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Retention sweep started",
		"session_retention", s.cfg.SessionRetention(),
		"interval", s.cfg.SweepInterval())
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Retention sweep stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	if _, err := s.RunOnce(ctx); err != nil {
		slog.Error("Retention sweep failed", "error", err)
	}

	ticker := time.NewTicker(s.cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.RunOnce(ctx); err != nil {
				slog.Error("Retention sweep failed", "error", err)
			} else if n > 0 {
				slog.Info("Retention sweep deleted expired sessions", "count", n)
			}
		}
	}
}

// RunOnce sweeps the store once and returns how many sessions were deleted.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	lister, ok := s.store.(sessionLister)
	if !ok {
		return 0, nil
	}
	ids, err := lister.Sessions(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := dialogue.Now() - s.cfg.SessionRetention().Seconds()
	deleted := 0
	for _, id := range ids {
		snap, err := s.store.Load(ctx, id)
		if errors.Is(err, checkpoint.ErrNotFound) {
			continue // deleted concurrently
		}
		if err != nil {
			return deleted, err
		}
		if snap.CreatedAt >= cutoff {
			continue
		}
		if err := s.store.Delete(ctx, id); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
