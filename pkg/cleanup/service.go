// Package cleanup provides data retention for session memory and sessions.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/aris-ai/aris/pkg/config"
	"github.com/aris-ai/aris/pkg/store"
)

// Service periodically enforces retention policies:
//   - Deletes session memory items past their TTL
//   - Marks long-idle sessions as expired
//
// All operations are idempotent.
type Service struct {
	config       *config.RetentionConfig
	memoryStore  *store.MemoryStore
	sessionStore *store.SessionStore

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(
	cfg *config.RetentionConfig,
	memoryStore *store.MemoryStore,
	sessionStore *store.SessionStore,
) *Service {
	return &Service{
		config:       cfg,
		memoryStore:  memoryStore,
		sessionStore: sessionStore,
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"sweep_interval", s.config.SweepInterval,
		"session_idle_expiry", s.config.SessionIdleExpiry)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.sweepExpiredMemory(ctx)
	s.expireIdleSessions(ctx)
}

func (s *Service) sweepExpiredMemory(_ context.Context) {
	count, err := s.memoryStore.SweepExpired(context.Background())
	if err != nil {
		slog.Error("Retention: memory sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: swept expired memory items", "count", count)
	}
}

func (s *Service) expireIdleSessions(_ context.Context) {
	if s.config.SessionIdleExpiry <= 0 {
		return
	}
	count, err := s.sessionStore.ExpireIdle(context.Background(), s.config.SessionIdleExpiry)
	if err != nil {
		slog.Error("Retention: session expiry failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: expired idle sessions", "count", count)
	}
}
