package registration

import (
	"context"
	"log/slog"
	"time"
)

// PurgeExpired deletes pending registrations older than the configured TTL. A zero TTL
// keeps pending registrations forever.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	if s.cfg.PendingTTL <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.cfg.PendingTTL)
	var n int
	err := s.withStore(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.repo.PurgeExpiredPending(ctx, cutoff)
		return err
	})
	if err != nil {
		return 0, mapStoreError(err)
	}
	return n, nil
}

// StartExpirySweeper purges expired registrations every interval until ctx is done.
// It blocks, so callers run it in its own goroutine.
func (s *Service) StartExpirySweeper(ctx context.Context, interval time.Duration) {
	if s.cfg.PendingTTL <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("pending sweeper started",
		slog.Duration("interval", interval),
		slog.Duration("ttl", s.cfg.PendingTTL),
	)

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("pending sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	n, err := s.PurgeExpired(ctx)
	if err != nil {
		s.logger.Error("purge expired registrations", slog.Any("error", err))
		return
	}
	if n > 0 {
		s.logger.Info("expired registrations purged", slog.Int("count", n))
	}
}
