package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tripkeeper/internal/dbx"
	"github.com/dmitrijs2005/tripkeeper/internal/logging"
	"github.com/dmitrijs2005/tripkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/tripkeeper/internal/server/repositories/repomanager"
	"github.com/sethvargo/go-retry"
)

// sweepRetryDelay is the pause before the single retry of a sweep step that
// hit a transient database error.
const sweepRetryDelay = 3 * time.Second

// ReaperService deletes rows that can no longer be presented. Revoked rows
// are kept until they expire so that a replay can still be recognised.
type ReaperService struct {
	repomanager repomanager.RepositoryManager
	metrics     *metrics.Metrics
	logger      logging.Logger
	now         func() time.Time
	backoff     func() retry.Backoff
}

func NewReaperService(m repomanager.RepositoryManager, mt *metrics.Metrics, logger logging.Logger) *ReaperService {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &ReaperService{
		repomanager: m,
		metrics:     mt,
		logger:      logger.With("module", "reaper"),
		now:         time.Now,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(1, retry.NewConstant(sweepRetryDelay))
		},
	}
}

// SweepExpired removes tokens with expires_at < now, then reuse evidence
// past the same cut-off, and returns the number of tokens removed.
func (s *ReaperService) SweepExpired(ctx context.Context) (int64, error) {
	now := s.now()
	repo := s.repomanager.RefreshTokens()

	tokens, err := s.runWithRetry(ctx, "tokens", func(ctx context.Context) (int64, error) {
		return repo.DeleteExpiredBefore(ctx, now)
	})
	if err != nil {
		s.metrics.SweepFailed()
		s.logger.Error(ctx, "expired token sweep failed", "error", err)
		return 0, fmt.Errorf("error deleting expired tokens: %w", err)
	}

	events, err := s.runWithRetry(ctx, "reuse_events", func(ctx context.Context) (int64, error) {
		return repo.DeleteExpiredReuseEventsBefore(ctx, now)
	})
	if err != nil {
		s.metrics.SweepFailed()
		s.logger.Error(ctx, "expired reuse event sweep failed", "error", err)
		return tokens, fmt.Errorf("error deleting expired reuse events: %w", err)
	}

	s.metrics.SweepCompleted(tokens)
	s.logger.Info(ctx, "expired rows swept", "tokens", tokens, "reuse_events", events)
	return tokens, nil
}

// runWithRetry runs op and, on a transient network error, retries it once
// after a short back-off. Deletes by cut-off are idempotent, so a repeat
// is safe even if the first attempt reached the server.
func (s *ReaperService) runWithRetry(ctx context.Context, what string, op func(context.Context) (int64, error)) (int64, error) {
	var n int64
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		var err error
		n, err = op(ctx)
		if err != nil {
			if dbx.IsTransient(err) {
				s.logger.Warn(ctx, "sweep hit transient DB error; retrying", "step", what, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	return n, err
}
