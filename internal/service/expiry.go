package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"dcaladder/internal/metrics"
	"dcaladder/internal/repository"
)

// ExpiryService sweeps active plans older than MaxAge into expired status.
// The engine itself never expires plans; this runs only when scheduled by
// the operator.
type ExpiryService struct {
	Repo      repository.PlanRepository
	Lifecycle *LifecycleService
	Logger    *zap.Logger
	Metrics   *metrics.Metrics

	MaxAge    time.Duration
	BatchSize int
}

// SweepOnce expires one batch of stale plans and returns how many it moved.
func (s *ExpiryService) SweepOnce(ctx context.Context) (int, error) {
	if s == nil || s.Repo == nil || s.Lifecycle == nil {
		return 0, errors.New("expiry service not initialized")
	}
	if s.MaxAge <= 0 {
		return 0, nil
	}
	batch := s.BatchSize
	if batch <= 0 {
		batch = 100
	}

	cutoff := time.Now().UTC().Add(-s.MaxAge)
	plans, err := s.Repo.ListActivePlansCreatedBefore(ctx, cutoff, batch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range plans {
		if err := s.Lifecycle.ExpirePlan(ctx, plans[i].ID); err != nil {
			if s.Logger != nil {
				s.Logger.Warn("expire plan failed",
					zap.Uint64("plan_id", plans[i].ID), zap.Error(err))
			}
			continue
		}
		expired++
		if s.Metrics != nil {
			s.Metrics.PlansExpired.Inc()
		}
	}
	if expired > 0 && s.Logger != nil {
		s.Logger.Info("expiry sweep done", zap.Int("expired", expired))
	}
	return expired, nil
}
