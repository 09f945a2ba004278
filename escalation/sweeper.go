package escalation

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relaydesk/relaydesk/directory"
	"github.com/relaydesk/relaydesk/internal/metrics"
	"github.com/relaydesk/relaydesk/registry"
	"github.com/relaydesk/relaydesk/types"
)

// SweeperConfig holds the sweep cadence and thresholds. SLA and cadence
// are deployment parameters, never hardcoded policy.
type SweeperConfig struct {
	PickupSLA       time.Duration
	SweepInterval   time.Duration
	StaleAgentAfter time.Duration
}

// Sweeper periodically expires overdue pending handoffs and marks stale
// agents offline.
type Sweeper struct {
	policy    *Policy
	registry  *registry.Registry
	directory *directory.Directory
	metrics   *metrics.Collector
	config    SweeperConfig
	logger    *zap.Logger
}

// NewSweeper creates a sweeper. collector may be nil.
func NewSweeper(policy *Policy, reg *registry.Registry, dir *directory.Directory, collector *metrics.Collector, cfg SweeperConfig, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		policy:    policy,
		registry:  reg,
		directory: dir,
		metrics:   collector,
		config:    cfg,
		logger:    logger.With(zap.String("component", "sweeper")),
	}
}

// Run executes both sweep loops until the context is cancelled. It
// always returns the context's error.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("sweeper started",
		zap.Duration("pickup_sla", s.config.PickupSLA),
		zap.Duration("sweep_interval", s.config.SweepInterval),
		zap.Duration("stale_agent_after", s.config.StaleAgentAfter),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.loop(ctx, s.config.SweepInterval, s.expireOverdue)
	})
	g.Go(func() error {
		return s.loop(ctx, s.config.SweepInterval, s.sweepStaleAgents)
	})

	return g.Wait()
}

// loop runs fn every interval until cancellation. A failed pass is
// logged and retried on the next tick.
func (s *Sweeper) loop(ctx context.Context, interval time.Duration, fn func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				s.logger.Error("sweep pass failed", zap.Error(err))
			}
		}
	}
}

// expireOverdue runs one expiry pass. Each candidate is expired through
// the conditional transition, so a pickup racing the sweep wins and the
// expiry silently stands down.
func (s *Sweeper) expireOverdue(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.config.PickupSLA)

	overdue, err := s.registry.ListOverdue(ctx, cutoff)
	if err != nil {
		return err
	}

	expiredByTenant := make(map[string]int)
	for _, h := range overdue {
		if err := s.policy.OnPickupTimeout(ctx, h.ID); err != nil {
			if types.IsCode(err, types.ErrInvalidTransition) || types.IsCode(err, types.ErrNotFound) {
				// Lost the race to a pickup. That is the desired outcome.
				continue
			}
			s.logger.Error("failed to expire handoff",
				zap.String("handoff_id", h.ID),
				zap.Error(err),
			)
			continue
		}
		expiredByTenant[h.TenantID]++
	}

	for tenant, n := range expiredByTenant {
		s.logger.Info("expired overdue handoffs",
			zap.String("tenant_id", tenant),
			zap.Int("count", n),
		)
		if s.metrics != nil {
			s.metrics.RecordExpired(tenant, n)
		}
	}
	return nil
}

// sweepStaleAgents runs one staleness pass.
func (s *Sweeper) sweepStaleAgents(ctx context.Context) error {
	if s.config.StaleAgentAfter <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-s.config.StaleAgentAfter)
	_, err := s.directory.MarkStaleOffline(ctx, cutoff)
	return err
}
