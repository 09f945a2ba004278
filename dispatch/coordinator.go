// Package dispatch is the assignment core: it claims pending handoffs
// for agents and releases them on resolution. Each operation combines
// the handoff conditional update and the capacity conditional update in
// one transaction, so a lost race or a full agent rolls everything back
// and leaves no partial effect.
package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/relaydesk/relaydesk/directory"
	"github.com/relaydesk/relaydesk/internal/database"
	"github.com/relaydesk/relaydesk/internal/metrics"
	"github.com/relaydesk/relaydesk/registry"
	"github.com/relaydesk/relaydesk/types"
)

// Coordinator performs atomic pickup and resolve.
type Coordinator struct {
	pool      *database.PoolManager
	registry  *registry.Registry
	directory *directory.Directory
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// New creates an assignment coordinator. collector may be nil.
func New(pool *database.PoolManager, reg *registry.Registry, dir *directory.Directory, collector *metrics.Collector, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		pool:      pool,
		registry:  reg,
		directory: dir,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "dispatch")),
	}
}

// Pickup claims a pending handoff for agentID. It succeeds only if the
// handoff is still pending in tenantID and the agent has free capacity,
// applied as one transaction: the claim and the capacity reservation
// commit together or not at all. Losing the claim race returns
// AlreadyAssigned; a full agent returns CapacityExceeded; both leave
// every row untouched.
func (c *Coordinator) Pickup(ctx context.Context, handoffID, agentID, tenantID string) (*types.HandoffRequest, error) {
	if handoffID == "" || agentID == "" || tenantID == "" {
		return nil, types.NewError(types.ErrValidation, "handoff id, agent id, and tenant id are required")
	}

	now := time.Now().UTC()
	var claimed *types.HandoffRequest

	err := c.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		h, err := c.registry.ClaimIn(tx, handoffID, tenantID, agentID, now)
		if err != nil {
			return err
		}
		if err := c.directory.ReserveIn(tx, agentID, tenantID); err != nil {
			return err
		}
		claimed = h
		return nil
	})

	c.recordPickup(tenantID, err, claimed, now)

	if err != nil {
		return nil, err
	}

	c.logger.Info("handoff picked up",
		zap.String("handoff_id", handoffID),
		zap.String("agent_id", agentID),
		zap.String("tenant_id", tenantID),
	)
	return claimed, nil
}

// Resolve closes an active handoff. Only the assigned agent may resolve;
// the status flip and the capacity release commit together. Resolving
// twice fails AlreadyResolved without releasing capacity again.
func (c *Coordinator) Resolve(ctx context.Context, handoffID, agentID string) (*types.HandoffRequest, error) {
	if handoffID == "" || agentID == "" {
		return nil, types.NewError(types.ErrValidation, "handoff id and agent id are required")
	}

	now := time.Now().UTC()
	var resolved *types.HandoffRequest

	err := c.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		h, err := c.registry.FinishIn(tx, handoffID, agentID, now)
		if err != nil {
			return err
		}
		if err := c.directory.ReleaseIn(tx, agentID); err != nil {
			return err
		}
		resolved = h
		return nil
	})

	c.recordResolve(err, resolved, now)

	if err != nil {
		return nil, err
	}

	c.logger.Info("handoff resolved",
		zap.String("handoff_id", handoffID),
		zap.String("agent_id", agentID),
	)
	return resolved, nil
}

func (c *Coordinator) recordPickup(tenantID string, err error, h *types.HandoffRequest, now time.Time) {
	if c.metrics == nil {
		return
	}
	if err == nil {
		c.metrics.RecordPickup(tenantID, metrics.OutcomeSuccess, now.Sub(h.RequestedAt))
		return
	}
	c.metrics.RecordPickup(tenantID, pickupOutcome(err), 0)
}

func (c *Coordinator) recordResolve(err error, h *types.HandoffRequest, now time.Time) {
	if c.metrics == nil {
		return
	}
	if err == nil {
		handling := time.Duration(0)
		if h.PickedUpAt != nil {
			handling = now.Sub(*h.PickedUpAt)
		}
		c.metrics.RecordResolve(h.TenantID, metrics.OutcomeSuccess, handling)
		return
	}
	c.metrics.RecordResolve("", resolveOutcome(err), 0)
}

func pickupOutcome(err error) string {
	switch types.GetErrorCode(err) {
	case types.ErrAlreadyAssigned:
		return metrics.OutcomeAlreadyAssigned
	case types.ErrCapacityExceeded:
		return metrics.OutcomeCapacityExceeded
	case types.ErrNotFound:
		return metrics.OutcomeNotFound
	case types.ErrAlreadyResolved:
		return metrics.OutcomeAlreadyResolved
	default:
		return "error"
	}
}

func resolveOutcome(err error) string {
	switch types.GetErrorCode(err) {
	case types.ErrUnauthorized:
		return metrics.OutcomeUnauthorized
	case types.ErrAlreadyResolved:
		return metrics.OutcomeAlreadyResolved
	case types.ErrNotFound:
		return metrics.OutcomeNotFound
	default:
		return "error"
	}
}
