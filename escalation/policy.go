// Package escalation handles the two edge cases of dispatch: a handoff
// created while no agents can take it, and a handoff nobody picked up
// within the SLA. Notification delivery is fire-and-forget; a broker
// outage never fails a handoff operation.
package escalation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/relaydesk/relaydesk/internal/cache"
	"github.com/relaydesk/relaydesk/internal/metrics"
	"github.com/relaydesk/relaydesk/registry"
	"github.com/relaydesk/relaydesk/types"
)

// dedupKeyPrefix namespaces escalation dedup entries in Redis.
const dedupKeyPrefix = "escalation:handoff:"

// Policy reacts to no-agents and pickup-timeout situations.
type Policy struct {
	registry    *registry.Registry
	cache       *cache.Manager
	notifier    Notifier
	metrics     *metrics.Collector
	dedupWindow time.Duration
	logger      *zap.Logger
}

// NewPolicy creates an escalation policy. cacheMgr and collector may be
// nil; notifier may not (use NopNotifier to disable delivery).
func NewPolicy(reg *registry.Registry, cacheMgr *cache.Manager, notifier Notifier, collector *metrics.Collector, dedupWindow time.Duration, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if dedupWindow <= 0 {
		dedupWindow = 5 * time.Minute
	}
	return &Policy{
		registry:    reg,
		cache:       cacheMgr,
		notifier:    notifier,
		metrics:     collector,
		dedupWindow: dedupWindow,
		logger:      logger.With(zap.String("component", "escalation")),
	}
}

// OnNoAgentsAvailable records contact details on a handoff that was
// created into an empty roster and notifies the follow-up channel. The
// handoff stays pending and remains eligible for later pickup. Email is
// optional; without one the event is still published so the tenant sees
// the unstaffed queue.
func (p *Policy) OnNoAgentsAvailable(ctx context.Context, handoffID, email, message string) error {
	h, err := p.registry.Get(ctx, handoffID)
	if err != nil {
		return err
	}
	if h.Status != types.HandoffPending {
		return types.NewError(types.ErrInvalidTransition, "handoff is no longer pending")
	}

	if email != "" {
		if err := p.registry.SetContact(ctx, handoffID, email, message); err != nil {
			return err
		}
		h.ContactEmail = email
		h.ContactMessage = message
	}

	if p.metrics != nil {
		p.metrics.RecordEscalation(h.TenantID, KindNoAgentsAvailable)
	}

	p.notify(ctx, Event{
		Kind:           KindNoAgentsAvailable,
		TenantID:       h.TenantID,
		HandoffID:      h.ID,
		ChatID:         h.ChatID,
		ContactEmail:   h.ContactEmail,
		ContactMessage: h.ContactMessage,
		RequestedAt:    h.RequestedAt,
		OccurredAt:     time.Now().UTC(),
	})

	return nil
}

// OnPickupTimeout expires a handoff that outlived the pickup SLA. No
// capacity is touched; none was ever reserved for a pending handoff.
func (p *Policy) OnPickupTimeout(ctx context.Context, handoffID string) error {
	h, err := p.registry.Get(ctx, handoffID)
	if err != nil {
		return err
	}

	if err := p.registry.Transition(ctx, handoffID, types.HandoffPending, types.HandoffExpired); err != nil {
		return err
	}

	p.logger.Info("handoff expired",
		zap.String("handoff_id", handoffID),
		zap.String("tenant_id", h.TenantID),
	)
	if p.metrics != nil {
		p.metrics.RecordEscalation(h.TenantID, KindPickupTimeout)
	}

	p.notify(ctx, Event{
		Kind:        KindPickupTimeout,
		TenantID:    h.TenantID,
		HandoffID:   h.ID,
		ChatID:      h.ChatID,
		RequestedAt: h.RequestedAt,
		OccurredAt:  time.Now().UTC(),
	})

	return nil
}

// notify publishes the event at most once per handoff-and-kind within
// the dedup window, and never propagates a delivery failure.
func (p *Policy) notify(ctx context.Context, event Event) {
	if p.cache != nil {
		key := dedupKeyPrefix + event.HandoffID + ":" + event.Kind
		won, err := p.cache.SetNX(ctx, key, "1", p.dedupWindow)
		if err != nil {
			// Cache trouble must not suppress the notification.
			p.logger.Warn("escalation dedup check failed", zap.Error(err))
		} else if !won {
			p.logger.Debug("escalation suppressed by dedup",
				zap.String("handoff_id", event.HandoffID),
				zap.String("kind", event.Kind),
			)
			return
		}
	}

	if err := p.notifier.Notify(ctx, event); err != nil {
		p.logger.Warn("escalation notify failed",
			zap.String("handoff_id", event.HandoffID),
			zap.String("kind", event.Kind),
			zap.Error(err),
		)
		if p.metrics != nil {
			p.metrics.RecordNotification(event.TenantID, "failed")
		}
		return
	}
	if p.metrics != nil {
		p.metrics.RecordNotification(event.TenantID, "sent")
	}
}
