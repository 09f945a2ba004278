// Package directory tracks each human agent's availability and
// concurrent-chat capacity within a tenant. Capacity is mutated only
// through single conditional updates so that concurrent pickups can
// never push an agent past its ceiling.
package directory

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/relaydesk/relaydesk/internal/cache"
	"github.com/relaydesk/relaydesk/types"
)

// presenceKeyPrefix namespaces agent presence entries in Redis.
const presenceKeyPrefix = "presence:agent:"

// Directory is the agent roster. The cache is optional; when nil the
// presence fast path is skipped and everything runs off the database.
type Directory struct {
	db     *gorm.DB
	cache  *cache.Manager
	logger *zap.Logger
}

// New creates an agent directory. cacheMgr may be nil.
func New(db *gorm.DB, cacheMgr *cache.Manager, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		db:     db,
		cache:  cacheMgr,
		logger: logger.With(zap.String("component", "directory")),
	}
}

// Get returns one agent by ID.
func (d *Directory) Get(ctx context.Context, agentID string) (*types.Agent, error) {
	if agentID == "" {
		return nil, types.NewError(types.ErrValidation, "agent id is required")
	}

	var agent types.Agent
	err := d.db.WithContext(ctx).First(&agent, "id = ?", agentID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, types.NewError(types.ErrNotFound, "agent not found")
		}
		return nil, types.NewError(types.ErrInternalError, "failed to load agent").WithCause(err)
	}
	return &agent, nil
}

// ListAvailable returns the tenant's agents that can take another chat,
// least-loaded first. This ordering is the dispatch load-balancing policy.
func (d *Directory) ListAvailable(ctx context.Context, tenantID string) ([]types.Agent, error) {
	if tenantID == "" {
		return nil, types.NewError(types.ErrValidation, "tenant id is required")
	}

	var agents []types.Agent
	err := d.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ? AND active_chats < max_chats", tenantID, types.AgentAvailable).
		Order("active_chats ASC").
		Find(&agents).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to list available agents").WithCause(err)
	}
	return agents, nil
}

// Reserve claims one unit of the agent's capacity.
func (d *Directory) Reserve(ctx context.Context, agentID, tenantID string) error {
	return d.ReserveIn(d.db.WithContext(ctx), agentID, tenantID)
}

// ReserveIn claims one unit of capacity inside an existing transaction.
// The increment happens only while active_chats < max_chats; the check
// and the write are one statement, so two concurrent claims on the last
// slot cannot both succeed.
func (d *Directory) ReserveIn(tx *gorm.DB, agentID, tenantID string) error {
	res := tx.Model(&types.Agent{}).
		Where("id = ? AND tenant_id = ? AND active_chats < max_chats", agentID, tenantID).
		UpdateColumn("active_chats", gorm.Expr("active_chats + 1"))
	if res.Error != nil {
		return types.NewError(types.ErrInternalError, "failed to reserve agent capacity").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		var agent types.Agent
		err := tx.First(&agent, "id = ? AND tenant_id = ?", agentID, tenantID).Error
		if err == gorm.ErrRecordNotFound {
			return types.NewError(types.ErrNotFound, "agent not found")
		}
		if err != nil {
			return types.NewError(types.ErrInternalError, "failed to reserve agent capacity").WithCause(err)
		}
		return types.NewError(types.ErrCapacityExceeded, "agent is at capacity").WithRetryable(true)
	}
	return nil
}

// Release returns one unit of the agent's capacity.
func (d *Directory) Release(ctx context.Context, agentID string) error {
	return d.ReleaseIn(d.db.WithContext(ctx), agentID)
}

// ReleaseIn returns one unit of capacity inside an existing transaction.
// The decrement is floored at zero, so a double release is a no-op
// rather than an underflow.
func (d *Directory) ReleaseIn(tx *gorm.DB, agentID string) error {
	res := tx.Model(&types.Agent{}).
		Where("id = ? AND active_chats > 0", agentID).
		UpdateColumn("active_chats", gorm.Expr("active_chats - 1"))
	if res.Error != nil {
		return types.NewError(types.ErrInternalError, "failed to release agent capacity").WithCause(res.Error)
	}
	return nil
}

// Heartbeat records that the agent is still connected. Status is not
// touched here; staleness handling belongs to the escalation sweeper.
func (d *Directory) Heartbeat(ctx context.Context, agentID string) error {
	now := time.Now().UTC()

	res := d.db.WithContext(ctx).Model(&types.Agent{}).
		Where("id = ?", agentID).
		UpdateColumn("last_seen", now)
	if res.Error != nil {
		return types.NewError(types.ErrInternalError, "failed to record heartbeat").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrNotFound, "agent not found")
	}

	// Presence fast path. Best effort only; the database row is the
	// source of truth.
	if d.cache != nil {
		if err := d.cache.Set(ctx, presenceKeyPrefix+agentID, now.Format(time.RFC3339Nano), 5*time.Minute); err != nil {
			d.logger.Debug("presence cache write failed", zap.String("agent_id", agentID), zap.Error(err))
		}
	}

	return nil
}

// LastSeen returns the agent's most recent heartbeat, preferring the
// cache when populated.
func (d *Directory) LastSeen(ctx context.Context, agentID string) (time.Time, error) {
	if d.cache != nil {
		if v, err := d.cache.Get(ctx, presenceKeyPrefix+agentID); err == nil {
			if ts, perr := time.Parse(time.RFC3339Nano, v); perr == nil {
				return ts, nil
			}
		}
	}

	agent, err := d.Get(ctx, agentID)
	if err != nil {
		return time.Time{}, err
	}
	return agent.LastSeen, nil
}

// SetStatus changes the agent's availability. Offline agents are never
// returned by ListAvailable; their in-flight chats stay assigned.
func (d *Directory) SetStatus(ctx context.Context, agentID string, status types.AgentStatus) error {
	if !types.ValidAgentStatus(status) {
		return types.NewError(types.ErrValidation, "unknown agent status")
	}

	res := d.db.WithContext(ctx).Model(&types.Agent{}).
		Where("id = ?", agentID).
		UpdateColumn("status", status)
	if res.Error != nil {
		return types.NewError(types.ErrInternalError, "failed to set agent status").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrNotFound, "agent not found")
	}

	// An offline agent has no presence; drop the fast-path entry so
	// LastSeen falls back to the database row.
	if status == types.AgentOffline && d.cache != nil {
		if err := d.cache.Delete(ctx, presenceKeyPrefix+agentID); err != nil {
			d.logger.Debug("presence cache delete failed", zap.String("agent_id", agentID), zap.Error(err))
		}
	}

	d.logger.Info("agent status changed",
		zap.String("agent_id", agentID),
		zap.String("status", string(status)),
	)
	return nil
}

// MarkStaleOffline flips agents whose last heartbeat is older than
// cutoff to offline. Returns the number of agents affected. Called by
// the escalation sweeper.
func (d *Directory) MarkStaleOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	res := d.db.WithContext(ctx).Model(&types.Agent{}).
		Where("status <> ? AND last_seen < ?", types.AgentOffline, cutoff).
		UpdateColumn("status", types.AgentOffline)
	if res.Error != nil {
		return 0, types.NewError(types.ErrInternalError, "failed to mark stale agents offline").WithCause(res.Error)
	}
	if res.RowsAffected > 0 {
		d.logger.Info("marked stale agents offline",
			zap.Int64("count", res.RowsAffected),
			zap.Time("cutoff", cutoff),
		)
	}
	return res.RowsAffected, nil
}
