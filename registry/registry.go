// Package registry owns the handoff entity's lifecycle data. Every state
// change goes through a conditional update keyed on the state the caller
// observed, so a transition either wins cleanly or fails with a typed
// error; there is no read-then-write window.
package registry

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/relaydesk/relaydesk/types"
)

// Registry is the handoff store.
type Registry struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New creates a handoff registry.
func New(db *gorm.DB, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		db:     db,
		logger: logger.With(zap.String("component", "registry")),
	}
}

// InitDatabase migrates the handoff schema.
func (r *Registry) InitDatabase(ctx context.Context) error {
	err := r.db.WithContext(ctx).AutoMigrate(
		&types.Agent{},
		&types.HandoffRequest{},
		&types.HandoffMessage{},
	)
	if err != nil {
		return types.NewError(types.ErrInternalError, "failed to migrate schema").WithCause(err)
	}
	r.logger.Info("database schema migrated")
	return nil
}

// Create inserts a new pending handoff carrying the conversation snapshot.
func (r *Registry) Create(ctx context.Context, tenantID, chatID, contextSnapshot string) (*types.HandoffRequest, error) {
	tenantID = strings.TrimSpace(tenantID)
	chatID = strings.TrimSpace(chatID)
	if tenantID == "" {
		return nil, types.NewError(types.ErrValidation, "tenant id is required")
	}
	if chatID == "" {
		return nil, types.NewError(types.ErrValidation, "chat id is required")
	}

	h := &types.HandoffRequest{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		ChatID:      chatID,
		Status:      types.HandoffPending,
		Context:     contextSnapshot,
		RequestedAt: time.Now().UTC(),
	}

	if err := r.db.WithContext(ctx).Create(h).Error; err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to create handoff").WithCause(err)
	}

	r.logger.Info("handoff created",
		zap.String("handoff_id", h.ID),
		zap.String("tenant_id", tenantID),
		zap.String("chat_id", chatID),
	)
	return h, nil
}

// Get returns one handoff by ID.
func (r *Registry) Get(ctx context.Context, id string) (*types.HandoffRequest, error) {
	return r.GetIn(r.db.WithContext(ctx), id)
}

// GetIn reads one handoff inside an existing transaction.
func (r *Registry) GetIn(tx *gorm.DB, id string) (*types.HandoffRequest, error) {
	if id == "" {
		return nil, types.NewError(types.ErrValidation, "handoff id is required")
	}

	var h types.HandoffRequest
	err := tx.First(&h, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, types.NewError(types.ErrNotFound, "handoff not found")
		}
		return nil, types.NewError(types.ErrInternalError, "failed to load handoff").WithCause(err)
	}
	return &h, nil
}

// ListPending returns the tenant's unclaimed handoffs, oldest first.
func (r *Registry) ListPending(ctx context.Context, tenantID string) ([]types.HandoffRequest, error) {
	return r.listByStatus(ctx, tenantID, types.HandoffPending, "requested_at ASC")
}

// ListActive returns the tenant's claimed handoffs in pickup order.
func (r *Registry) ListActive(ctx context.Context, tenantID string) ([]types.HandoffRequest, error) {
	return r.listByStatus(ctx, tenantID, types.HandoffActive, "picked_up_at ASC")
}

func (r *Registry) listByStatus(ctx context.Context, tenantID string, status types.HandoffStatus, order string) ([]types.HandoffRequest, error) {
	if tenantID == "" {
		return nil, types.NewError(types.ErrValidation, "tenant id is required")
	}

	var handoffs []types.HandoffRequest
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, status).
		Order(order).
		Find(&handoffs).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to list handoffs").WithCause(err)
	}
	return handoffs, nil
}

// CountPending returns the tenant's pending queue depth.
func (r *Registry) CountPending(ctx context.Context, tenantID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&types.HandoffRequest{}).
		Where("tenant_id = ? AND status = ?", tenantID, types.HandoffPending).
		Count(&n).Error
	if err != nil {
		return 0, types.NewError(types.ErrInternalError, "failed to count pending handoffs").WithCause(err)
	}
	return n, nil
}

// PendingDepths returns the pending queue depth per tenant. Tenants with
// an empty queue are absent from the result.
func (r *Registry) PendingDepths(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		TenantID string
		N        int64
	}
	err := r.db.WithContext(ctx).Model(&types.HandoffRequest{}).
		Select("tenant_id, COUNT(*) AS n").
		Where("status = ?", types.HandoffPending).
		Group("tenant_id").
		Scan(&rows).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to count pending handoffs").WithCause(err)
	}

	depths := make(map[string]int64, len(rows))
	for _, row := range rows {
		depths[row.TenantID] = row.N
	}
	return depths, nil
}

// Transition moves a handoff along one legal lifecycle edge. The update
// applies only while the current status still equals from; losing that
// race surfaces as InvalidTransition.
func (r *Registry) Transition(ctx context.Context, id string, from, to types.HandoffStatus) error {
	return r.TransitionIn(r.db.WithContext(ctx), id, from, to)
}

// TransitionIn applies Transition inside an existing transaction.
func (r *Registry) TransitionIn(tx *gorm.DB, id string, from, to types.HandoffStatus) error {
	if !types.CanTransition(from, to) {
		return types.NewError(types.ErrInvalidTransition, "illegal handoff transition "+string(from)+" -> "+string(to))
	}

	updates := map[string]interface{}{"status": to}
	if to == types.HandoffExpired {
		updates["resolved_at"] = time.Now().UTC()
	}

	res := tx.Model(&types.HandoffRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return types.NewError(types.ErrInternalError, "failed to transition handoff").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetIn(tx, id); err != nil {
			return err
		}
		return types.NewError(types.ErrInvalidTransition, "handoff is no longer "+string(from))
	}
	return nil
}

// ClaimIn atomically assigns a pending handoff to agentID inside an
// existing transaction. Exactly one of several simultaneous claimants can
// match the pending precondition; the rest observe zero rows and get a
// discriminated error.
func (r *Registry) ClaimIn(tx *gorm.DB, handoffID, tenantID, agentID string, now time.Time) (*types.HandoffRequest, error) {
	res := tx.Model(&types.HandoffRequest{}).
		Where("id = ? AND tenant_id = ? AND status = ?", handoffID, tenantID, types.HandoffPending).
		Updates(map[string]interface{}{
			"status":            types.HandoffActive,
			"assigned_agent_id": agentID,
			"picked_up_at":      now,
		})
	if res.Error != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to claim handoff").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, r.claimFailure(tx, handoffID, tenantID)
	}

	return r.GetIn(tx, handoffID)
}

// claimFailure figures out why the conditional claim matched nothing.
func (r *Registry) claimFailure(tx *gorm.DB, handoffID, tenantID string) error {
	h, err := r.GetIn(tx, handoffID)
	if err != nil {
		return err
	}
	if h.TenantID != tenantID {
		// Cross-tenant IDs are indistinguishable from missing ones.
		return types.NewError(types.ErrNotFound, "handoff not found")
	}
	switch h.Status {
	case types.HandoffActive:
		return types.NewError(types.ErrAlreadyAssigned, "handoff already claimed by another agent").WithRetryable(true)
	case types.HandoffResolved:
		return types.NewError(types.ErrAlreadyResolved, "handoff already resolved")
	case types.HandoffExpired:
		return types.NewError(types.ErrInvalidTransition, "handoff has expired")
	default:
		return types.NewError(types.ErrInternalError, "claim failed for pending handoff")
	}
}

// FinishIn atomically resolves an active handoff inside an existing
// transaction. Only the currently assigned agent matches the
// precondition; everyone else gets a typed refusal and no state changes.
func (r *Registry) FinishIn(tx *gorm.DB, handoffID, agentID string, now time.Time) (*types.HandoffRequest, error) {
	res := tx.Model(&types.HandoffRequest{}).
		Where("id = ? AND status = ? AND assigned_agent_id = ?", handoffID, types.HandoffActive, agentID).
		Updates(map[string]interface{}{
			"status":      types.HandoffResolved,
			"resolved_at": now,
		})
	if res.Error != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to resolve handoff").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, r.finishFailure(tx, handoffID, agentID)
	}

	return r.GetIn(tx, handoffID)
}

// finishFailure figures out why the conditional resolve matched nothing.
func (r *Registry) finishFailure(tx *gorm.DB, handoffID, agentID string) error {
	h, err := r.GetIn(tx, handoffID)
	if err != nil {
		return err
	}
	switch h.Status {
	case types.HandoffActive:
		return types.NewError(types.ErrUnauthorized, "handoff is owned by another agent")
	case types.HandoffResolved:
		if h.AssignedTo(agentID) {
			return types.NewError(types.ErrAlreadyResolved, "handoff already resolved")
		}
		return types.NewError(types.ErrUnauthorized, "handoff was resolved by another agent")
	case types.HandoffPending:
		return types.NewError(types.ErrInvalidTransition, "handoff has not been picked up")
	case types.HandoffExpired:
		return types.NewError(types.ErrInvalidTransition, "handoff has expired")
	default:
		return types.NewError(types.ErrInternalError, "resolve failed for active handoff")
	}
}

// SetContact stores after-hours contact details on a still-pending
// handoff. Terminal or claimed handoffs are left untouched.
func (r *Registry) SetContact(ctx context.Context, handoffID, email, message string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return types.NewError(types.ErrValidation, "contact email is required")
	}

	res := r.db.WithContext(ctx).Model(&types.HandoffRequest{}).
		Where("id = ? AND status = ?", handoffID, types.HandoffPending).
		Updates(map[string]interface{}{
			"contact_email":   email,
			"contact_message": message,
		})
	if res.Error != nil {
		return types.NewError(types.ErrInternalError, "failed to set contact details").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, handoffID); err != nil {
			return err
		}
		return types.NewError(types.ErrInvalidTransition, "handoff is no longer pending")
	}
	return nil
}

// ListOverdue returns pending handoffs requested before cutoff, the
// candidates for the expiry sweep.
func (r *Registry) ListOverdue(ctx context.Context, cutoff time.Time) ([]types.HandoffRequest, error) {
	var handoffs []types.HandoffRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND requested_at < ?", types.HandoffPending, cutoff).
		Order("requested_at ASC").
		Find(&handoffs).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to list overdue handoffs").WithCause(err)
	}
	return handoffs, nil
}
