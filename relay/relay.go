// Package relay is the append-only message log of a handoff. Each
// handoff carries its own sequence counter; appends bump it with a
// conditional update inside a transaction, so sequence numbers are
// dense, unique per handoff, and allocated in commit order. Reads order
// by (created_at, seq), making incremental polling deterministic even
// when messages share a timestamp.
package relay

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/relaydesk/relaydesk/guard"
	"github.com/relaydesk/relaydesk/internal/database"
	"github.com/relaydesk/relaydesk/internal/metrics"
	"github.com/relaydesk/relaydesk/registry"
	"github.com/relaydesk/relaydesk/types"
)

// maxContentLength caps a single message body.
const maxContentLength = 64 * 1024

// Relay appends and reads handoff messages.
type Relay struct {
	pool     *database.PoolManager
	registry *registry.Registry
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// New creates a message relay. collector may be nil.
func New(pool *database.PoolManager, reg *registry.Registry, collector *metrics.Collector, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		pool:     pool,
		registry: reg,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "relay")),
	}
}

// Append stores one message on the handoff. Agent-originated messages
// require ownership of an active handoff; customer and system messages
// are admitted by the channel layer and only need the handoff to be
// open. The sequence allocation and the insert commit together.
func (r *Relay) Append(ctx context.Context, handoffID string, sender types.SenderKind, senderID *string, content string) (*types.HandoffMessage, error) {
	if handoffID == "" {
		return nil, types.NewError(types.ErrValidation, "handoff id is required")
	}
	if !types.ValidSenderKind(sender) {
		return nil, types.NewError(types.ErrValidation, "unknown sender kind")
	}
	if strings.TrimSpace(content) == "" {
		return nil, types.NewError(types.ErrValidation, "message content is required")
	}
	if len(content) > maxContentLength {
		return nil, types.NewError(types.ErrValidation, "message content too long")
	}
	if sender == types.SenderAgent && (senderID == nil || *senderID == "") {
		return nil, types.NewError(types.ErrValidation, "agent messages require a sender id")
	}

	var msg *types.HandoffMessage
	err := r.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		h, err := r.registry.GetIn(tx, handoffID)
		if err != nil {
			return err
		}
		if sender == types.SenderAgent && !guard.CanAct(h, *senderID) {
			return types.NewError(types.ErrUnauthorized, "agent does not own this handoff")
		}

		// The bump is conditioned on the handoff still being open, so
		// a resolve or expiry racing this append wins and the message
		// is refused rather than landing on a terminal handoff.
		res := tx.Model(&types.HandoffRequest{}).
			Where("id = ? AND status IN ?", handoffID, []types.HandoffStatus{types.HandoffPending, types.HandoffActive}).
			UpdateColumn("message_seq", gorm.Expr("message_seq + 1"))
		if res.Error != nil {
			return types.NewError(types.ErrInternalError, "failed to allocate message sequence").WithCause(res.Error)
		}
		if res.RowsAffected == 0 {
			return types.NewError(types.ErrInvalidTransition, "handoff is closed to new messages")
		}

		var seq int64
		if err := tx.Model(&types.HandoffRequest{}).
			Where("id = ?", handoffID).
			Pluck("message_seq", &seq).Error; err != nil {
			return types.NewError(types.ErrInternalError, "failed to read message sequence").WithCause(err)
		}

		msg = &types.HandoffMessage{
			ID:         uuid.NewString(),
			HandoffID:  handoffID,
			Seq:        seq,
			SenderKind: sender,
			SenderID:   senderID,
			Content:    content,
			CreatedAt:  time.Now().UTC(),
		}
		if err := tx.Create(msg).Error; err != nil {
			return types.NewError(types.ErrInternalError, "failed to store message").WithCause(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if r.metrics != nil {
		if h, herr := r.registry.Get(ctx, handoffID); herr == nil {
			r.metrics.RecordMessageAppended(h.TenantID, string(sender))
		}
	}

	return msg, nil
}

// Since returns the handoff's messages created strictly after since,
// ordered by (created_at, seq). A zero since returns everything.
func (r *Relay) Since(ctx context.Context, handoffID string, since time.Time) ([]types.HandoffMessage, error) {
	if _, err := r.registry.Get(ctx, handoffID); err != nil {
		return nil, err
	}

	var msgs []types.HandoffMessage
	err := r.pool.DB().WithContext(ctx).
		Where("handoff_id = ? AND created_at > ?", handoffID, since).
		Order("created_at ASC, seq ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to read messages").WithCause(err)
	}
	return msgs, nil
}

// SinceSeq returns messages with a sequence strictly greater than
// afterSeq. Sequence cursors never skip or repeat, which is what the
// WebSocket stream relies on.
func (r *Relay) SinceSeq(ctx context.Context, handoffID string, afterSeq int64) ([]types.HandoffMessage, error) {
	if _, err := r.registry.Get(ctx, handoffID); err != nil {
		return nil, err
	}

	var msgs []types.HandoffMessage
	err := r.pool.DB().WithContext(ctx).
		Where("handoff_id = ? AND seq > ?", handoffID, afterSeq).
		Order("seq ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to read messages").WithCause(err)
	}
	return msgs, nil
}

// List returns the handoff's full transcript in order.
func (r *Relay) List(ctx context.Context, handoffID string) ([]types.HandoffMessage, error) {
	return r.Since(ctx, handoffID, time.Time{})
}
