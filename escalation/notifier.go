package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// maxDialBackoff caps the delay between AMQP dial attempts.
const maxDialBackoff = 60 * time.Second

// Event is one escalation notification. It is intentionally flat: the
// notification consumer (email sender, on-call pager) sees everything it
// needs without a follow-up query.
type Event struct {
	Kind           string    `json:"kind"`
	TenantID       string    `json:"tenant_id"`
	HandoffID      string    `json:"handoff_id"`
	ChatID         string    `json:"chat_id"`
	ContactEmail   string    `json:"contact_email,omitempty"`
	ContactMessage string    `json:"contact_message,omitempty"`
	RequestedAt    time.Time `json:"requested_at"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Event kinds.
const (
	KindNoAgentsAvailable = "no_agents_available"
	KindPickupTimeout     = "pickup_timeout"
)

// Notifier delivers escalation events to an external channel. Delivery
// is fire-and-forget from the policy's point of view.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
	Close() error
}

// =============================================================================
// AMQP notifier
// =============================================================================

// AMQPConfig configures the AMQP notifier.
type AMQPConfig struct {
	URL        string
	Exchange   string
	MaxRetries int
	RetryDelay time.Duration
}

// AMQPNotifier publishes escalation events to a durable topic exchange.
type AMQPNotifier struct {
	conn     *amqp091.Connection
	exchange string
	logger   *zap.Logger
}

// NewAMQPNotifier dials the broker with exponential backoff, declares
// the topic exchange, and returns a ready publisher.
func NewAMQPNotifier(ctx context.Context, cfg AMQPConfig, logger *zap.Logger) (*AMQPNotifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "escalation_notifier"))

	conn, err := dialWithRetry(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		cfg.Exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	logger.Info("escalation notifier connected", zap.String("exchange", cfg.Exchange))

	return &AMQPNotifier{
		conn:     conn,
		exchange: cfg.Exchange,
		logger:   logger,
	}, nil
}

// dialWithRetry connects to the broker with exponential backoff,
// respecting context cancellation for graceful shutdown.
func dialWithRetry(ctx context.Context, cfg AMQPConfig, logger *zap.Logger) (*amqp091.Connection, error) {
	attempts := cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp091.Dial(cfg.URL)
		if err == nil {
			if i > 1 {
				logger.Info("broker connected", zap.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err

		sleep := cfg.RetryDelay * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > maxDialBackoff {
			sleep = maxDialBackoff
		}

		logger.Warn("broker dial failed",
			zap.Int("attempt", i),
			zap.Duration("sleep", sleep),
			zap.Error(err),
		)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.New("dial cancelled: " + ctx.Err().Error())
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("failed to connect to broker after %d attempts: %w", attempts, lastErr)
}

// Notify publishes one event with routing key
// "handoff.<kind>.<tenant>".
func (n *AMQPNotifier) Notify(ctx context.Context, event Event) error {
	ch, err := n.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("handoff.%s.%s", event.Kind, event.TenantID)
	err = ch.PublishWithContext(
		ctx, n.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err == nil {
		n.logger.Info("escalation published",
			zap.String("key", key),
			zap.String("handoff_id", event.HandoffID),
		)
	}
	return err
}

// Close closes the broker connection.
func (n *AMQPNotifier) Close() error {
	return n.conn.Close()
}

// =============================================================================
// Nop notifier
// =============================================================================

// NopNotifier drops every event. Used when notification is disabled.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, event Event) error { return nil }
func (NopNotifier) Close() error                                  { return nil }
