package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Ananth-NQI/dropconfirm-backend/internal/models"
)

// Message is one outbound customer message.
type Message struct {
	To            string
	Body          string
	CorrelationID string
}

// Delivery is what the provider reported on acceptance.
type Delivery struct {
	ProviderMessageID string
}

// Notifier delivers messages to customers. Implementations own their retry policy.
type Notifier interface {
	Send(ctx context.Context, msg Message) (Delivery, error)
}

// Notification is a customer message tied to an order.
type Notification struct {
	OrderID       string
	Kind          models.NotificationKind
	To            string
	Body          string
	CorrelationID string
}

// ErrQueueFull is returned by Dispatch when the delivery queue is saturated.
var ErrQueueFull = errors.New("notification queue is full")

// Dispatcher sends notifications and records their outcome.
type Dispatcher interface {
	// Deliver sends n now and returns the delivery error, if any.
	Deliver(ctx context.Context, n Notification) error
	// Dispatch queues n for background delivery.
	Dispatch(n Notification) error
}

// LogNotifier writes messages to the log instead of a provider. It is the
// development fallback when no WhatsApp credentials are configured. Bodies
// carry passcodes, so they are only logged at Debug level.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, msg Message) (Delivery, error) {
	n.logger.Info("notification (log only)",
		zap.String("correlation_id", msg.CorrelationID),
		zap.Int("body_len", len(msg.Body)),
	)
	if ce := n.logger.Check(zap.DebugLevel, "notification body (log only)"); ce != nil {
		ce.Write(
			zap.String("correlation_id", msg.CorrelationID),
			zap.String("to", msg.To),
			zap.String("body", msg.Body),
		)
	}
	return Delivery{}, nil
}
