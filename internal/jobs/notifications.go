package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ananth-NQI/dropconfirm-backend/internal/models"
	"github.com/Ananth-NQI/dropconfirm-backend/internal/services"
)

// NotificationRecorder persists the outcome of each delivery.
type NotificationRecorder interface {
	RecordNotification(ctx context.Context, n *models.NotificationLog) error
}

// NotificationJob delivers customer notifications, either inline (Deliver)
// or through a bounded queue drained by background workers (Dispatch).
type NotificationJob struct {
	notifier    services.Notifier
	recorder    NotificationRecorder
	logger      *zap.Logger
	workers     int
	sendTimeout time.Duration

	queue chan services.Notification
	wg    sync.WaitGroup

	mu        sync.Mutex
	isRunning bool
}

// NewNotificationJob creates a new notification dispatcher
func NewNotificationJob(notifier services.Notifier, recorder NotificationRecorder, workers, queueSize int, sendTimeout time.Duration, logger *zap.Logger) *NotificationJob {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &NotificationJob{
		notifier:    notifier,
		recorder:    recorder,
		logger:      logger,
		workers:     workers,
		sendTimeout: sendTimeout,
		queue:       make(chan services.Notification, queueSize),
	}
}

// Start launches the workers. They exit once Stop has drained the queue.
func (n *NotificationJob) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.isRunning {
		n.logger.Warn("notification workers already running")
		return
	}
	n.isRunning = true

	for i := 0; i < n.workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}
	n.logger.Info("notification workers started", zap.Int("workers", n.workers))
}

// Stop closes the queue and waits for queued notifications to be sent.
func (n *NotificationJob) Stop() {
	n.mu.Lock()
	if !n.isRunning {
		n.mu.Unlock()
		return
	}
	n.isRunning = false
	close(n.queue)
	n.mu.Unlock()

	n.wg.Wait()
	n.logger.Info("notification workers stopped")
}

// Dispatch queues a notification without blocking.
func (n *NotificationJob) Dispatch(notification services.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.isRunning {
		return services.ErrQueueFull
	}
	select {
	case n.queue <- notification:
		return nil
	default:
		return services.ErrQueueFull
	}
}

// Deliver sends a notification immediately and records the outcome.
func (n *NotificationJob) Deliver(ctx context.Context, notification services.Notification) error {
	delivery, err := n.notifier.Send(ctx, services.Message{
		To:            notification.To,
		Body:          notification.Body,
		CorrelationID: notification.CorrelationID,
	})

	entry := &models.NotificationLog{
		OrderID:           notification.OrderID,
		CorrelationID:     notification.CorrelationID,
		Kind:              notification.Kind,
		Recipient:         notification.To,
		ProviderMessageID: delivery.ProviderMessageID,
		Status:            models.NotificationStatusAccepted,
	}
	if err != nil {
		entry.Status = models.NotificationStatusFailed
		entry.Error = err.Error()
	}

	// The log write must not be lost to a send timeout.
	if recErr := n.recorder.RecordNotification(context.WithoutCancel(ctx), entry); recErr != nil {
		n.logger.Error("record notification",
			zap.String("order_id", notification.OrderID),
			zap.String("correlation_id", notification.CorrelationID),
			zap.Error(recErr),
		)
	}
	return err
}

func (n *NotificationJob) worker() {
	defer n.wg.Done()

	for notification := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), n.sendTimeout)
		err := n.Deliver(ctx, notification)
		cancel()

		if err != nil {
			n.logger.Warn("notification delivery failed",
				zap.String("order_id", notification.OrderID),
				zap.String("kind", string(notification.Kind)),
				zap.String("correlation_id", notification.CorrelationID),
				zap.Error(err),
			)
			continue
		}
		n.logger.Debug("notification delivered",
			zap.String("order_id", notification.OrderID),
			zap.String("kind", string(notification.Kind)),
		)
	}
}
