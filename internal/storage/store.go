package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Ananth-NQI/dropconfirm-backend/internal/models"
)

var (
	// ErrNotFound is returned when the requested order, OTP or notification does not exist.
	ErrNotFound = errors.New("not found")
	// ErrOTPInactive is returned by conditional OTP updates that lost to a
	// concurrent verification, exhaustion or invalidation.
	ErrOTPInactive = errors.New("otp no longer active")
)

// Store defines the interface for storage operations
type Store interface {
	// Order operations
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) error

	// OTP operations
	CreateOTP(ctx context.Context, otp *models.OTP) error
	GetLatestActiveOTP(ctx context.Context, orderID string) (*models.OTP, error)
	// IncrementOTPAttempts bumps the attempt counter only while the record is
	// not invalidated and below maxAttempts. It returns the new count or ErrOTPInactive.
	IncrementOTPAttempts(ctx context.Context, id uint64, maxAttempts int) (int, error)
	// InvalidateOTP consumes the record if it is still active. Only one caller can win.
	InvalidateOTP(ctx context.Context, id uint64, maxAttempts int, at time.Time) (bool, error)
	// CompleteDelivery consumes the OTP, supersedes the order's other active
	// OTPs and marks the order COMPLETED as one atomic step.
	CompleteDelivery(ctx context.Context, otpID uint64, orderID string, maxAttempts int, at time.Time) (bool, error)
	DeleteExpiredOTPs(ctx context.Context, before time.Time) (int64, error)

	// Notification operations
	RecordNotification(ctx context.Context, n *models.NotificationLog) error
	UpdateNotificationStatus(ctx context.Context, providerMessageID, status, errMsg string) error

	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*DatabaseStore)(nil)
)
