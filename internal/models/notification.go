package models

import "time"

// NotificationKind identifies why a customer message was sent
type NotificationKind string

const (
	NotificationKindOTP        NotificationKind = "otp"
	NotificationKindCompletion NotificationKind = "completion"
)

// Notification status values. Provider callbacks may add their own
// (queued, sent, delivered, read, undelivered...).
const (
	NotificationStatusAccepted = "accepted"
	NotificationStatusFailed   = "failed"
)

// NotificationLog records each outbound customer message and its delivery outcome.
type NotificationLog struct {
	ID                uint64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID           string           `gorm:"index" json:"order_id"`
	CorrelationID     string           `gorm:"index" json:"correlation_id"`
	Kind              NotificationKind `gorm:"not null" json:"kind"`
	Recipient         string           `json:"-"`
	ProviderMessageID string           `gorm:"index" json:"provider_message_id,omitempty"`
	Status            string           `gorm:"not null" json:"status"`
	Error             string           `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
