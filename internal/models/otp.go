package models

import "time"

// OTP is a hashed delivery-confirmation passcode issued for an order.
// ID doubles as the issue sequence: among records with the same CreatedAt,
// the higher ID is the more recent one.
type OTP struct {
	ID          uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID     string     `gorm:"not null;index:idx_otps_order_latest,priority:1" json:"order_id"`
	Hash        []byte     `gorm:"not null" json:"-"`
	Salt        []byte     `gorm:"not null" json:"-"`
	CreatedAt   time.Time  `gorm:"not null;index:idx_otps_order_latest,priority:2" json:"created_at"`
	ExpiresAt   time.Time  `gorm:"not null;index" json:"expires_at"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	Invalidated bool       `gorm:"not null;default:false" json:"invalidated"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`

	// argon2id cost the hash was derived with; the key length is len(Hash).
	KDFTime      uint32 `gorm:"not null;default:0" json:"-"`
	KDFMemoryKiB uint32 `gorm:"not null;default:0" json:"-"`
	KDFThreads   uint8  `gorm:"not null;default:0" json:"-"`
}

// OTPState is the lifecycle state of an OTP as observed at a given instant.
type OTPState string

const (
	OTPStateActive    OTPState = "active"
	OTPStateVerified  OTPState = "verified"
	OTPStateExhausted OTPState = "exhausted"
	OTPStateExpired   OTPState = "expired"
)

// State derives the record state. Expiry and exhaustion are never stored,
// they are observed lazily.
func (o *OTP) State(now time.Time, maxAttempts int) OTPState {
	switch {
	case o.Invalidated:
		return OTPStateVerified
	case o.Attempts >= maxAttempts:
		return OTPStateExhausted
	case now.After(o.ExpiresAt):
		return OTPStateExpired
	default:
		return OTPStateActive
	}
}
