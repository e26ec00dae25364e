package models

import "time"

// OrderStatus tracks where an order is in the delivery pipeline.
type OrderStatus string

const (
	OrderStatusNew        OrderStatus = "NEW"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusPreparing  OrderStatus = "PREPARING"
	OrderStatusReady      OrderStatus = "READY"
	OrderStatusDispatched OrderStatus = "DISPATCHED"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// Order is the slice of the dashboard's order record this service reads and
// updates. Everything else about orders is owned by the CRUD layer.
type Order struct {
	ID            string      `gorm:"primaryKey" json:"id"`
	CustomerName  string      `json:"customer_name"`
	CustomerPhone string      `gorm:"index" json:"customer_phone"`
	Status        OrderStatus `gorm:"not null;default:NEW;index" json:"status"`
	PublicToken   string      `gorm:"uniqueIndex" json:"-"` // used for tracking and survey links

	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsClosed reports whether the order can no longer change state through delivery confirmation.
func (o *Order) IsClosed() bool {
	return o.Status == OrderStatusCompleted || o.Status == OrderStatusCancelled
}
