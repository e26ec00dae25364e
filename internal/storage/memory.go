package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Ananth-NQI/dropconfirm-backend/internal/models"
)

// MemoryStore holds all data in memory. Used for local development and tests.
type MemoryStore struct {
	orders        map[string]*models.Order
	otps          map[uint64]*models.OTP
	otpsByOrder   map[string][]uint64
	notifications map[uint64]*models.NotificationLog

	// Lock order when both are needed: otpMu, then orderMu.
	orderMu        sync.RWMutex
	otpMu          sync.RWMutex
	notificationMu sync.Mutex

	// Counters for ID generation
	otpCounter          uint64
	notificationCounter uint64
}

// NewMemoryStore creates a new in-memory storage
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:        make(map[string]*models.Order),
		otps:          make(map[uint64]*models.OTP),
		otpsByOrder:   make(map[string][]uint64),
		notifications: make(map[uint64]*models.NotificationLog),
	}
}

// SaveOrder inserts or replaces an order. The dashboard CRUD layer owns
// orders in production; this exists for development seeding and tests.
func (m *MemoryStore) SaveOrder(order *models.Order) {
	m.orderMu.Lock()
	defer m.orderMu.Unlock()

	now := time.Now()
	cp := *order
	if cp.Status == "" {
		cp.Status = models.OrderStatusNew
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.orders[cp.ID] = &cp
}

// Order operations
func (m *MemoryStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	m.orderMu.RLock()
	defer m.orderMu.RUnlock()

	order, exists := m.orders[id]
	if !exists {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	cp := *order
	return &cp, nil
}

func (m *MemoryStore) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) error {
	m.orderMu.Lock()
	defer m.orderMu.Unlock()

	return m.setOrderStatusLocked(id, status, time.Now())
}

func (m *MemoryStore) setOrderStatusLocked(id string, status models.OrderStatus, at time.Time) error {
	order, exists := m.orders[id]
	if !exists {
		return fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	order.Status = status
	order.UpdatedAt = at
	if status == models.OrderStatusCompleted {
		order.CompletedAt = &at
	}
	return nil
}

// OTP operations
func (m *MemoryStore) CreateOTP(ctx context.Context, otp *models.OTP) error {
	m.otpMu.Lock()
	defer m.otpMu.Unlock()

	m.otpCounter++
	otp.ID = m.otpCounter
	if otp.CreatedAt.IsZero() {
		otp.CreatedAt = time.Now()
	}

	cp := *otp
	m.otps[cp.ID] = &cp
	m.otpsByOrder[cp.OrderID] = append(m.otpsByOrder[cp.OrderID], cp.ID)
	return nil
}

// GetOTP returns a copy of the record with the given ID.
func (m *MemoryStore) GetOTP(ctx context.Context, id uint64) (*models.OTP, error) {
	m.otpMu.RLock()
	defer m.otpMu.RUnlock()

	otp, exists := m.otps[id]
	if !exists {
		return nil, fmt.Errorf("otp %d: %w", id, ErrNotFound)
	}
	cp := *otp
	return &cp, nil
}

func (m *MemoryStore) GetLatestActiveOTP(ctx context.Context, orderID string) (*models.OTP, error) {
	m.otpMu.RLock()
	defer m.otpMu.RUnlock()

	var latest *models.OTP
	for _, id := range m.otpsByOrder[orderID] {
		otp := m.otps[id]
		if otp == nil || otp.Invalidated {
			continue
		}
		if latest == nil || newerOTP(otp, latest) {
			latest = otp
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("active otp for order %s: %w", orderID, ErrNotFound)
	}
	cp := *latest
	return &cp, nil
}

// newerOTP orders by CreatedAt, then by issue sequence.
func newerOTP(a, b *models.OTP) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func (m *MemoryStore) IncrementOTPAttempts(ctx context.Context, id uint64, maxAttempts int) (int, error) {
	m.otpMu.Lock()
	defer m.otpMu.Unlock()

	otp, exists := m.otps[id]
	if !exists {
		return 0, fmt.Errorf("otp %d: %w", id, ErrNotFound)
	}
	if otp.Invalidated || otp.Attempts >= maxAttempts {
		return otp.Attempts, ErrOTPInactive
	}
	otp.Attempts++
	return otp.Attempts, nil
}

func (m *MemoryStore) InvalidateOTP(ctx context.Context, id uint64, maxAttempts int, at time.Time) (bool, error) {
	m.otpMu.Lock()
	defer m.otpMu.Unlock()

	return m.invalidateLocked(id, maxAttempts, at)
}

func (m *MemoryStore) invalidateLocked(id uint64, maxAttempts int, at time.Time) (bool, error) {
	otp, exists := m.otps[id]
	if !exists {
		return false, fmt.Errorf("otp %d: %w", id, ErrNotFound)
	}
	if otp.Invalidated || otp.Attempts >= maxAttempts {
		return false, nil
	}
	otp.Invalidated = true
	otp.VerifiedAt = &at
	return true, nil
}

func (m *MemoryStore) CompleteDelivery(ctx context.Context, otpID uint64, orderID string, maxAttempts int, at time.Time) (bool, error) {
	m.otpMu.Lock()
	defer m.otpMu.Unlock()
	m.orderMu.Lock()
	defer m.orderMu.Unlock()

	order, exists := m.orders[orderID]
	if !exists {
		return false, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if order.IsClosed() {
		return false, nil
	}

	won, err := m.invalidateLocked(otpID, maxAttempts, at)
	if err != nil || !won {
		return false, err
	}

	for _, id := range m.otpsByOrder[orderID] {
		if otp := m.otps[id]; otp != nil && !otp.Invalidated {
			otp.Invalidated = true
		}
	}

	return true, m.setOrderStatusLocked(orderID, models.OrderStatusCompleted, at)
}

func (m *MemoryStore) DeleteExpiredOTPs(ctx context.Context, before time.Time) (int64, error) {
	m.otpMu.Lock()
	defer m.otpMu.Unlock()

	var deleted int64
	for orderID, ids := range m.otpsByOrder {
		kept := ids[:0]
		for _, id := range ids {
			if otp := m.otps[id]; otp != nil && otp.ExpiresAt.Before(before) {
				delete(m.otps, id)
				deleted++
				continue
			}
			kept = append(kept, id)
		}
		if len(kept) == 0 {
			delete(m.otpsByOrder, orderID)
		} else {
			m.otpsByOrder[orderID] = kept
		}
	}
	return deleted, nil
}

// Notification operations
func (m *MemoryStore) RecordNotification(ctx context.Context, n *models.NotificationLog) error {
	m.notificationMu.Lock()
	defer m.notificationMu.Unlock()

	m.notificationCounter++
	now := time.Now()
	n.ID = m.notificationCounter
	n.CreatedAt = now
	n.UpdatedAt = now

	cp := *n
	m.notifications[cp.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateNotificationStatus(ctx context.Context, providerMessageID, status, errMsg string) error {
	m.notificationMu.Lock()
	defer m.notificationMu.Unlock()

	for _, n := range m.notifications {
		if n.ProviderMessageID == providerMessageID {
			n.Status = status
			n.Error = errMsg
			n.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("notification %s: %w", providerMessageID, ErrNotFound)
}

// Notifications returns a snapshot of all notification log entries for an order.
func (m *MemoryStore) Notifications(orderID string) []models.NotificationLog {
	m.notificationMu.Lock()
	defer m.notificationMu.Unlock()

	var out []models.NotificationLog
	for id := uint64(1); id <= m.notificationCounter; id++ {
		if n, ok := m.notifications[id]; ok && n.OrderID == orderID {
			out = append(out, *n)
		}
	}
	return out
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
