package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Ananth-NQI/dropconfirm-backend/internal/models"
)

// DatabaseStore persists orders, OTPs and notification logs in PostgreSQL via gorm.
// Every conditional write is a single UPDATE ... WHERE whose affected-row count
// decides which concurrent caller won.
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore wraps an open gorm connection.
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	return &DatabaseStore{db: db}
}

// Order operations
func (s *DatabaseStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &order, nil
}

func (s *DatabaseStore) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) error {
	updates := map[string]interface{}{"status": status}
	if status == models.OrderStatusCompleted {
		updates["completed_at"] = time.Now()
	}

	res := s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update order status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return nil
}

// OTP operations
func (s *DatabaseStore) CreateOTP(ctx context.Context, otp *models.OTP) error {
	if err := s.db.WithContext(ctx).Create(otp).Error; err != nil {
		return fmt.Errorf("create otp: %w", err)
	}
	return nil
}

func (s *DatabaseStore) GetLatestActiveOTP(ctx context.Context, orderID string) (*models.OTP, error) {
	var otp models.OTP
	err := s.db.WithContext(ctx).
		Where("order_id = ? AND invalidated = ?", orderID, false).
		Order("created_at DESC").
		Order("id DESC").
		First(&otp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("active otp for order %s: %w", orderID, ErrNotFound)
		}
		return nil, fmt.Errorf("get latest otp: %w", err)
	}
	return &otp, nil
}

func (s *DatabaseStore) IncrementOTPAttempts(ctx context.Context, id uint64, maxAttempts int) (int, error) {
	var otp models.OTP
	res := s.db.WithContext(ctx).
		Model(&otp).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "attempts"}}}).
		Where("id = ? AND invalidated = ? AND attempts < ?", id, false, maxAttempts).
		UpdateColumn("attempts", gorm.Expr("attempts + 1"))
	if res.Error != nil {
		return 0, fmt.Errorf("increment otp attempts: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, ErrOTPInactive
	}
	return otp.Attempts, nil
}

func (s *DatabaseStore) InvalidateOTP(ctx context.Context, id uint64, maxAttempts int, at time.Time) (bool, error) {
	won, err := invalidateOTP(s.db.WithContext(ctx), id, maxAttempts, at)
	if err != nil {
		return false, fmt.Errorf("invalidate otp: %w", err)
	}
	return won, nil
}

func invalidateOTP(tx *gorm.DB, id uint64, maxAttempts int, at time.Time) (bool, error) {
	res := tx.Model(&models.OTP{}).
		Where("id = ? AND invalidated = ? AND attempts < ?", id, false, maxAttempts).
		Updates(map[string]interface{}{"invalidated": true, "verified_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// errLostRace rolls back a CompleteDelivery transaction without surfacing as a failure.
var errLostRace = errors.New("lost race")

func (s *DatabaseStore) CompleteDelivery(ctx context.Context, otpID uint64, orderID string, maxAttempts int, at time.Time) (bool, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		won, err := invalidateOTP(tx, otpID, maxAttempts, at)
		if err != nil {
			return fmt.Errorf("invalidate otp: %w", err)
		}
		if !won {
			return errLostRace
		}

		err = tx.Model(&models.OTP{}).
			Where("order_id = ? AND invalidated = ?", orderID, false).
			Update("invalidated", true).Error
		if err != nil {
			return fmt.Errorf("supersede otps: %w", err)
		}

		res := tx.Model(&models.Order{}).
			Where("id = ? AND status NOT IN ?", orderID, []models.OrderStatus{models.OrderStatusCompleted, models.OrderStatusCancelled}).
			Updates(map[string]interface{}{
				"status":       models.OrderStatusCompleted,
				"completed_at": at,
			})
		if res.Error != nil {
			return fmt.Errorf("complete order: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errLostRace
		}
		return nil
	})

	if errors.Is(err, errLostRace) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *DatabaseStore) DeleteExpiredOTPs(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", before).Delete(&models.OTP{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete expired otps: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Notification operations
func (s *DatabaseStore) RecordNotification(ctx context.Context, n *models.NotificationLog) error {
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	return nil
}

func (s *DatabaseStore) UpdateNotificationStatus(ctx context.Context, providerMessageID, status, errMsg string) error {
	res := s.db.WithContext(ctx).
		Model(&models.NotificationLog{}).
		Where("provider_message_id = ?", providerMessageID).
		Updates(map[string]interface{}{"status": status, "error": errMsg})
	if res.Error != nil {
		return fmt.Errorf("update notification status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("notification %s: %w", providerMessageID, ErrNotFound)
	}
	return nil
}

func (s *DatabaseStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *DatabaseStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
