package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ananth-NQI/dropconfirm-backend/internal/models"
	"github.com/Ananth-NQI/dropconfirm-backend/internal/storage"
	"github.com/Ananth-NQI/dropconfirm-backend/internal/utils"
)

// OrderGateway reads and updates orders owned by the dashboard.
type OrderGateway interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) error
}

// OTPStore persists OTP records. IncrementOTPAttempts and InvalidateOTP are
// conditional: they only apply while the record is still active.
type OTPStore interface {
	CreateOTP(ctx context.Context, otp *models.OTP) error
	GetLatestActiveOTP(ctx context.Context, orderID string) (*models.OTP, error)
	IncrementOTPAttempts(ctx context.Context, id uint64, maxAttempts int) (int, error)
	InvalidateOTP(ctx context.Context, id uint64, maxAttempts int, at time.Time) (bool, error)
}

// DeliveryCompleter is implemented by stores that can consume an OTP and
// complete its order in one atomic step.
type DeliveryCompleter interface {
	CompleteDelivery(ctx context.Context, otpID uint64, orderID string, maxAttempts int, at time.Time) (bool, error)
}

// OTPConfig tunes passcode issuance and verification.
type OTPConfig struct {
	TTL           time.Duration
	MaxAttempts   int
	SendTimeout   time.Duration
	SurveyBaseURL string
	KDF           utils.KDFParams
}

// Result is the outcome of a successful OTP operation. Warning carries
// advisory information, such as a failed customer notification.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Warning string `json:"warning,omitempty"`
}

// OTPService gates an order's transition to COMPLETED behind a short-lived
// passcode the customer relays to the courier.
type OTPService struct {
	store      OTPStore
	orders     OrderGateway
	dispatcher Dispatcher
	cfg        OTPConfig
	now        func() time.Time
	logger     *zap.Logger
}

func NewOTPService(store OTPStore, orders OrderGateway, dispatcher Dispatcher, cfg OTPConfig, logger *zap.Logger) *OTPService {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.KDF == (utils.KDFParams{}) {
		cfg.KDF = utils.DefaultKDFParams
	}

	return &OTPService{
		store:      store,
		orders:     orders,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger,
	}
}

// Generate issues a new OTP for the order and sends it to the customer.
// A failed send is reported as a warning; the OTP stays valid.
func (s *OTPService) Generate(ctx context.Context, orderID string) (*Result, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, ErrValidation
	}
	// State changes below must land even if the client goes away.
	ctx = context.WithoutCancel(ctx)

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.IsClosed() {
		return nil, ErrOrderClosed
	}
	phone := normalizePhone(order.CustomerPhone)
	if phone == "" {
		return nil, ErrNoContact
	}

	code, err := utils.GenerateSecureOTP()
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}
	salt, err := utils.GenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}

	now := s.now()
	otp := &models.OTP{
		OrderID:   order.ID,
		Hash:      utils.HashOTP(code, salt, s.cfg.KDF),
		Salt:      salt,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TTL),

		KDFTime:      s.cfg.KDF.Time,
		KDFMemoryKiB: s.cfg.KDF.MemoryKiB,
		KDFThreads:   s.cfg.KDF.Threads,
	}
	if err := s.store.CreateOTP(ctx, otp); err != nil {
		return nil, fmt.Errorf("store otp: %w", err)
	}

	s.logger.Info("otp issued",
		zap.String("order_id", order.ID),
		zap.Uint64("otp_id", otp.ID),
		zap.Time("expires_at", otp.ExpiresAt),
	)

	res := &Result{Success: true, Message: "OTP sent to the customer"}

	body, err := otpMessage(order.ID, code, s.cfg.TTL)
	if err != nil {
		return nil, fmt.Errorf("render otp message: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	err = s.dispatcher.Deliver(sendCtx, Notification{
		OrderID:       order.ID,
		Kind:          models.NotificationKindOTP,
		To:            phone,
		Body:          body,
		CorrelationID: uuid.NewString(),
	})
	if err != nil {
		s.logger.Warn("otp notification failed",
			zap.String("order_id", order.ID),
			zap.Uint64("otp_id", otp.ID),
			zap.Error(err),
		)
		res.Message = "OTP generated"
		res.Warning = "The OTP was generated but could not be delivered to the customer. Please retry."
	}

	return res, nil
}

// Verify checks code against the order's latest active OTP and, on a match,
// marks the order COMPLETED. Only one concurrent caller can succeed.
func (s *OTPService) Verify(ctx context.Context, orderID, code string) (*Result, error) {
	orderID = strings.TrimSpace(orderID)
	code = strings.TrimSpace(code)
	if orderID == "" || code == "" {
		return nil, ErrValidation
	}
	ctx = context.WithoutCancel(ctx)

	otp, err := s.store.GetLatestActiveOTP(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrOTPNotFound
		}
		return nil, fmt.Errorf("load otp: %w", err)
	}

	now := s.now()
	if otp.Attempts >= s.cfg.MaxAttempts {
		return nil, ErrTooManyAttempts
	}
	if now.After(otp.ExpiresAt) {
		return nil, ErrExpired
	}

	if !utils.VerifyOTP(code, otp.Salt, otp.Hash, s.kdfFor(otp)) {
		attempts, err := s.store.IncrementOTPAttempts(ctx, otp.ID, s.cfg.MaxAttempts)
		if errors.Is(err, storage.ErrOTPInactive) {
			// A concurrent call exhausted or consumed the record first.
			return nil, s.inactiveOutcome(ctx, otp)
		}
		if err != nil {
			return nil, fmt.Errorf("record failed attempt: %w", err)
		}
		s.logger.Info("otp mismatch",
			zap.String("order_id", orderID),
			zap.Uint64("otp_id", otp.ID),
			zap.Int("attempts", attempts),
		)
		return nil, ErrInvalidOTP
	}

	won, err := s.complete(ctx, otp, now)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, s.lostCompletion(ctx, orderID)
	}

	s.logger.Info("delivery confirmed",
		zap.String("order_id", orderID),
		zap.Uint64("otp_id", otp.ID),
	)

	res := &Result{Success: true, Message: "Delivery confirmed, order completed"}
	if warning := s.notifyCompletion(ctx, orderID); warning != "" {
		res.Warning = warning
	}
	return res, nil
}

// inactiveOutcome reports why a record that looked active could no longer
// take a failed attempt.
func (s *OTPService) inactiveOutcome(ctx context.Context, seen *models.OTP) error {
	current, err := s.store.GetLatestActiveOTP(ctx, seen.OrderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrOTPNotFound
		}
		return fmt.Errorf("reload otp: %w", err)
	}
	if current.ID == seen.ID && current.Attempts >= s.cfg.MaxAttempts {
		s.logger.Info("otp exhausted by concurrent attempt",
			zap.String("order_id", seen.OrderID),
			zap.Uint64("otp_id", seen.ID),
		)
		return ErrTooManyAttempts
	}
	return ErrOTPNotFound
}

// lostCompletion explains a matching code that did not complete the order.
func (s *OTPService) lostCompletion(ctx context.Context, orderID string) error {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err == nil && order.Status == models.OrderStatusCancelled {
		return ErrOrderClosed
	}
	return ErrOTPNotFound
}

// kdfFor returns the cost parameters the record was hashed with. Records
// without stored parameters use the current configuration.
func (s *OTPService) kdfFor(otp *models.OTP) utils.KDFParams {
	if otp.KDFTime == 0 || otp.KDFMemoryKiB == 0 || otp.KDFThreads == 0 {
		return s.cfg.KDF
	}
	return utils.KDFParams{
		Time:      otp.KDFTime,
		MemoryKiB: otp.KDFMemoryKiB,
		Threads:   otp.KDFThreads,
		KeyLen:    uint32(len(otp.Hash)),
	}
}

func (s *OTPService) complete(ctx context.Context, otp *models.OTP, now time.Time) (bool, error) {
	if c, ok := s.store.(DeliveryCompleter); ok {
		won, err := c.CompleteDelivery(ctx, otp.ID, otp.OrderID, s.cfg.MaxAttempts, now)
		if err != nil {
			return false, fmt.Errorf("complete delivery: %w", err)
		}
		return won, nil
	}

	order, err := s.getOrder(ctx, otp.OrderID)
	if err != nil {
		return false, err
	}
	if order.IsClosed() {
		return false, nil
	}

	won, err := s.store.InvalidateOTP(ctx, otp.ID, s.cfg.MaxAttempts, now)
	if err != nil {
		return false, fmt.Errorf("invalidate otp: %w", err)
	}
	if !won {
		return false, nil
	}
	if err := s.orders.UpdateOrderStatus(ctx, otp.OrderID, models.OrderStatusCompleted); err != nil {
		return false, fmt.Errorf("complete order: %w", err)
	}
	return true, nil
}

// notifyCompletion queues the thank-you message. It returns a warning when
// the message could not be queued.
func (s *OTPService) notifyCompletion(ctx context.Context, orderID string) string {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		s.logger.Warn("load order for completion notice", zap.String("order_id", orderID), zap.Error(err))
		return "Order completed but the customer could not be notified."
	}
	phone := normalizePhone(order.CustomerPhone)
	if phone == "" {
		return "Order completed but the customer has no contact to notify."
	}

	body, err := completionMessage(order, s.cfg.SurveyBaseURL)
	if err != nil {
		s.logger.Error("render completion notice", zap.String("order_id", orderID), zap.Error(err))
		return "Order completed but the customer could not be notified."
	}

	err = s.dispatcher.Dispatch(Notification{
		OrderID:       order.ID,
		Kind:          models.NotificationKindCompletion,
		To:            phone,
		Body:          body,
		CorrelationID: uuid.NewString(),
	})
	if err != nil {
		s.logger.Warn("queue completion notice", zap.String("order_id", orderID), zap.Error(err))
		return "Order completed but the customer could not be notified."
	}
	return ""
}

func (s *OTPService) getOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("load order: %w", err)
	}
	return order, nil
}

// normalizePhone strips formatting and returns an E.164-style number, or ""
// when the input cannot be a phone number.
func normalizePhone(raw string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return ""
		}
	}
	digits := b.String()
	if len(digits) < 8 || len(digits) > 15 {
		return ""
	}
	return "+" + digits
}
