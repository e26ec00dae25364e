package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ananth-NQI/dropconfirm-backend/internal/models"
	"github.com/Ananth-NQI/dropconfirm-backend/internal/storage"
	"github.com/Ananth-NQI/dropconfirm-backend/internal/utils"
)

var testKDF = utils.KDFParams{Time: 1, MemoryKiB: 1024, Threads: 1, KeyLen: 32}

type stubDispatcher struct {
	mu          sync.Mutex
	delivered   []Notification
	dispatched  []Notification
	deliverErr  error
	dispatchErr error
}

func (d *stubDispatcher) Deliver(ctx context.Context, n Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, n)
	return d.deliverErr
}

func (d *stubDispatcher) Dispatch(n Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dispatchErr != nil {
		return d.dispatchErr
	}
	d.dispatched = append(d.dispatched, n)
	return nil
}

var codePattern = regexp.MustCompile(`is (\d{4})\.`)

// lastCode extracts the plaintext code from the most recent OTP message.
func (d *stubDispatcher) lastCode(t *testing.T) string {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()

	require.NotEmpty(t, d.delivered)
	m := codePattern.FindStringSubmatch(d.delivered[len(d.delivered)-1].Body)
	require.Len(t, m, 2)
	return m[1]
}

type testEnv struct {
	svc        *OTPService
	store      *storage.MemoryStore
	dispatcher *stubDispatcher
	now        time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := storage.NewMemoryStore()
	store.SaveOrder(&models.Order{
		ID:            "O1",
		CustomerName:  "Ada",
		CustomerPhone: "+1 (555) 000-1111",
		Status:        models.OrderStatusDispatched,
		PublicToken:   "tok-o1",
	})

	env := &testEnv{
		store:      store,
		dispatcher: &stubDispatcher{},
		now:        time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
	}
	env.svc = NewOTPService(store, store, env.dispatcher, OTPConfig{
		TTL:           5 * time.Minute,
		MaxAttempts:   5,
		SurveyBaseURL: "https://shop.example/survey/",
		KDF:           testKDF,
	}, zap.NewNop())
	env.svc.now = func() time.Time { return env.now }
	return env
}

func (e *testEnv) latestOTP(t *testing.T) *models.OTP {
	t.Helper()
	otp, err := e.store.GetLatestActiveOTP(context.Background(), "O1")
	require.NoError(t, err)
	return otp
}

func (e *testEnv) order(t *testing.T) *models.Order {
	t.Helper()
	order, err := e.store.GetOrder(context.Background(), "O1")
	require.NoError(t, err)
	return order
}

func TestGenerate_CreatesRecordAndSendsCode(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.svc.Generate(context.Background(), "O1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Warning)

	otp := env.latestOTP(t)
	assert.Equal(t, 0, otp.Attempts)
	assert.False(t, otp.Invalidated)
	assert.Equal(t, env.now.Add(5*time.Minute), otp.ExpiresAt)

	code := env.dispatcher.lastCode(t)
	n, err := strconv.Atoi(code)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1000)
	assert.LessOrEqual(t, n, 9999)

	assert.NotEqual(t, []byte(code), otp.Hash)
	assert.NotEqual(t, otp.Salt, otp.Hash)
	assert.True(t, utils.VerifyOTP(code, otp.Salt, otp.Hash, testKDF))

	sent := env.dispatcher.delivered[0]
	assert.Equal(t, "+15550001111", sent.To)
	assert.Equal(t, models.NotificationKindOTP, sent.Kind)
	assert.NotEmpty(t, sent.CorrelationID)
}

func TestGenerate_NotificationFailureIsAdvisory(t *testing.T) {
	env := newTestEnv(t)
	env.dispatcher.deliverErr = errors.New("provider down")

	res, err := env.svc.Generate(context.Background(), "O1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Warning)

	env.latestOTP(t)
}

func TestGenerate_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.store.SaveOrder(&models.Order{ID: "NOPHONE", CustomerPhone: ""})
	env.store.SaveOrder(&models.Order{ID: "BADPHONE", CustomerPhone: "call the shop"})
	env.store.SaveOrder(&models.Order{ID: "DONE", CustomerPhone: "+15550002222", Status: models.OrderStatusCompleted})
	env.store.SaveOrder(&models.Order{ID: "CANCELLED", CustomerPhone: "+15550002222", Status: models.OrderStatusCancelled})

	tests := []struct {
		name    string
		orderID string
		wantErr error
	}{
		{name: "empty id", orderID: "  ", wantErr: ErrValidation},
		{name: "unknown order", orderID: "missing", wantErr: ErrOrderNotFound},
		{name: "no contact", orderID: "NOPHONE", wantErr: ErrNoContact},
		{name: "unusable contact", orderID: "BADPHONE", wantErr: ErrNoContact},
		{name: "completed order", orderID: "DONE", wantErr: ErrOrderClosed},
		{name: "cancelled order", orderID: "CANCELLED", wantErr: ErrOrderClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Generate(context.Background(), tt.orderID)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Empty(t, env.dispatcher.delivered)
}

func TestVerify_WrongThenCorrectCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Generate(ctx, "O1")
	require.NoError(t, err)
	code := env.dispatcher.lastCode(t)

	_, err = env.svc.Verify(ctx, "O1", "0000")
	assert.ErrorIs(t, err, ErrInvalidOTP)
	otp := env.latestOTP(t)
	assert.Equal(t, 1, otp.Attempts)
	assert.Equal(t, models.OrderStatusDispatched, env.order(t).Status)

	res, err := env.svc.Verify(ctx, "O1", code)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Warning)

	assert.Equal(t, models.OrderStatusCompleted, env.order(t).Status)
	consumed, err := env.store.GetOTP(ctx, otp.ID)
	require.NoError(t, err)
	assert.True(t, consumed.Invalidated)
	assert.Equal(t, models.OTPStateVerified, consumed.State(env.now, 5))

	require.Len(t, env.dispatcher.dispatched, 1)
	notice := env.dispatcher.dispatched[0]
	assert.Equal(t, models.NotificationKindCompletion, notice.Kind)
	assert.Contains(t, notice.Body, "https://shop.example/survey/tok-o1")
}

func TestVerify_ReplayFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Generate(ctx, "O1")
	require.NoError(t, err)
	code := env.dispatcher.lastCode(t)

	_, err = env.svc.Verify(ctx, "O1", code)
	require.NoError(t, err)

	_, err = env.svc.Verify(ctx, "O1", code)
	assert.ErrorIs(t, err, ErrOTPNotFound)
	assert.Len(t, env.dispatcher.dispatched, 1, "completion fires once")
}

func TestVerify_OlderCodeCannotCompleteTwice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Generate(ctx, "O1")
	require.NoError(t, err)
	first := env.dispatcher.lastCode(t)

	env.now = env.now.Add(time.Second)
	_, err = env.svc.Generate(ctx, "O1")
	require.NoError(t, err)
	second := env.dispatcher.lastCode(t)

	_, err = env.svc.Verify(ctx, "O1", second)
	require.NoError(t, err)

	_, err = env.svc.Verify(ctx, "O1", first)
	assert.ErrorIs(t, err, ErrOTPNotFound)
}

func TestVerify_TooManyAttempts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Generate(ctx, "O1")
	require.NoError(t, err)
	code := env.dispatcher.lastCode(t)
	wrong := "1000"
	if code == wrong {
		wrong = "1001"
	}

	for i := 0; i < 5; i++ {
		_, err := env.svc.Verify(ctx, "O1", wrong)
		require.ErrorIs(t, err, ErrInvalidOTP)
	}

	_, err = env.svc.Verify(ctx, "O1", code)
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	otp := env.latestOTP(t)
	assert.Equal(t, 5, otp.Attempts)
	assert.Equal(t, models.OTPStateExhausted, otp.State(env.now, 5))
	assert.Equal(t, models.OrderStatusDispatched, env.order(t).Status)
}

func TestVerify_Expired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Generate(ctx, "O1")
	require.NoError(t, err)
	code := env.dispatcher.lastCode(t)

	env.now = env.now.Add(5*time.Minute + time.Second)
	_, err = env.svc.Verify(ctx, "O1", code)
	assert.ErrorIs(t, err, ErrExpired)

	otp := env.latestOTP(t)
	assert.Equal(t, 0, otp.Attempts)
	assert.Equal(t, models.OTPStateExpired, otp.State(env.now, 5))
	assert.Equal(t, models.OrderStatusDispatched, env.order(t).Status)
}

func TestVerify_Validation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Verify(context.Background(), "O1", " ")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = env.svc.Verify(context.Background(), "", "1234")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = env.svc.Verify(context.Background(), "O1", "1234")
	assert.ErrorIs(t, err, ErrOTPNotFound)
}

func TestVerify_ConcurrentCorrectCodesCompleteOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Generate(ctx, "O1")
	require.NoError(t, err)
	code := env.dispatcher.lastCode(t)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.svc.Verify(ctx, "O1", code); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Len(t, env.dispatcher.dispatched, 1)
}

func TestVerify_CompletionNoticeQueueFullIsAdvisory(t *testing.T) {
	env := newTestEnv(t)
	env.dispatcher.dispatchErr = ErrQueueFull
	ctx := context.Background()

	_, err := env.svc.Generate(ctx, "O1")
	require.NoError(t, err)

	res, err := env.svc.Verify(ctx, "O1", env.dispatcher.lastCode(t))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warning)
	assert.Equal(t, models.OrderStatusCompleted, env.order(t).Status)
}

// splitStore hides CompleteDelivery so the invalidate-then-update path is used.
type splitStore struct {
	OTPStore
}

func TestVerify_WithoutAtomicCompleter(t *testing.T) {
	env := newTestEnv(t)
	env.svc.store = splitStore{OTPStore: env.store}
	ctx := context.Background()

	_, err := env.svc.Generate(ctx, "O1")
	require.NoError(t, err)
	code := env.dispatcher.lastCode(t)

	_, err = env.svc.Verify(ctx, "O1", code)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, env.order(t).Status)

	_, err = env.svc.Verify(ctx, "O1", code)
	assert.ErrorIs(t, err, ErrOTPNotFound)
}

type failingOTPStore struct {
	OTPStore
}

func (failingOTPStore) CreateOTP(ctx context.Context, otp *models.OTP) error {
	return errors.New("connection refused")
}

func TestGenerate_PersistenceFailureIsInternal(t *testing.T) {
	env := newTestEnv(t)
	env.svc.store = failingOTPStore{OTPStore: env.store}

	_, err := env.svc.Generate(context.Background(), "O1")
	require.Error(t, err)
	for _, clientErr := range []error{ErrValidation, ErrOrderNotFound, ErrNoContact, ErrOrderClosed} {
		assert.NotErrorIs(t, err, clientErr)
	}
	assert.Empty(t, env.dispatcher.delivered, "nothing is sent when the record was not stored")
}

func TestNormalizePhone(t *testing.T) {
	tests := map[string]string{
		"+1 (555) 000-1111": "+15550001111",
		"62 812.3456.7890":  "+6281234567890",
		"":                  "",
		"12345":             "",
		"+1555abc1111":      "",
		"5550001111+":       "",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizePhone(in), in)
	}
}

// racingStore runs interleave just before a failed attempt is recorded,
// standing in for a concurrent request that got there first.
type racingStore struct {
	*storage.MemoryStore
	interleave func(id uint64)
}

func (r racingStore) IncrementOTPAttempts(ctx context.Context, id uint64, maxAttempts int) (int, error) {
	r.interleave(id)
	return r.MemoryStore.IncrementOTPAttempts(ctx, id, maxAttempts)
}

func wrongCode(code string) string {
	if code == "1000" {
		return "1001"
	}
	return "1000"
}

func TestVerify_MismatchAfterConcurrentExhaustion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Generate(ctx, "O1")
	require.NoError(t, err)
	code := env.dispatcher.lastCode(t)

	env.svc.store = racingStore{MemoryStore: env.store, interleave: func(id uint64) {
		for {
			if _, err := env.store.IncrementOTPAttempts(ctx, id, 5); err != nil {
				return
			}
		}
	}}

	_, err = env.svc.Verify(ctx, "O1", wrongCode(code))
	assert.ErrorIs(t, err, ErrTooManyAttempts)
	assert.Equal(t, 5, env.latestOTP(t).Attempts)
}

func TestVerify_MismatchAfterConcurrentSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Generate(ctx, "O1")
	require.NoError(t, err)
	code := env.dispatcher.lastCode(t)

	env.svc.store = racingStore{MemoryStore: env.store, interleave: func(id uint64) {
		_, _ = env.store.CompleteDelivery(ctx, id, "O1", 5, env.now)
	}}

	_, err = env.svc.Verify(ctx, "O1", wrongCode(code))
	assert.ErrorIs(t, err, ErrOTPNotFound)
	assert.Equal(t, models.OrderStatusCompleted, env.order(t).Status)
}

func TestVerify_UsesCostStoredWithRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Generate(ctx, "O1")
	require.NoError(t, err)
	code := env.dispatcher.lastCode(t)

	otp := env.latestOTP(t)
	assert.Equal(t, testKDF.Time, otp.KDFTime)
	assert.Equal(t, testKDF.MemoryKiB, otp.KDFMemoryKiB)
	assert.Equal(t, testKDF.Threads, otp.KDFThreads)

	env.svc.cfg.KDF = utils.KDFParams{Time: 2, MemoryKiB: 2048, Threads: 2, KeyLen: 32}

	res, err := env.svc.Verify(ctx, "O1", code)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestVerify_CancelledOrderIsNotCompleted(t *testing.T) {
	for _, atomicStore := range []bool{true, false} {
		t.Run(fmt.Sprintf("atomic=%v", atomicStore), func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			if !atomicStore {
				env.svc.store = splitStore{OTPStore: env.store}
			}

			_, err := env.svc.Generate(ctx, "O1")
			require.NoError(t, err)
			code := env.dispatcher.lastCode(t)

			require.NoError(t, env.store.UpdateOrderStatus(ctx, "O1", models.OrderStatusCancelled))

			_, err = env.svc.Verify(ctx, "O1", code)
			assert.ErrorIs(t, err, ErrOrderClosed)
			assert.Equal(t, models.OrderStatusCancelled, env.order(t).Status)
			assert.Empty(t, env.dispatcher.dispatched)
		})
	}
}
