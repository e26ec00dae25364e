package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ExpiredOTPDeleter removes OTP records that expired before a cutoff.
type ExpiredOTPDeleter interface {
	DeleteExpiredOTPs(ctx context.Context, before time.Time) (int64, error)
}

// OTPCleanupJob periodically purges OTP records that expired more than
// Retention ago. Expiry itself is enforced at verification time.
type OTPCleanupJob struct {
	store     ExpiredOTPDeleter
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

func NewOTPCleanupJob(store ExpiredOTPDeleter, interval, retention time.Duration, logger *zap.Logger) *OTPCleanupJob {
	return &OTPCleanupJob{
		store:     store,
		interval:  interval,
		retention: retention,
		now:       time.Now,
		logger:    logger,
	}
}

// Run blocks until ctx is cancelled.
func (j *OTPCleanupJob) Run(ctx context.Context) {
	if j.interval <= 0 {
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single purge pass.
func (j *OTPCleanupJob) RunOnce(ctx context.Context) {
	cutoff := j.now().Add(-j.retention)
	deleted, err := j.store.DeleteExpiredOTPs(ctx, cutoff)
	if err != nil {
		j.logger.Error("purge expired otps", zap.Error(err))
		return
	}
	if deleted > 0 {
		j.logger.Info("purged expired otps", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))
	}
}
