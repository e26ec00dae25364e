package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ananth-NQI/dropconfirm-backend/database"
	"github.com/Ananth-NQI/dropconfirm-backend/internal/config"
	"github.com/Ananth-NQI/dropconfirm-backend/internal/handlers"
	"github.com/Ananth-NQI/dropconfirm-backend/internal/jobs"
	"github.com/Ananth-NQI/dropconfirm-backend/internal/middleware"
	"github.com/Ananth-NQI/dropconfirm-backend/internal/ratelimit"
	"github.com/Ananth-NQI/dropconfirm-backend/internal/routes"
	"github.com/Ananth-NQI/dropconfirm-backend/internal/services"
	"github.com/Ananth-NQI/dropconfirm-backend/internal/storage"
	"github.com/Ananth-NQI/dropconfirm-backend/internal/utils"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger error:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("application terminated with error", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	store, storageKind, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var notifier services.Notifier
	notifierKind := "twilio"
	if cfg.Twilio.Configured() {
		twilioService, err := services.NewTwilioService(cfg.Twilio, logger)
		if err != nil {
			return fmt.Errorf("twilio: %w", err)
		}
		notifier = twilioService
	} else if cfg.IsProduction() {
		return errors.New("twilio credentials are required in production")
	} else {
		logger.Warn("twilio credentials not found, messages are only logged")
		notifier = services.NewLogNotifier(logger)
		notifierKind = "log"
	}

	notificationJob := jobs.NewNotificationJob(notifier, store, cfg.Notify.Workers, cfg.Notify.QueueSize, cfg.Notify.SendTimeout, logger)
	notificationJob.Start()
	defer notificationJob.Stop()

	otpService := services.NewOTPService(store, store, notificationJob, services.OTPConfig{
		TTL:           cfg.OTP.TTL,
		MaxAttempts:   cfg.OTP.MaxAttempts,
		SendTimeout:   cfg.OTP.SendTimeout,
		SurveyBaseURL: cfg.SurveyBaseURL,
		KDF: utils.KDFParams{
			Time:      cfg.OTP.ArgonTime,
			MemoryKiB: cfg.OTP.ArgonMemoryKiB,
			Threads:   cfg.OTP.ArgonThreads,
			KeyLen:    utils.DefaultKDFParams.KeyLen,
		},
	}, logger)

	generateLimiter, err := ratelimit.New(ratelimit.Config{
		Name:   "otp-generate",
		Window: cfg.RateLimit.GenerateWindow,
		Max:    cfg.RateLimit.GenerateMax,
	}, ratelimit.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("generate limiter: %w", err)
	}
	verifyLimiter, err := ratelimit.New(ratelimit.Config{
		Name:   "otp-verify",
		Window: cfg.RateLimit.VerifyWindow,
		Max:    cfg.RateLimit.VerifyMax,
	}, ratelimit.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("verify limiter: %w", err)
	}

	fiberCfg := fiber.Config{
		AppName:               "DropConfirm Backend v" + version,
		DisableStartupMessage: cfg.IsProduction(),
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			msg := "Internal server error"
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
				msg = e.Message
			}
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"error":   msg,
			})
		},
	}
	if cfg.RateLimit.TrustProxy {
		fiberCfg.ProxyHeader = fiber.HeaderXForwardedFor
	}
	app := fiber.New(fiberCfg)

	app.Use(middleware.Logger(logger))
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	deps := routes.Deps{
		OTP:             handlers.NewOTPHandler(otpService, logger),
		Health:          handlers.NewHealthHandler(version, storageKind, notifierKind, store),
		Webhook:         handlers.NewWebhookHandler(store, logger),
		GenerateLimiter: generateLimiter,
		VerifyLimiter:   verifyLimiter,
		TwilioPublicURL: cfg.Twilio.StatusCallback,
		Logger:          logger,
	}
	if cfg.Twilio.ValidateWebhook {
		deps.TwilioAuthToken = cfg.Twilio.AuthToken
	}
	routes.SetupRoutes(app, deps)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	generateLimiter.StartJanitor(ctx, cfg.RateLimit.SweepInterval)
	verifyLimiter.StartJanitor(ctx, cfg.RateLimit.SweepInterval)

	g.Go(func() error {
		jobs.NewOTPCleanupJob(store, cfg.OTP.CleanupInterval, cfg.OTP.CleanupRetention, logger).Run(ctx)
		return nil
	})

	g.Go(func() error {
		logger.Info("starting server",
			zap.String("port", cfg.Port),
			zap.String("environment", cfg.Environment),
			zap.String("storage", storageKind),
			zap.String("notifier", notifierKind),
		)
		if err := app.Listen(":" + cfg.Port); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		logger.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}

func openStore(cfg *config.Config, logger *zap.Logger) (storage.Store, string, error) {
	if cfg.UseMemoryStore {
		logger.Warn("using in-memory storage, not for production")
		return storage.NewMemoryStore(), "memory", nil
	}

	db, err := database.Connect(cfg.Database, logger)
	if err != nil {
		return nil, "", err
	}
	if err := database.Migrate(db); err != nil {
		return nil, "", err
	}
	return storage.NewDatabaseStore(db), "postgres", nil
}
