package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sethvargo/go-retry"
	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/Ananth-NQI/dropconfirm-backend/internal/config"
)

// messageCreator is the slice of the Twilio REST API used here.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioService sends WhatsApp messages through Twilio.
type TwilioService struct {
	api            messageCreator
	from           string // Your Twilio WhatsApp number
	statusCallback string
	backoff        func() retry.Backoff
	logger         *zap.Logger
}

// NewTwilioService creates a new Twilio service instance
func NewTwilioService(cfg config.TwilioConfig, logger *zap.Logger) (*TwilioService, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("missing Twilio credentials")
	}

	restClient := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &TwilioService{
		api:            restClient.Api,
		from:           cfg.WhatsAppFrom,
		statusCallback: cfg.StatusCallback,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(cfg.MaxRetries, retry.NewExponential(cfg.RetryBackoff))
		},
		logger: logger,
	}, nil
}

// Send delivers msg as a WhatsApp message. Throttling, server errors and
// transport failures are retried with exponential backoff; other API errors are not.
func (t *TwilioService) Send(ctx context.Context, msg Message) (Delivery, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(t.from)
	params.SetTo(whatsAppAddress(msg.To))
	params.SetBody(msg.Body)
	if t.statusCallback != "" {
		params.SetStatusCallback(t.statusCallback)
	}

	var resp *twilioApi.ApiV2010Message
	attempt := 0
	err := retry.Do(ctx, t.backoff(), func(ctx context.Context) error {
		attempt++
		r, err := t.api.CreateMessage(params)
		if err != nil {
			if isRetryableTwilioError(err) {
				t.logger.Warn("whatsapp send failed, retrying",
					zap.String("correlation_id", msg.CorrelationID),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				return retry.RetryableError(err)
			}
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return Delivery{}, fmt.Errorf("send whatsapp message: %w", err)
	}

	if resp.ErrorCode != nil && *resp.ErrorCode != 0 {
		errMsg := ""
		if resp.ErrorMessage != nil {
			errMsg = *resp.ErrorMessage
		}
		return Delivery{}, fmt.Errorf("twilio error %d: %s", *resp.ErrorCode, errMsg)
	}

	var sid string
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	t.logger.Info("whatsapp message accepted",
		zap.String("sid", sid),
		zap.String("correlation_id", msg.CorrelationID),
		zap.Int("attempts", attempt),
	)
	return Delivery{ProviderMessageID: sid}, nil
}

func isRetryableTwilioError(err error) bool {
	var restErr *client.TwilioRestError
	if errors.As(err, &restErr) {
		return restErr.Status == http.StatusTooManyRequests || restErr.Status >= http.StatusInternalServerError
	}
	return true
}

func whatsAppAddress(to string) string {
	if strings.HasPrefix(to, "whatsapp:") {
		return to
	}
	return "whatsapp:" + to
}
