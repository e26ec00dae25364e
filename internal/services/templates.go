package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Ananth-NQI/dropconfirm-backend/internal/models"
)

// MessageTemplate is a customer message with numbered placeholders, the
// same {{1}}, {{2}} convention Twilio content templates use.
type MessageTemplate struct {
	Description string
	Parameters  []string
	Body        string
}

// MessageTemplates maps template names to their bodies.
var MessageTemplates = map[string]MessageTemplate{
	string(models.NotificationKindOTP): {
		Description: "Delivery passcode sent when the courier requests an OTP",
		Parameters:  []string{"order_id", "code", "ttl_minutes"},
		Body:        "Your delivery code for order {{1}} is {{2}}. Share it with the courier only when you receive your package. It expires in {{3}} minutes.",
	},
	string(models.NotificationKindCompletion): {
		Description: "Thank-you message after the delivery is confirmed",
		Parameters:  []string{"order_id"},
		Body:        "Order {{1}} has been delivered. Thank you for your purchase!",
	},
	"completion_survey": {
		Description: "Thank-you message with a link to the feedback survey",
		Parameters:  []string{"order_id", "survey_url"},
		Body:        "Order {{1}} has been delivered. Thank you for your purchase! Tell us how we did: {{2}}",
	},
}

// RenderMessage fills a template's placeholders from params.
func RenderMessage(templateName string, params map[string]string) (string, error) {
	template, exists := MessageTemplates[templateName]
	if !exists {
		return "", fmt.Errorf("template '%s' not found", templateName)
	}

	pairs := make([]string, 0, 2*len(template.Parameters))
	for i, name := range template.Parameters {
		value, ok := params[name]
		if !ok {
			return "", fmt.Errorf("missing required parameter: %s", name)
		}
		pairs = append(pairs, "{{"+strconv.Itoa(i+1)+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template.Body), nil
}

func otpMessage(orderID, code string, ttl time.Duration) (string, error) {
	return RenderMessage(string(models.NotificationKindOTP), map[string]string{
		"order_id":    orderID,
		"code":        code,
		"ttl_minutes": strconv.Itoa(int(ttl.Minutes())),
	})
}

func completionMessage(order *models.Order, surveyBaseURL string) (string, error) {
	if surveyBaseURL == "" || order.PublicToken == "" {
		return RenderMessage(string(models.NotificationKindCompletion), map[string]string{
			"order_id": order.ID,
		})
	}
	return RenderMessage("completion_survey", map[string]string{
		"order_id":   order.ID,
		"survey_url": strings.TrimRight(surveyBaseURL, "/") + "/" + order.PublicToken,
	})
}
