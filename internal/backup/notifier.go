package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/noctua-health/somnia/internal/logger"
)

//go:generate mockgen -source=notifier.go -destination=../mock/backup_notifier.go -package=mock

// Alert is one health or failure notification raised by the backup
// subsystem.
type Alert struct {
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
	Tier     string    `json:"tier,omitempty"`
	At       time.Time `json:"at"`
}

// Notifier delivers alerts to an operator channel.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// WebhookNotifier POSTs alerts as JSON to a configured webhook URL.
type WebhookNotifier struct {
	client *resty.Client
	url    string
	logger *logger.Logger
}

// NewWebhookNotifier builds the notifier. Delivery retries twice with a
// short backoff before giving up.
func NewWebhookNotifier(url string, log *logger.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(2 * time.Second)

	return &WebhookNotifier{client: client, url: url, logger: log}
}

// Notify delivers one alert.
func (n *WebhookNotifier) Notify(ctx context.Context, alert Alert) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(alert).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("delivering alert: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("alert webhook returned %s", resp.Status())
	}

	n.logger.Debug().Str("func", "Notify").
		Str("severity", alert.Severity).
		Msg("alert delivered")
	return nil
}
