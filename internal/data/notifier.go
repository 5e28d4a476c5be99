package data

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"CloudRelay/internal/conf"
	"CloudRelay/internal/model"
	pkglog "CloudRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/slack-go/slack"
)

// Notifier logs every notification and, when a Slack webhook is configured, posts it there too.
// Without a webhook it behaves as a log-only notifier.
type Notifier struct {
	webhookURL string
	channel    string
	logger     *pkglog.LogHelper
	post       func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

// NewNotifier creates a notifier from the notify configuration.
func NewNotifier(c *conf.Notify, logger log.Logger) *Notifier {
	n := &Notifier{
		logger: pkglog.NewLogHelper(logger),
		post:   slack.PostWebhookContext,
	}
	if c != nil {
		n.webhookURL = c.SlackWebhookURL
		n.channel = c.SlackChannel
	}
	return n
}

// SendConnectionRestored tells a principal their provider connection works again.
func (n *Notifier) SendConnectionRestored(ctx context.Context, principalID int64, provider model.Provider) error {
	n.logger.Notify("connection restored",
		"principal_id", principalID,
		"provider", provider)

	return n.send(ctx, fmt.Sprintf(":white_check_mark: %s connection restored", provider), slack.Attachment{
		Color: "good",
		Fields: []slack.AttachmentField{
			{Title: "Principal", Value: strconv.FormatInt(principalID, 10), Short: true},
			{Title: "Provider", Value: provider.String(), Short: true},
		},
	})
}

// SendRefreshFailure tells a principal recovery gave up or needs their action.
func (n *Notifier) SendRefreshFailure(ctx context.Context, notice *model.RefreshFailureNotice) error {
	n.logger.Warnw("msg", "refresh failure notification",
		"principal_id", notice.PrincipalID,
		"provider", notice.Provider,
		"error_kind", notice.ErrorKind,
		"attempt_count", notice.AttemptCount,
		"detail", notice.Detail)

	return n.send(ctx, fmt.Sprintf(":warning: %s connection needs attention", notice.Provider), slack.Attachment{
		Color: "warning",
		Text:  notice.Detail,
		Fields: []slack.AttachmentField{
			{Title: "Principal", Value: strconv.FormatInt(notice.PrincipalID, 10), Short: true},
			{Title: "Error", Value: notice.ErrorKind.String(), Short: true},
			{Title: "Attempts", Value: strconv.FormatInt(notice.AttemptCount, 10), Short: true},
		},
	})
}

// SendAlert delivers an operator alert raised by the error tracker.
func (n *Notifier) SendAlert(ctx context.Context, alert *model.Alert) error {
	n.logger.Warnw("msg", "alert raised",
		"alert_type", alert.Type,
		"severity", alert.Severity,
		"provider", alert.Provider,
		"principal_id", alert.PrincipalID,
		"error_kind", alert.ErrorKind,
		"count", alert.Count,
		"message", alert.Message)

	fields := []slack.AttachmentField{
		{Title: "Provider", Value: alert.Provider.String(), Short: true},
		{Title: "Principal", Value: strconv.FormatInt(alert.PrincipalID, 10), Short: true},
		{Title: "Count", Value: strconv.FormatInt(alert.Count, 10), Short: true},
	}
	if alert.ErrorKind != "" {
		fields = append(fields, slack.AttachmentField{Title: "Error", Value: alert.ErrorKind.String(), Short: true})
	}
	if alert.Operation != "" {
		fields = append(fields, slack.AttachmentField{Title: "Operation", Value: alert.Operation, Short: true})
	}

	return n.send(ctx, fmt.Sprintf("[%s] %s", alert.Severity, alert.Message), slack.Attachment{
		Color:  severityColor(alert.Severity),
		Fields: fields,
		Ts:     jsonTimestamp(alert),
	})
}

func (n *Notifier) send(ctx context.Context, text string, attachment slack.Attachment) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := &slack.WebhookMessage{
		Channel:     n.channel,
		Text:        text,
		Attachments: []slack.Attachment{attachment},
	}
	if err := n.post(ctx, n.webhookURL, msg); err != nil {
		n.logger.Errorw("msg", "failed to post slack notification", "error", err)
		return fmt.Errorf("failed to post slack notification: %w", err)
	}

	return nil
}

func severityColor(s model.AlertSeverity) string {
	switch s {
	case model.SeverityCritical:
		return "danger"
	case model.SeverityHigh:
		return "#ff8c00"
	default:
		return "warning"
	}
}

func jsonTimestamp(alert *model.Alert) json.Number {
	if alert.Timestamp.IsZero() {
		return ""
	}
	return json.Number(strconv.FormatInt(alert.Timestamp.Unix(), 10))
}
