package alerting

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/dustin/go-humanize"
	"github.com/slack-go/slack"
	smtp2go "github.com/smtp2go-oss/smtp2go-go"
	"go.uber.org/zap"

	"github.com/therealityreport/socializer-backend/internal/config"
	"github.com/therealityreport/socializer-backend/internal/domain"
)

type field struct {
	label string
	value string
}

// Delivery fans a triggered event out to its rule's channels. Failures are
// logged per channel; the event row only ever records channels that actually
// went out.
type Delivery struct {
	logger   *zap.Logger
	statsd   statsd.ClientInterface
	settings config.AlertSettings

	threadRepo domain.ThreadRepository
	castRepo   domain.CastMemberRepository
	eventRepo  domain.AlertEventRepository

	httpClient *http.Client
	sendMail   func(*smtp2go.Email) error
}

type DeliveryOption func(*Delivery)

// WithSlackHTTPClient overrides the webhook transport.
func WithSlackHTTPClient(client *http.Client) DeliveryOption {
	return func(d *Delivery) {
		d.httpClient = client
	}
}

// WithMailSender overrides the outbound mail call.
func WithMailSender(fn func(*smtp2go.Email) error) DeliveryOption {
	return func(d *Delivery) {
		d.sendMail = fn
	}
}

func NewDelivery(
	logger *zap.Logger,
	statsd statsd.ClientInterface,
	settings config.AlertSettings,
	threadRepo domain.ThreadRepository,
	castRepo domain.CastMemberRepository,
	eventRepo domain.AlertEventRepository,
	opts ...DeliveryOption,
) *Delivery {
	d := &Delivery{
		logger:     logger,
		statsd:     statsd,
		settings:   settings,
		threadRepo: threadRepo,
		castRepo:   castRepo,
		eventRepo:  eventRepo,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		sendMail: func(email *smtp2go.Email) error {
			_, err := smtp2go.Send(email)
			return err
		},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Deliver sends the event over every channel the rule names and persists the
// union of channels that succeeded.
func (d *Delivery) Deliver(ctx context.Context, event domain.AlertEvent, rule domain.AlertRule) ([]domain.AlertChannel, error) {
	castName := fmt.Sprintf("cast member #%d", event.CastMemberID)
	if member, err := d.castRepo.GetByID(ctx, event.CastMemberID); err == nil {
		castName = member.CanonicalName()
	}

	var threadTitle string
	if thread, err := d.threadRepo.GetByID(ctx, event.ThreadID); err == nil {
		threadTitle = thread.Title
	}

	subject := Subject(castName, event.Payload.Metric, threadTitle)
	fields := payloadFields(event.Payload, castName)

	var delivered []domain.AlertChannel
	for _, channel := range rule.Channels {
		var err error
		switch channel {
		case domain.ChannelSlack:
			err = d.sendSlack(ctx, subject, fields)
		case domain.ChannelEmail:
			err = d.sendEmail(rule, subject, fields)
		default:
			d.logger.Warn("unknown alert channel",
				zap.String("alert#channel", string(channel)),
				zap.Int64("alert_rule#id", rule.ID))
			continue
		}

		if err != nil {
			d.logger.Error("alert delivery failed",
				zap.Error(err),
				zap.String("alert#channel", string(channel)),
				zap.Int64("alert_event#id", event.ID))
			d.count(channel, "error")
			continue
		}

		d.count(channel, "ok")
		delivered = append(delivered, channel)
	}

	if len(delivered) == 0 {
		return nil, nil
	}

	merged := mergeChannels(event.DeliveredChannels, delivered)
	if err := d.eventRepo.UpdateDeliveredChannels(ctx, event.ID, merged); err != nil {
		return delivered, err
	}

	return delivered, nil
}

func (d *Delivery) count(channel domain.AlertChannel, outcome string) {
	_ = d.statsd.Incr("socializer.alerts.delivery",
		[]string{"channel:" + string(channel), "outcome:" + outcome}, 1)
}

func (d *Delivery) sendSlack(ctx context.Context, subject string, fields []field) error {
	if d.settings.SlackWebhookURL == "" {
		return errors.New("slack webhook not configured")
	}

	attachmentFields := make([]slack.AttachmentField, len(fields))
	for i, f := range fields {
		attachmentFields[i] = slack.AttachmentField{Title: f.label, Value: f.value, Short: true}
	}

	msg := &slack.WebhookMessage{
		Text: subject,
		Attachments: []slack.Attachment{{
			Color:  "danger",
			Fields: attachmentFields,
		}},
	}

	return slack.PostWebhookCustomHTTPContext(ctx, d.settings.SlackWebhookURL, d.httpClient, msg)
}

func (d *Delivery) sendEmail(rule domain.AlertRule, subject string, fields []field) error {
	recipients := []string(rule.Condition.Emails)
	if len(recipients) == 0 && d.settings.FromEmail != "" {
		recipients = []string{d.settings.FromEmail}
	}
	if len(recipients) == 0 {
		return errors.New("no email recipients configured")
	}

	from := d.settings.FromEmail
	if d.settings.FromName != "" {
		from = fmt.Sprintf("%s <%s>", d.settings.FromName, d.settings.FromEmail)
	}

	var text strings.Builder
	var markup strings.Builder
	markup.WriteString("<h3>" + html.EscapeString(subject) + "</h3>\n<ul>\n")
	for _, f := range fields {
		fmt.Fprintf(&text, "%s: %s\n", f.label, f.value)
		fmt.Fprintf(&markup, "<li><strong>%s:</strong> %s</li>\n",
			html.EscapeString(f.label), html.EscapeString(f.value))
	}
	markup.WriteString("</ul>\n")

	return d.sendMail(&smtp2go.Email{
		From:     from,
		To:       recipients,
		Subject:  subject,
		TextBody: text.String(),
		HtmlBody: markup.String(),
	})
}

// Subject renders the alert headline used for both channels.
func Subject(castName, metric, threadTitle string) string {
	return fmt.Sprintf("Alert: %s %s change on '%s'", castName, metricLabel(metric), threadTitle)
}

func metricLabel(metric string) string {
	if metric == domain.MetricMentionCount {
		return "mention count"
	}
	return "net sentiment"
}

func formatMetric(metric string, value float64) string {
	if metric == domain.MetricMentionCount {
		return humanize.Comma(int64(value))
	}
	return fmt.Sprintf("%.3f", value)
}

func formatDelta(metric string, value float64) string {
	if metric == domain.MetricMentionCount {
		return fmt.Sprintf("%+d", int64(value))
	}
	return fmt.Sprintf("%+.3f", value)
}

func payloadFields(p domain.EventPayload, castName string) []field {
	fields := []field{
		{"Cast member", castName},
		{"Window", string(p.Window)},
		{"Metric", metricLabel(p.Metric)},
		{"Value", formatMetric(p.Metric, p.Value)},
		{"Threshold", formatMetric(p.Metric, p.Threshold)},
	}

	if p.BaselineWindow != "" {
		fields = append(fields, field{"Baseline window", string(p.BaselineWindow)})
	}
	if p.BaselineValue != nil {
		fields = append(fields, field{"Baseline value", formatMetric(p.Metric, *p.BaselineValue)})
	}
	if p.Delta != nil {
		fields = append(fields, field{"Delta", formatDelta(p.Metric, *p.Delta)})
	}

	return fields
}

func mergeChannels(existing, added []domain.AlertChannel) []domain.AlertChannel {
	seen := map[domain.AlertChannel]bool{}
	for _, ch := range existing {
		seen[ch] = true
	}
	for _, ch := range added {
		seen[ch] = true
	}

	merged := make([]domain.AlertChannel, 0, len(seen))
	for ch := range seen {
		merged = append(merged, ch)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i] < merged[j] })

	return merged
}
