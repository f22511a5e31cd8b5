package alerting_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/jackc/pgx/v5"
	smtp2go "github.com/smtp2go-oss/smtp2go-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/therealityreport/socializer-backend/internal/alerting"
	"github.com/therealityreport/socializer-backend/internal/config"
	"github.com/therealityreport/socializer-backend/internal/domain"
	"github.com/therealityreport/socializer-backend/internal/repository"
)

// RoundTripFunc .
type RoundTripFunc func(req *http.Request) *http.Response

// RoundTrip .
func (f RoundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

func textResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

func testAlertSettings() config.AlertSettings {
	return config.AlertSettings{
		SlackWebhookURL: "https://hooks.slack.test/services/T0/B0/x",
		FromEmail:       "alerts@therealityreport.net",
		FromName:        "Socializer",
	}
}

func deltaPayload(castMemberID int64) domain.EventPayload {
	baseline := 0.2
	delta := -0.6

	return domain.EventPayload{
		RuleType:       domain.RuleTypeSentimentDrop,
		Metric:         domain.MetricNetSentiment,
		Window:         domain.WindowLive,
		CastMemberID:   castMemberID,
		Threshold:      -0.4,
		Value:          -0.4,
		BaselineWindow: domain.WindowOverall,
		BaselineValue:  &baseline,
		Delta:          &delta,
	}
}

func seedEvent(t *testing.T, tx pgx.Tx, ruleID, threadID, castMemberID int64, channels ...domain.AlertChannel) domain.AlertEvent {
	t.Helper()

	event := domain.AlertEvent{
		RuleID:            ruleID,
		ThreadID:          threadID,
		CastMemberID:      castMemberID,
		Payload:           deltaPayload(castMemberID),
		DeliveredChannels: channels,
	}
	require.NoError(t, repository.NewPostgresAlertEvent(tx).Create(context.Background(), &event))

	return event
}

func newDelivery(tx pgx.Tx, opts ...alerting.DeliveryOption) *alerting.Delivery {
	return alerting.NewDelivery(
		zap.NewNop(),
		&statsd.NoOpClient{},
		testAlertSettings(),
		repository.NewPostgresThread(tx),
		repository.NewPostgresCastMember(tx),
		repository.NewPostgresAlertEvent(tx),
		opts...,
	)
}

func TestDeliverSlack(t *testing.T) {
	t.Parallel()

	tx := testTx(t)
	ctx := context.Background()

	thread := seedThread(t, tx, "adel_slck")
	member := seedCastMember(t, tx, "lisa-barlow-slack")
	rule := seedRule(t, tx, &domain.AlertRule{
		ThreadID:     thread.ID,
		CastMemberID: member.ID,
		Condition:    domain.RuleCondition{Window: domain.WindowLive, Threshold: -0.4},
		Channels:     []domain.AlertChannel{domain.ChannelSlack},
	})
	event := seedEvent(t, tx, rule.ID, thread.ID, member.ID)

	var posted string
	client := &http.Client{Transport: RoundTripFunc(func(req *http.Request) *http.Response {
		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		posted = string(body)
		return textResponse(http.StatusOK, "ok")
	})}

	delivery := newDelivery(tx, alerting.WithSlackHTTPClient(client))

	delivered, err := delivery.Deliver(ctx, event, *rule)
	require.NoError(t, err)
	assert.Equal(t, []domain.AlertChannel{domain.ChannelSlack}, delivered)

	assert.Contains(t, posted, "Alert: Lisa net sentiment change on 'Episode Discussion: S14E02'")
	assert.Contains(t, posted, "Baseline value")
	assert.Contains(t, posted, "0.200")
	assert.Contains(t, posted, "-0.600")

	stored, err := repository.NewPostgresAlertEvent(tx).GetByID(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.AlertChannel{domain.ChannelSlack}, stored.DeliveredChannels)
}

func TestDeliverEmailFallsBackToFromAddress(t *testing.T) {
	t.Parallel()

	tx := testTx(t)
	ctx := context.Background()

	thread := seedThread(t, tx, "adel_mail")
	member := seedCastMember(t, tx, "lisa-barlow-mail")
	rule := seedRule(t, tx, &domain.AlertRule{
		ThreadID:     thread.ID,
		CastMemberID: member.ID,
		Condition:    domain.RuleCondition{Window: domain.WindowLive, Threshold: -0.4},
		Channels:     []domain.AlertChannel{domain.ChannelEmail},
	})
	event := seedEvent(t, tx, rule.ID, thread.ID, member.ID)

	var sent *smtp2go.Email
	delivery := newDelivery(tx, alerting.WithMailSender(func(email *smtp2go.Email) error {
		sent = email
		return nil
	}))

	delivered, err := delivery.Deliver(ctx, event, *rule)
	require.NoError(t, err)
	assert.Equal(t, []domain.AlertChannel{domain.ChannelEmail}, delivered)

	require.NotNil(t, sent)
	assert.Equal(t, "Socializer <alerts@therealityreport.net>", sent.From)
	assert.Equal(t, []string{"alerts@therealityreport.net"}, sent.To)
	assert.Equal(t, "Alert: Lisa net sentiment change on 'Episode Discussion: S14E02'", sent.Subject)
	assert.Contains(t, sent.TextBody, "Delta: -0.600")
	assert.Contains(t, sent.HtmlBody, "<strong>Delta:</strong>")
}

func TestDeliverEmailExplicitRecipients(t *testing.T) {
	t.Parallel()

	tx := testTx(t)
	ctx := context.Background()

	thread := seedThread(t, tx, "adel_rcpt")
	member := seedCastMember(t, tx, "lisa-barlow-rcpt")
	rule := seedRule(t, tx, &domain.AlertRule{
		ThreadID:     thread.ID,
		CastMemberID: member.ID,
		Condition: domain.RuleCondition{
			Window:    domain.WindowLive,
			Threshold: -0.4,
			Emails:    domain.EmailList{"producer@example.com", "social@example.com"},
		},
		Channels: []domain.AlertChannel{domain.ChannelEmail},
	})
	event := seedEvent(t, tx, rule.ID, thread.ID, member.ID)

	var sent *smtp2go.Email
	delivery := newDelivery(tx, alerting.WithMailSender(func(email *smtp2go.Email) error {
		sent = email
		return nil
	}))

	_, err := delivery.Deliver(ctx, event, *rule)
	require.NoError(t, err)

	require.NotNil(t, sent)
	assert.Equal(t, []string{"producer@example.com", "social@example.com"}, sent.To)
}

func TestDeliverPartialFailure(t *testing.T) {
	t.Parallel()

	tx := testTx(t)
	ctx := context.Background()

	thread := seedThread(t, tx, "adel_part")
	member := seedCastMember(t, tx, "lisa-barlow-part")
	rule := seedRule(t, tx, &domain.AlertRule{
		ThreadID:     thread.ID,
		CastMemberID: member.ID,
		Condition:    domain.RuleCondition{Window: domain.WindowLive, Threshold: -0.4},
		Channels:     []domain.AlertChannel{domain.ChannelSlack, domain.ChannelEmail},
	})
	event := seedEvent(t, tx, rule.ID, thread.ID, member.ID)

	// Slack is down; email still goes out and is the only channel recorded.
	client := &http.Client{Transport: RoundTripFunc(func(*http.Request) *http.Response {
		return textResponse(http.StatusInternalServerError, "no")
	})}

	delivery := newDelivery(tx,
		alerting.WithSlackHTTPClient(client),
		alerting.WithMailSender(func(*smtp2go.Email) error { return nil }),
	)

	delivered, err := delivery.Deliver(ctx, event, *rule)
	require.NoError(t, err)
	assert.Equal(t, []domain.AlertChannel{domain.ChannelEmail}, delivered)

	stored, err := repository.NewPostgresAlertEvent(tx).GetByID(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.AlertChannel{domain.ChannelEmail}, stored.DeliveredChannels)
}

func TestDeliverMergesExistingChannels(t *testing.T) {
	t.Parallel()

	tx := testTx(t)
	ctx := context.Background()

	thread := seedThread(t, tx, "adel_mrg")
	member := seedCastMember(t, tx, "lisa-barlow-mrg")
	rule := seedRule(t, tx, &domain.AlertRule{
		ThreadID:     thread.ID,
		CastMemberID: member.ID,
		Condition:    domain.RuleCondition{Window: domain.WindowLive, Threshold: -0.4},
		Channels:     []domain.AlertChannel{domain.ChannelSlack},
	})
	event := seedEvent(t, tx, rule.ID, thread.ID, member.ID, domain.ChannelEmail)

	client := &http.Client{Transport: RoundTripFunc(func(*http.Request) *http.Response {
		return textResponse(http.StatusOK, "ok")
	})}

	_, err := newDelivery(tx, alerting.WithSlackHTTPClient(client)).Deliver(ctx, event, *rule)
	require.NoError(t, err)

	stored, err := repository.NewPostgresAlertEvent(tx).GetByID(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.AlertChannel{domain.ChannelEmail, domain.ChannelSlack}, stored.DeliveredChannels)
}

func TestSubject(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"Alert: Kyle net sentiment change on 'Episode Discussion'",
		alerting.Subject("Kyle", domain.MetricNetSentiment, "Episode Discussion"))
	assert.Equal(t,
		"Alert: Kyle mention count change on 'Episode Discussion'",
		alerting.Subject("Kyle", domain.MetricMentionCount, "Episode Discussion"))
}
