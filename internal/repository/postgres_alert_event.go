package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/therealityreport/socializer-backend/internal/domain"
)

type postgresAlertEventRepository struct {
	conn Connection
}

func NewPostgresAlertEvent(conn Connection) domain.AlertEventRepository {
	return &postgresAlertEventRepository{conn: conn}
}

const alertEventColumns = `id, triggered_at, rule_id, thread_id, cast_member_id, payload, delivered_channels`

func (p *postgresAlertEventRepository) fetch(ctx context.Context, query string, args ...interface{}) ([]domain.AlertEvent, error) {
	rows, err := p.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.AlertEvent
	for rows.Next() {
		var event domain.AlertEvent
		var castMemberID *int64
		var payload []byte
		var delivered []string

		if err := rows.Scan(
			&event.ID,
			&event.TriggeredAt,
			&event.RuleID,
			&event.ThreadID,
			&castMemberID,
			&payload,
			&delivered,
		); err != nil {
			return nil, err
		}

		if err := json.Unmarshal(payload, &event.Payload); err != nil {
			return nil, fmt.Errorf("unmarshaling event %d payload: %w", event.ID, err)
		}

		event.CastMemberID = idOrZero(castMemberID)
		event.DeliveredChannels = stringsToChannels(delivered)

		events = append(events, event)
	}
	return events, rows.Err()
}

func (p *postgresAlertEventRepository) GetByID(ctx context.Context, id int64) (domain.AlertEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM alert_events WHERE id = $1`, alertEventColumns)

	events, err := p.fetch(ctx, query, id)

	if err != nil {
		return domain.AlertEvent{}, err
	}
	if len(events) == 0 {
		return domain.AlertEvent{}, domain.ErrNotFound
	}
	return events[0], nil
}

func (p *postgresAlertEventRepository) GetLatestByRule(ctx context.Context, ruleID int64) (domain.AlertEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM alert_events
		WHERE rule_id = $1
		ORDER BY triggered_at DESC, id DESC
		LIMIT 1`, alertEventColumns)

	events, err := p.fetch(ctx, query, ruleID)

	if err != nil {
		return domain.AlertEvent{}, err
	}
	if len(events) == 0 {
		return domain.AlertEvent{}, domain.ErrNotFound
	}
	return events[0], nil
}

func (p *postgresAlertEventRepository) ListByThread(ctx context.Context, threadID int64) ([]domain.AlertEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM alert_events
		WHERE thread_id = $1
		ORDER BY triggered_at DESC, id DESC`, alertEventColumns)

	return p.fetch(ctx, query, threadID)
}

func (p *postgresAlertEventRepository) Create(ctx context.Context, event *domain.AlertEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO alert_events
			(rule_id, thread_id, cast_member_id, payload, delivered_channels)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, triggered_at`

	err = p.conn.QueryRow(
		ctx,
		query,
		event.RuleID,
		event.ThreadID,
		nullableID(event.CastMemberID),
		payload,
		channelsToStrings(event.DeliveredChannels),
	).Scan(&event.ID, &event.TriggeredAt)

	return conflictErr(err)
}

func (p *postgresAlertEventRepository) UpdateDeliveredChannels(ctx context.Context, id int64, channels []domain.AlertChannel) error {
	query := `UPDATE alert_events SET delivered_channels = $2 WHERE id = $1`

	res, err := p.conn.Exec(ctx, query, id, channelsToStrings(channels))
	if err != nil {
		return err
	}

	if res.RowsAffected() != 1 {
		return fmt.Errorf("weird behaviour, total rows affected: %d", res.RowsAffected())
	}
	return nil
}
