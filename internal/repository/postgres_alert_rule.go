package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/therealityreport/socializer-backend/internal/domain"
)

type postgresAlertRuleRepository struct {
	conn Connection
}

func NewPostgresAlertRule(conn Connection) domain.AlertRuleRepository {
	return &postgresAlertRuleRepository{conn: conn}
}

const alertRuleColumns = `id, created_at, name, thread_id, cast_member_id, rule_type, condition, is_active, channels`

func (p *postgresAlertRuleRepository) fetch(ctx context.Context, query string, args ...interface{}) ([]domain.AlertRule, error) {
	rows, err := p.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.AlertRule
	for rows.Next() {
		var rule domain.AlertRule
		var threadID, castMemberID *int64
		var condition []byte
		var channels []string

		if err := rows.Scan(
			&rule.ID,
			&rule.CreatedAt,
			&rule.Name,
			&threadID,
			&castMemberID,
			&rule.RuleType,
			&condition,
			&rule.IsActive,
			&channels,
		); err != nil {
			return nil, err
		}

		if err := json.Unmarshal(condition, &rule.Condition); err != nil {
			return nil, fmt.Errorf("unmarshaling rule %d condition: %w", rule.ID, err)
		}

		rule.ThreadID = idOrZero(threadID)
		rule.CastMemberID = idOrZero(castMemberID)
		rule.Channels = stringsToChannels(channels)

		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (p *postgresAlertRuleRepository) GetByID(ctx context.Context, id int64) (domain.AlertRule, error) {
	query := fmt.Sprintf(`SELECT %s FROM alert_rules WHERE id = $1`, alertRuleColumns)

	rules, err := p.fetch(ctx, query, id)

	if err != nil {
		return domain.AlertRule{}, err
	}
	if len(rules) == 0 {
		return domain.AlertRule{}, domain.ErrNotFound
	}
	return rules[0], nil
}

func (p *postgresAlertRuleRepository) List(ctx context.Context) ([]domain.AlertRule, error) {
	query := fmt.Sprintf(`SELECT %s FROM alert_rules ORDER BY id ASC`, alertRuleColumns)

	return p.fetch(ctx, query)
}

func (p *postgresAlertRuleRepository) ListActiveForThread(ctx context.Context, threadID int64) ([]domain.AlertRule, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM alert_rules
		WHERE is_active AND (thread_id IS NULL OR thread_id = $1)
		ORDER BY id ASC`, alertRuleColumns)

	return p.fetch(ctx, query, threadID)
}

func (p *postgresAlertRuleRepository) Create(ctx context.Context, rule *domain.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	condition, err := json.Marshal(rule.Condition)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO alert_rules
			(name, thread_id, cast_member_id, rule_type, condition, is_active, channels)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err = p.conn.QueryRow(
		ctx,
		query,
		rule.Name,
		nullableID(rule.ThreadID),
		nullableID(rule.CastMemberID),
		rule.RuleType,
		condition,
		rule.IsActive,
		channelsToStrings(rule.Channels),
	).Scan(&rule.ID, &rule.CreatedAt)

	return conflictErr(err)
}

func (p *postgresAlertRuleRepository) Update(ctx context.Context, rule *domain.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	condition, err := json.Marshal(rule.Condition)
	if err != nil {
		return err
	}

	query := `
		UPDATE alert_rules
		SET name = $2,
			thread_id = $3,
			cast_member_id = $4,
			rule_type = $5,
			condition = $6,
			is_active = $7,
			channels = $8
		WHERE id = $1`

	res, err := p.conn.Exec(
		ctx,
		query,
		rule.ID,
		rule.Name,
		nullableID(rule.ThreadID),
		nullableID(rule.CastMemberID),
		rule.RuleType,
		condition,
		rule.IsActive,
		channelsToStrings(rule.Channels),
	)
	if err != nil {
		return err
	}

	if res.RowsAffected() != 1 {
		return fmt.Errorf("weird behaviour, total rows affected: %d", res.RowsAffected())
	}
	return nil
}

func (p *postgresAlertRuleRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM alert_rules WHERE id = $1`

	res, err := p.conn.Exec(ctx, query, id)
	if err != nil {
		return err
	}

	if res.RowsAffected() != 1 {
		return fmt.Errorf("weird behaviour, total rows affected: %d", res.RowsAffected())
	}
	return nil
}
