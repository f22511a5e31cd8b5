package alerting

import (
	"context"
	"errors"
	"fmt"

	"github.com/DataDog/datadog-go/statsd"
	"go.uber.org/zap"

	"github.com/therealityreport/socializer-backend/internal/domain"
)

type snapshotKey struct {
	castMemberID int64
	window       domain.TimeWindow
}

// Evaluator decides which alert rules fire for a thread's current aggregates.
type Evaluator struct {
	logger *zap.Logger
	statsd statsd.ClientInterface

	ruleRepo      domain.AlertRuleRepository
	eventRepo     domain.AlertEventRepository
	aggregateRepo domain.AggregateRepository
}

func NewEvaluator(
	logger *zap.Logger,
	statsd statsd.ClientInterface,
	ruleRepo domain.AlertRuleRepository,
	eventRepo domain.AlertEventRepository,
	aggregateRepo domain.AggregateRepository,
) *Evaluator {
	return &Evaluator{
		logger:        logger,
		statsd:        statsd,
		ruleRepo:      ruleRepo,
		eventRepo:     eventRepo,
		aggregateRepo: aggregateRepo,
	}
}

// EvaluateThread checks every active rule scoped to the thread, plus the
// global ones, against the thread's aggregate snapshots and returns the
// events it created. A rule that cannot be evaluated is logged and skipped;
// it never aborts the rest.
func (e *Evaluator) EvaluateThread(ctx context.Context, threadID int64) ([]domain.AlertEvent, error) {
	rules, err := e.ruleRepo.ListActiveForThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}

	aggregates, err := e.aggregateRepo.ListByThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	snapshots := make(map[snapshotKey]domain.Aggregate, len(aggregates))
	for _, aggregate := range aggregates {
		snapshots[snapshotKey{aggregate.CastMemberID, aggregate.TimeWindow}] = aggregate
	}

	var events []domain.AlertEvent
	for i := range rules {
		event, triggered, err := e.evaluateRule(ctx, &rules[i], threadID, snapshots)
		if err != nil {
			e.logger.Error("alert rule evaluation failed",
				zap.Error(err),
				zap.Int64("alert_rule#id", rules[i].ID),
				zap.Int64("thread#id", threadID))
			e.count("error")
			continue
		}
		if !triggered {
			continue
		}

		events = append(events, event)
	}

	return events, nil
}

func (e *Evaluator) evaluateRule(ctx context.Context, rule *domain.AlertRule, threadID int64, snapshots map[snapshotKey]domain.Aggregate) (domain.AlertEvent, bool, error) {
	var event domain.AlertEvent

	if rule.RuleType != domain.RuleTypeSentimentDrop {
		return event, false, fmt.Errorf("unknown rule type %q", rule.RuleType)
	}

	castMemberID := rule.TargetCastMember()
	if castMemberID == 0 {
		return event, false, errors.New("rule names no cast member")
	}

	condition := rule.Condition
	metric := condition.EffectiveMetric()

	snapshot, ok := snapshots[snapshotKey{castMemberID, condition.Window}]
	if !ok {
		e.count("no_data")
		return event, false, nil
	}
	value := metricValue(snapshot, metric)

	payload := domain.EventPayload{
		RuleType:     rule.RuleType,
		Metric:       metric,
		Window:       condition.Window,
		CastMemberID: castMemberID,
		Threshold:    condition.Threshold,
		Value:        value,
	}

	compared := value
	if condition.BaselineWindow != "" {
		baseline, ok := snapshots[snapshotKey{castMemberID, condition.BaselineWindow}]
		if !ok {
			e.count("no_data")
			return event, false, nil
		}

		baselineValue := metricValue(baseline, metric)
		delta := value - baselineValue
		payload.BaselineWindow = condition.BaselineWindow
		payload.BaselineValue = &baselineValue
		payload.Delta = &delta
		compared = delta
	}

	if !condition.EffectiveComparison().Matches(compared, condition.Threshold) {
		e.count("pass")
		return event, false, nil
	}

	latest, err := e.eventRepo.GetLatestByRule(ctx, rule.ID)
	switch {
	case err == nil:
		if latest.Payload.SuppressionKey() == payload.SuppressionKey() {
			e.count("suppressed")
			return event, false, nil
		}
	case !errors.Is(err, domain.ErrNotFound):
		return event, false, err
	}

	event = domain.AlertEvent{
		RuleID:       rule.ID,
		ThreadID:     threadID,
		CastMemberID: castMemberID,
		Payload:      payload,
	}
	if err := e.eventRepo.Create(ctx, &event); err != nil {
		return domain.AlertEvent{}, false, err
	}

	e.count("triggered")
	return event, true, nil
}

func (e *Evaluator) count(outcome string) {
	_ = e.statsd.Incr("socializer.alerts.evaluation", []string{"outcome:" + outcome}, 1)
}

func metricValue(aggregate domain.Aggregate, metric string) float64 {
	if metric == domain.MetricMentionCount {
		return float64(aggregate.MentionCount)
	}
	return aggregate.NetSentiment
}
