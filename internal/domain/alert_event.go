package domain

import (
	"context"
	"fmt"
	"time"
)

// EventPayload echoes the inputs that made a rule fire. Baseline fields are
// only present for delta rules.
type EventPayload struct {
	RuleType       string     `json:"rule_type"`
	Metric         string     `json:"metric"`
	Window         TimeWindow `json:"window"`
	CastMemberID   int64      `json:"cast_member_id"`
	Threshold      float64    `json:"threshold"`
	Value          float64    `json:"value"`
	BaselineWindow TimeWindow `json:"baseline_window,omitempty"`
	BaselineValue  *float64   `json:"baseline_value,omitempty"`
	Delta          *float64   `json:"delta,omitempty"`
}

// SuppressionKey is the tuple compared against the rule's previous event to
// avoid re-firing on unchanged data.
func (p EventPayload) SuppressionKey() string {
	delta := "-"
	if p.Delta != nil {
		delta = fmt.Sprintf("%.6f", *p.Delta)
	}

	return fmt.Sprintf("%s|%s|%d|%.6f|%s", p.Window, p.Metric, p.CastMemberID, p.Value, delta)
}

type AlertEvent struct {
	ID          int64
	TriggeredAt time.Time

	RuleID            int64
	ThreadID          int64
	CastMemberID      int64
	Payload           EventPayload
	DeliveredChannels []AlertChannel
}

type AlertEventRepository interface {
	GetByID(ctx context.Context, id int64) (AlertEvent, error)
	GetLatestByRule(ctx context.Context, ruleID int64) (AlertEvent, error)
	ListByThread(ctx context.Context, threadID int64) ([]AlertEvent, error)

	Create(ctx context.Context, event *AlertEvent) error
	UpdateDeliveredChannels(ctx context.Context, id int64, channels []AlertChannel) error
}
