package domain

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type AlertChannel string

const (
	ChannelSlack AlertChannel = "slack"
	ChannelEmail AlertChannel = "email"
)

const RuleTypeSentimentDrop = "sentiment_drop"

const (
	MetricNetSentiment = "net_sentiment"
	MetricMentionCount = "mention_count"
)

type Comparison string

const (
	ComparisonLT  Comparison = "lt"
	ComparisonLTE Comparison = "lte"
	ComparisonGT  Comparison = "gt"
	ComparisonGTE Comparison = "gte"
)

// Matches applies the comparison with value on the left.
func (c Comparison) Matches(value, threshold float64) bool {
	switch c {
	case ComparisonLT:
		return value < threshold
	case ComparisonGT:
		return value > threshold
	case ComparisonGTE:
		return value >= threshold
	}

	return value <= threshold
}

// EmailList accepts either a JSON array of addresses or a single
// comma-separated string, which is how operators tend to paste them in.
type EmailList []string

func (el *EmailList) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*el = list
		return nil
	}

	var joined string
	if err := json.Unmarshal(b, &joined); err != nil {
		return err
	}

	*el = nil
	for _, addr := range strings.Split(joined, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			*el = append(*el, addr)
		}
	}

	return nil
}

// RuleCondition is the structured half of an alert rule, stored as JSON.
type RuleCondition struct {
	Metric         string     `json:"metric,omitempty"`
	Window         TimeWindow `json:"window"`
	Comparison     Comparison `json:"comparison,omitempty"`
	Threshold      float64    `json:"threshold"`
	BaselineWindow TimeWindow `json:"baseline_window,omitempty"`
	CastMemberID   int64      `json:"cast_member_id,omitempty"`
	Emails         EmailList  `json:"emails,omitempty"`
}

// EffectiveMetric defaults to net sentiment.
func (rc RuleCondition) EffectiveMetric() string {
	if rc.Metric == "" {
		return MetricNetSentiment
	}

	return rc.Metric
}

// EffectiveComparison defaults to lte, the natural reading of a drop rule.
func (rc RuleCondition) EffectiveComparison() Comparison {
	if rc.Comparison == "" {
		return ComparisonLTE
	}

	return rc.Comparison
}

// AlertRule scopes to one thread or, with ThreadID zero, to every thread.
type AlertRule struct {
	ID        int64
	CreatedAt time.Time

	Name         string
	ThreadID     int64
	CastMemberID int64
	RuleType     string
	Condition    RuleCondition
	IsActive     bool
	Channels     []AlertChannel
}

// Global reports whether the rule applies across threads.
func (r *AlertRule) Global() bool {
	return r.ThreadID == 0
}

// TargetCastMember resolves the cast the rule evaluates: the condition
// override wins over the rule-level assignment.
func (r *AlertRule) TargetCastMember() int64 {
	if r.Condition.CastMemberID != 0 {
		return r.Condition.CastMemberID
	}

	return r.CastMemberID
}

func validChannels(value interface{}) error {
	channels, _ := value.([]AlertChannel)
	for _, ch := range channels {
		if ch != ChannelSlack && ch != ChannelEmail {
			return validation.NewError("validation_channel", "channel must be slack or email")
		}
	}

	return nil
}

func (r *AlertRule) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 128)),
		validation.Field(&r.RuleType, validation.Required, validation.In(RuleTypeSentimentDrop)),
		validation.Field(&r.Channels, validation.Required, validation.By(validChannels)),
		validation.Field(&r.Condition, validation.By(func(interface{}) error {
			if r.Condition.Window == "" {
				return validation.NewError("validation_window", "condition window is required")
			}
			switch r.Condition.EffectiveMetric() {
			case MetricNetSentiment, MetricMentionCount:
			default:
				return validation.NewError("validation_metric", "unknown metric")
			}
			switch r.Condition.EffectiveComparison() {
			case ComparisonLT, ComparisonLTE, ComparisonGT, ComparisonGTE:
			default:
				return validation.NewError("validation_comparison", "unknown comparison")
			}
			return nil
		})),
	)
}

type AlertRuleRepository interface {
	GetByID(ctx context.Context, id int64) (AlertRule, error)
	List(ctx context.Context) ([]AlertRule, error)
	ListActiveForThread(ctx context.Context, threadID int64) ([]AlertRule, error)

	Create(ctx context.Context, rule *AlertRule) error
	Update(ctx context.Context, rule *AlertRule) error
	Delete(ctx context.Context, id int64) error
}
