package api

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/therealityreport/socializer-backend/internal/domain"
)

type alertRuleItem struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Name         string                `json:"name"`
	ThreadID     int64                 `json:"thread_id,omitempty"`
	CastMemberID int64                 `json:"cast_member_id,omitempty"`
	RuleType     string                `json:"rule_type"`
	Condition    domain.RuleCondition  `json:"condition"`
	IsActive     bool                  `json:"is_active"`
	Channels     []domain.AlertChannel `json:"channels"`
}

func newAlertRuleItem(rule domain.AlertRule) alertRuleItem {
	channels := rule.Channels
	if channels == nil {
		channels = []domain.AlertChannel{}
	}

	return alertRuleItem{
		ID:           rule.ID,
		CreatedAt:    rule.CreatedAt,
		Name:         rule.Name,
		ThreadID:     rule.ThreadID,
		CastMemberID: rule.CastMemberID,
		RuleType:     rule.RuleType,
		Condition:    rule.Condition,
		IsActive:     rule.IsActive,
		Channels:     channels,
	}
}

type createAlertRuleRequest struct {
	Name         string                `json:"name"`
	ThreadID     int64                 `json:"thread_id"`
	CastMemberID int64                 `json:"cast_member_id"`
	RuleType     string                `json:"rule_type"`
	Condition    domain.RuleCondition  `json:"condition"`
	IsActive     *bool                 `json:"is_active"`
	Channels     []domain.AlertChannel `json:"channels"`
}

func (a *api) createAlertRuleHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var carr createAlertRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&carr); err != nil {
		a.errorResponse(w, r, 400, err.Error())
		return
	}

	rule := domain.AlertRule{
		Name:         carr.Name,
		ThreadID:     carr.ThreadID,
		CastMemberID: carr.CastMemberID,
		RuleType:     carr.RuleType,
		Condition:    carr.Condition,
		IsActive:     true,
		Channels:     carr.Channels,
	}
	if rule.RuleType == "" {
		rule.RuleType = domain.RuleTypeSentimentDrop
	}
	if carr.IsActive != nil {
		rule.IsActive = *carr.IsActive
	}

	if err := rule.Validate(); err != nil {
		a.errorResponse(w, r, 422, err.Error())
		return
	}

	if rule.ThreadID != 0 {
		if _, err := a.threadRepo.GetByID(ctx, rule.ThreadID); err != nil {
			a.errorResponse(w, r, 422, "unknown thread")
			return
		}
	}

	if err := a.ruleRepo.Create(ctx, &rule); err != nil {
		a.repositoryError(w, r, err)
		return
	}

	a.logger.Info("created alert rule",
		zap.Int64("rule#id", rule.ID),
		zap.String("rule#name", rule.Name),
		zap.String("auth#subject", requestSubject(ctx)),
	)

	a.respondJSON(w, http.StatusCreated, newAlertRuleItem(rule))
}

func (a *api) listAlertRulesHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rules, err := a.ruleRepo.List(ctx)
	if err != nil {
		a.errorResponse(w, r, 500, err.Error())
		return
	}

	items := []alertRuleItem{}
	for _, rule := range rules {
		items = append(items, newAlertRuleItem(rule))
	}

	a.respondJSON(w, http.StatusOK, items)
}

func (a *api) getAlertRuleHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r)
	if err != nil {
		a.errorResponse(w, r, 422, err.Error())
		return
	}

	rule, err := a.ruleRepo.GetByID(ctx, id)
	if err != nil {
		a.repositoryError(w, r, err)
		return
	}

	a.respondJSON(w, http.StatusOK, newAlertRuleItem(rule))
}

type updateAlertRuleRequest struct {
	Name         *string                `json:"name"`
	ThreadID     *int64                 `json:"thread_id"`
	CastMemberID *int64                 `json:"cast_member_id"`
	Condition    *domain.RuleCondition  `json:"condition"`
	IsActive     *bool                  `json:"is_active"`
	Channels     *[]domain.AlertChannel `json:"channels"`
}

func (a *api) updateAlertRuleHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r)
	if err != nil {
		a.errorResponse(w, r, 422, err.Error())
		return
	}

	var uarr updateAlertRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&uarr); err != nil {
		a.errorResponse(w, r, 400, err.Error())
		return
	}

	rule, err := a.ruleRepo.GetByID(ctx, id)
	if err != nil {
		a.repositoryError(w, r, err)
		return
	}

	if uarr.Name != nil {
		rule.Name = *uarr.Name
	}
	if uarr.ThreadID != nil {
		rule.ThreadID = *uarr.ThreadID
	}
	if uarr.CastMemberID != nil {
		rule.CastMemberID = *uarr.CastMemberID
	}
	if uarr.Condition != nil {
		rule.Condition = *uarr.Condition
	}
	if uarr.IsActive != nil {
		rule.IsActive = *uarr.IsActive
	}
	if uarr.Channels != nil {
		rule.Channels = *uarr.Channels
	}

	if err := rule.Validate(); err != nil {
		a.errorResponse(w, r, 422, err.Error())
		return
	}

	if err := a.ruleRepo.Update(ctx, &rule); err != nil {
		a.errorResponse(w, r, 500, err.Error())
		return
	}

	a.respondJSON(w, http.StatusOK, newAlertRuleItem(rule))
}

func (a *api) deleteAlertRuleHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r)
	if err != nil {
		a.errorResponse(w, r, 422, err.Error())
		return
	}

	rule, err := a.ruleRepo.GetByID(ctx, id)
	if err != nil {
		a.repositoryError(w, r, err)
		return
	}

	if err := a.ruleRepo.Delete(ctx, rule.ID); err != nil {
		a.errorResponse(w, r, 500, err.Error())
		return
	}

	a.logger.Info("deleted alert rule",
		zap.Int64("rule#id", rule.ID),
		zap.String("auth#subject", requestSubject(ctx)),
	)

	w.WriteHeader(http.StatusNoContent)
}

type alertEventItem struct {
	ID          int64     `json:"id"`
	TriggeredAt time.Time `json:"triggered_at"`

	RuleID            int64                 `json:"rule_id"`
	ThreadID          int64                 `json:"thread_id"`
	CastMemberID      int64                 `json:"cast_member_id,omitempty"`
	Payload           domain.EventPayload   `json:"payload"`
	DeliveredChannels []domain.AlertChannel `json:"delivered_channels,omitempty"`
}

func (a *api) listAlertEventsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r)
	if err != nil {
		a.errorResponse(w, r, 422, err.Error())
		return
	}

	thread, err := a.threadRepo.GetByID(ctx, id)
	if err != nil {
		a.repositoryError(w, r, err)
		return
	}

	events, err := a.eventRepo.ListByThread(ctx, thread.ID)
	if err != nil {
		a.errorResponse(w, r, 500, err.Error())
		return
	}

	items := []alertEventItem{}
	for _, event := range events {
		items = append(items, alertEventItem{
			ID:                event.ID,
			TriggeredAt:       event.TriggeredAt,
			RuleID:            event.RuleID,
			ThreadID:          event.ThreadID,
			CastMemberID:      event.CastMemberID,
			Payload:           event.Payload,
			DeliveredChannels: event.DeliveredChannels,
		})
	}

	a.respondJSON(w, http.StatusOK, items)
}
