package api

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/therealityreport/socializer-backend/internal/domain"
)

type castMemberItem struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Slug        string   `json:"slug"`
	FullName    string   `json:"full_name"`
	DisplayName string   `json:"display_name,omitempty"`
	Show        string   `json:"show"`
	Aliases     []string `json:"aliases"`
	IsActive    bool     `json:"is_active"`
}

func newCastMemberItem(cm domain.CastMember) castMemberItem {
	aliases := cm.Aliases
	if aliases == nil {
		aliases = []string{}
	}

	return castMemberItem{
		ID:          cm.ID,
		CreatedAt:   cm.CreatedAt,
		Slug:        cm.Slug,
		FullName:    cm.FullName,
		DisplayName: cm.DisplayName,
		Show:        cm.Show,
		Aliases:     aliases,
		IsActive:    cm.IsActive,
	}
}

type createCastMemberRequest struct {
	Slug        string   `json:"slug"`
	FullName    string   `json:"full_name"`
	DisplayName string   `json:"display_name"`
	Show        string   `json:"show"`
	Aliases     []string `json:"aliases"`
	IsActive    *bool    `json:"is_active"`
}

func (a *api) createCastMemberHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var ccr createCastMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&ccr); err != nil {
		a.errorResponse(w, r, 400, err.Error())
		return
	}

	member := domain.CastMember{
		Slug:        ccr.Slug,
		FullName:    ccr.FullName,
		DisplayName: ccr.DisplayName,
		Show:        ccr.Show,
		Aliases:     ccr.Aliases,
		IsActive:    true,
	}
	if ccr.IsActive != nil {
		member.IsActive = *ccr.IsActive
	}

	if err := member.Validate(); err != nil {
		a.errorResponse(w, r, 422, err.Error())
		return
	}

	if err := a.castRepo.Create(ctx, &member); err != nil {
		a.repositoryError(w, r, err)
		return
	}

	a.logger.Info("created cast member",
		zap.Int64("cast#id", member.ID),
		zap.String("cast#slug", member.Slug),
		zap.String("auth#subject", requestSubject(ctx)),
	)

	a.respondJSON(w, http.StatusCreated, newCastMemberItem(member))
}

func (a *api) listCastMembersHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		members []domain.CastMember
		err     error
	)
	if r.URL.Query().Get("active") == "true" {
		members, err = a.castRepo.ListActive(ctx)
	} else {
		members, err = a.castRepo.List(ctx)
	}
	if err != nil {
		a.errorResponse(w, r, 500, err.Error())
		return
	}

	items := []castMemberItem{}
	for _, member := range members {
		items = append(items, newCastMemberItem(member))
	}

	a.respondJSON(w, http.StatusOK, items)
}

func (a *api) getCastMemberHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r)
	if err != nil {
		a.errorResponse(w, r, 422, err.Error())
		return
	}

	member, err := a.castRepo.GetByID(ctx, id)
	if err != nil {
		a.repositoryError(w, r, err)
		return
	}

	a.respondJSON(w, http.StatusOK, newCastMemberItem(member))
}

type updateCastMemberRequest struct {
	Slug        *string   `json:"slug"`
	FullName    *string   `json:"full_name"`
	DisplayName *string   `json:"display_name"`
	Show        *string   `json:"show"`
	Aliases     *[]string `json:"aliases"`
	IsActive    *bool     `json:"is_active"`
}

func (a *api) updateCastMemberHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r)
	if err != nil {
		a.errorResponse(w, r, 422, err.Error())
		return
	}

	var ucr updateCastMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&ucr); err != nil {
		a.errorResponse(w, r, 400, err.Error())
		return
	}

	member, err := a.castRepo.GetByID(ctx, id)
	if err != nil {
		a.repositoryError(w, r, err)
		return
	}

	if ucr.Slug != nil {
		member.Slug = *ucr.Slug
	}
	if ucr.FullName != nil {
		member.FullName = *ucr.FullName
	}
	if ucr.DisplayName != nil {
		member.DisplayName = *ucr.DisplayName
	}
	if ucr.Show != nil {
		member.Show = *ucr.Show
	}
	if ucr.Aliases != nil {
		member.Aliases = *ucr.Aliases
	}
	if ucr.IsActive != nil {
		member.IsActive = *ucr.IsActive
	}

	if err := member.Validate(); err != nil {
		a.errorResponse(w, r, 422, err.Error())
		return
	}

	if err := a.castRepo.Update(ctx, &member); err != nil {
		a.errorResponse(w, r, 500, err.Error())
		return
	}

	a.respondJSON(w, http.StatusOK, newCastMemberItem(member))
}

func (a *api) deleteCastMemberHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r)
	if err != nil {
		a.errorResponse(w, r, 422, err.Error())
		return
	}

	member, err := a.castRepo.GetByID(ctx, id)
	if err != nil {
		a.repositoryError(w, r, err)
		return
	}

	if err := a.castRepo.Delete(ctx, member.ID); err != nil {
		a.errorResponse(w, r, 500, err.Error())
		return
	}

	a.logger.Info("deleted cast member",
		zap.Int64("cast#id", member.ID),
		zap.String("cast#slug", member.Slug),
		zap.String("auth#subject", requestSubject(ctx)),
	)

	w.WriteHeader(http.StatusNoContent)
}
