package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/therealityreport/socializer-backend/internal/linker"
	"github.com/therealityreport/socializer-backend/internal/sentiment"
)

type analyzeTarget struct {
	CastMemberID int64    `json:"cast_member_id"`
	Name         string   `json:"name"`
	Aliases      []string `json:"aliases"`
}

type analyzeRequest struct {
	Text    string          `json:"text"`
	Targets []analyzeTarget `json:"targets"`
}

type modelScoreItem struct {
	Model string  `json:"model"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type analyzeResultItem struct {
	CastMemberID int64  `json:"cast_member_id,omitempty"`
	Name         string `json:"name"`
	Context      string `json:"context"`

	Label       string  `json:"label"`
	Score       float64 `json:"score"`
	SourceModel string  `json:"source_model"`
	Reasoning   string  `json:"reasoning,omitempty"`

	Sarcasm  sentiment.Detection `json:"sarcasm"`
	Toxicity sentiment.Detection `json:"toxicity"`

	Models []modelScoreItem `json:"models"`
}

// analyzeSentimentHandler scores a pasted snippet against explicit targets,
// or against the whole active roster when none are given. Nothing is stored.
func (a *api) analyzeSentimentHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var ar analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&ar); err != nil {
		a.errorResponse(w, r, 400, err.Error())
		return
	}

	if strings.TrimSpace(ar.Text) == "" {
		a.errorResponse(w, r, 422, "text is required")
		return
	}

	var targets []sentiment.FreeformTarget
	if len(ar.Targets) > 0 {
		for _, target := range ar.Targets {
			if target.Name == "" && len(target.Aliases) == 0 {
				a.errorResponse(w, r, 422, "target needs a name or aliases")
				return
			}

			// The scorer matches on aliases, so the name has to be one.
			aliases := target.Aliases
			if target.Name != "" {
				aliases = append([]string{target.Name}, aliases...)
			}
			targets = append(targets, sentiment.FreeformTarget{
				CastMemberID: target.CastMemberID,
				Name:         target.Name,
				Aliases:      aliases,
			})
		}
	} else {
		members, err := a.castRepo.ListActive(ctx)
		if err != nil {
			a.errorResponse(w, r, 500, err.Error())
			return
		}

		catalog := linker.NewCatalog(members, nil)
		for _, member := range members {
			targets = append(targets, sentiment.FreeformTarget{
				CastMemberID: member.ID,
				Name:         member.CanonicalName(),
				Aliases:      catalog.AliasesFor(member.ID),
			})
		}
	}

	results := a.pipeline.AnalyzeFreeform(ctx, ar.Text, targets)

	items := []analyzeResultItem{}
	for _, result := range results {
		items = append(items, newAnalyzeResultItem(result))
	}

	a.respondJSON(w, http.StatusOK, items)
}

func newAnalyzeResultItem(result sentiment.FreeformResult) analyzeResultItem {
	item := analyzeResultItem{
		CastMemberID: result.CastMemberID,
		Name:         result.Name,
		Context:      result.Context,
		Label:        string(result.Result.Final.Label),
		Score:        result.Result.Final.Score,
		SourceModel:  result.Result.Final.SourceModel,
		Reasoning:    result.Result.Final.Reasoning,
		Sarcasm:      result.Result.Final.Sarcasm,
		Toxicity:     result.Result.Final.Toxicity,
		Models:       []modelScoreItem{},
	}

	for _, model := range result.Result.Models {
		item.Models = append(item.Models, modelScoreItem{
			Model: model.Model,
			Label: string(model.Label),
			Score: model.Score,
		})
	}

	return item
}
