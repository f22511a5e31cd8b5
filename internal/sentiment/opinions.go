package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/therealityreport/socializer-backend/internal/config"
	"github.com/therealityreport/socializer-backend/internal/domain"
)

// OpinionsClient calls the hosted opinion-mining service used as the gated
// fallback. It returns a document-level sentiment plus per-target attitudes
// pulled out of each sentence.
type OpinionsClient struct {
	url    string
	key    string
	client *http.Client
}

type OpinionsOption func(*OpinionsClient)

func WithOpinionsHTTPClient(client *http.Client) OpinionsOption {
	return func(oc *OpinionsClient) {
		oc.client = client
	}
}

func NewOpinionsClient(cfg config.SentimentSettings, opts ...OpinionsOption) *OpinionsClient {
	oc := &OpinionsClient{
		url:    cfg.FallbackURL,
		key:    cfg.FallbackKey,
		client: &http.Client{Timeout: 30 * time.Second},
	}

	for _, opt := range opts {
		opt(oc)
	}

	return oc
}

// OpinionTarget is one opinion the service attributed to a named target.
type OpinionTarget struct {
	Text       string
	Label      domain.SentimentLabel
	Confidence float64
}

// OpinionResult is the flattened provider response.
type OpinionResult struct {
	Label      domain.SentimentLabel
	Confidence float64
	Probs      Probs
	Targets    []OpinionTarget
}

// MatchTarget finds the first opinion target whose text overlaps one of the
// aliases, in either direction ("Kyle" matches target "kyle richards").
func (or *OpinionResult) MatchTarget(aliases []string) (OpinionTarget, bool) {
	for _, target := range or.Targets {
		targetText := strings.ToLower(strings.TrimSpace(target.Text))
		if targetText == "" {
			continue
		}
		for _, alias := range aliases {
			alias = strings.ToLower(strings.TrimSpace(alias))
			if alias == "" {
				continue
			}
			if strings.Contains(targetText, alias) || strings.Contains(alias, targetText) {
				return target, true
			}
		}
	}

	return OpinionTarget{}, false
}

type opinionsRequest struct {
	Text         string `json:"text"`
	OpinionsOnly bool   `json:"opinions_only,omitempty"`
}

type opinionsResponse struct {
	Document struct {
		Label  string `json:"label"`
		Scores Probs  `json:"scores"`
	} `json:"document"`
	Sentences []struct {
		Targets []struct {
			Text   string `json:"text"`
			Label  string `json:"label"`
			Scores Probs  `json:"scores"`
		} `json:"targets"`
	} `json:"sentences"`
}

// Analyze mines the document. One call covers both the document-level label
// and every target the provider spotted.
func (oc *OpinionsClient) Analyze(ctx context.Context, text string) (result *OpinionResult, err error) {
	ctx, span := otel.Tracer("sentiment").Start(ctx, "sentiment.opinions", trace.WithAttributes(
		attribute.Int("sentiment.text_len", len(text)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	body, err := json.Marshal(opinionsRequest{Text: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, oc.url+"/v1/opinions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if oc.key != "" {
		req.Header.Set("Authorization", "Bearer "+oc.key)
	}

	resp, err := oc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("opinion service rejected credentials: %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("opinion service returned %d", resp.StatusCode)
	}

	var or opinionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return nil, err
	}

	result = &OpinionResult{
		Label: domain.SentimentLabel(or.Document.Label),
		Probs: or.Document.Scores,
	}

	switch result.Label {
	case domain.SentimentPositive:
		result.Confidence = or.Document.Scores.Positive
	case domain.SentimentNegative:
		result.Confidence = or.Document.Scores.Negative
	default:
		result.Label = domain.SentimentNeutral
		result.Confidence = or.Document.Scores.Neutral
	}

	for _, sentence := range or.Sentences {
		for _, target := range sentence.Targets {
			label := domain.SentimentLabel(target.Label)
			confidence := target.Scores.Neutral
			switch label {
			case domain.SentimentPositive:
				confidence = target.Scores.Positive
			case domain.SentimentNegative:
				confidence = target.Scores.Negative
			default:
				label = domain.SentimentNeutral
			}

			result.Targets = append(result.Targets, OpinionTarget{
				Text:       target.Text,
				Label:      label,
				Confidence: confidence,
			})
		}
	}

	return result, nil
}

// Canary verifies connectivity with a one-word document. Called once at
// pipeline construction so dead credentials show up at boot, not mid-batch.
func (oc *OpinionsClient) Canary(ctx context.Context) error {
	_, err := oc.Analyze(ctx, "ok")
	return err
}
