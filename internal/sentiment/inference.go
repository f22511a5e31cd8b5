package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/therealityreport/socializer-backend/internal/config"
)

// InferenceClient talks to the sidecar serving the fine-tuned classifier.
// One POST scores a whole batch of inputs.
type InferenceClient struct {
	url      string
	model    string
	revision string
	client   *http.Client
}

type InferenceOption func(*InferenceClient)

func WithInferenceHTTPClient(client *http.Client) InferenceOption {
	return func(ic *InferenceClient) {
		ic.client = client
	}
}

func NewInferenceClient(cfg config.SentimentSettings, opts ...InferenceOption) *InferenceClient {
	ic := &InferenceClient{
		url:      cfg.PrimaryURL,
		model:    cfg.PrimaryModel,
		revision: cfg.ModelRevision,
		client:   &http.Client{Timeout: 30 * time.Second},
	}

	for _, opt := range opts {
		opt(ic)
	}

	return ic
}

// Model is the identifier stamped on results this client produced.
func (ic *InferenceClient) Model() string {
	return ic.model
}

type inferenceRequest struct {
	Model    string   `json:"model"`
	Revision string   `json:"revision,omitempty"`
	Inputs   []string `json:"inputs"`
}

type inferencePrediction struct {
	Probs    Probs     `json:"probs"`
	Sarcasm  Detection `json:"sarcasm"`
	Toxicity Detection `json:"toxicity"`
}

type inferenceResponse struct {
	Predictions []inferencePrediction `json:"predictions"`
}

// Predict scores each input and returns results in input order.
func (ic *InferenceClient) Predict(ctx context.Context, inputs []string) (predictions []Prediction, err error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	ctx, span := otel.Tracer("sentiment").Start(ctx, "sentiment.predict", trace.WithAttributes(
		attribute.String("sentiment.model", ic.model),
		attribute.Int("sentiment.inputs", len(inputs)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	body, err := json.Marshal(inferenceRequest{
		Model:    ic.model,
		Revision: ic.revision,
		Inputs:   inputs,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ic.url+"/v1/predict", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ic.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference sidecar returned %d", resp.StatusCode)
	}

	var ir inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return nil, err
	}

	if len(ir.Predictions) != len(inputs) {
		return nil, fmt.Errorf("inference sidecar returned %d predictions for %d inputs", len(ir.Predictions), len(inputs))
	}

	predictions = make([]Prediction, len(ir.Predictions))
	for i, p := range ir.Predictions {
		label, score, margin := p.Probs.Top()
		predictions[i] = Prediction{
			Label:    label,
			Score:    score,
			Margin:   margin,
			Probs:    p.Probs,
			Sarcasm:  p.Sarcasm,
			Toxicity: p.Toxicity,
		}
	}

	return predictions, nil
}
