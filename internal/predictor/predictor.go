package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go-avatar-pipeline/internal/models"

	log "github.com/sirupsen/logrus"
)

// Custom Error Types
var (
	// ErrModelUnavailable means the inference backend does not serve one
	// of the three regression models (HTTP 404).
	ErrModelUnavailable = errors.New("regression model unavailable")
	// ErrInferenceFailed wraps transport and server-side inference
	// failures; any one failing call fails the whole prediction.
	ErrInferenceFailed = errors.New("inference call failed")
)

// rounds is the fixed iteration count of the solver. Three rounds trade
// convergence accuracy for bounded latency; no convergence-delta check
// is performed.
const rounds = 3

const defaultInferenceTimeout = 30 * time.Second

// Model names as the inference backend knows them. Each model returns a
// JSON object carrying a field of the same name.
const (
	modelChest = "chest_ratio"
	modelWaist = "waist_ratio"
	modelThigh = "thigh_ratio"
)

// Predictor converts (height, weight) into three body-shape ratios by
// fixed-point iteration over three coupled regression models served by an
// HTTP inference backend. It holds no mutable state and may be shared.
type Predictor struct {
	BaseURL    string
	HttpClient *http.Client
}

// NewPredictor creates a predictor against the given inference backend.
func NewPredictor(baseURL string, httpClient *http.Client) *Predictor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultInferenceTimeout}
	}
	return &Predictor{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HttpClient: httpClient,
	}
}

// Predict runs the fixed-point iteration: all three ratios seed at 1.0,
// then three rounds of chest, waist, thigh inference where each sub-step
// sees the values already updated in the same round. Exactly nine
// inference calls regardless of inputs. A model answering without a
// numeric ratio leaves the prior value standing; a failing call aborts
// the whole prediction.
func (p *Predictor) Predict(ctx context.Context, height, weight float64) (models.BodyRatios, error) {
	ratios := models.BodyRatios{Chest: 1.0, Waist: 1.0, Thigh: 1.0}

	for round := 1; round <= rounds; round++ {
		if v, ok, err := p.infer(ctx, modelChest, height, weight, ratios.Waist, ratios.Thigh); err != nil {
			return models.BodyRatios{}, err
		} else if ok {
			ratios.Chest = v
		}

		if v, ok, err := p.infer(ctx, modelWaist, height, weight, ratios.Chest, ratios.Thigh); err != nil {
			return models.BodyRatios{}, err
		} else if ok {
			ratios.Waist = v
		}

		if v, ok, err := p.infer(ctx, modelThigh, height, weight, ratios.Chest, ratios.Waist); err != nil {
			return models.BodyRatios{}, err
		} else if ok {
			ratios.Thigh = v
		}

		log.Debugf("Fixed-point round %d/%d: chest=%.4f waist=%.4f thigh=%.4f", round, rounds, ratios.Chest, ratios.Waist, ratios.Thigh)
	}

	log.WithFields(log.Fields{
		"chest": ratios.Chest,
		"waist": ratios.Waist,
		"thigh": ratios.Thigh,
	}).Info("Body ratio prediction complete")

	return ratios, nil
}

// infer performs one regression call. The payload carries height, weight
// and the current values of the other two ratios; the response is a JSON
// object expected to hold the model's named ratio field. Returns ok=false
// (and no error) when the field is absent or not numeric.
func (p *Predictor) infer(ctx context.Context, model string, height, weight, otherA, otherB float64) (float64, bool, error) {
	payload := map[string]float64{
		"height": height,
		"weight": weight,
	}
	switch model {
	case modelChest:
		payload[modelWaist] = otherA
		payload[modelThigh] = otherB
	case modelWaist:
		payload[modelChest] = otherA
		payload[modelThigh] = otherB
	case modelThigh:
		payload[modelChest] = otherA
		payload[modelWaist] = otherB
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, false, fmt.Errorf("%w: encoding %s request: %v", ErrInferenceFailed, model, err)
	}

	reqURL := fmt.Sprintf("%s/predict/%s", p.BaseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return 0, false, fmt.Errorf("%w: creating %s request: %v", ErrInferenceFailed, model, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.HttpClient.Do(req)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s: %v", ErrInferenceFailed, model, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, false, fmt.Errorf("%w: reading %s response: %v", ErrInferenceFailed, model, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, false, fmt.Errorf("%w: %s", ErrModelUnavailable, model)
	case resp.StatusCode != http.StatusOK:
		return 0, false, fmt.Errorf("%w: %s returned status %d: %s", ErrInferenceFailed, model, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var fields map[string]json.Number
	if err := json.Unmarshal(respBody, &fields); err != nil {
		return 0, false, fmt.Errorf("%w: unmarshalling %s response: %v", ErrInferenceFailed, model, err)
	}

	raw, present := fields[model]
	if !present {
		log.Warnf("Inference response for %s carried no %s field, keeping prior value", model, model)
		return 0, false, nil
	}
	v, err := raw.Float64()
	if err != nil {
		log.Warnf("Inference response for %s carried non-numeric %s (%q), keeping prior value", model, model, raw.String())
		return 0, false, nil
	}

	return v, true, nil
}
