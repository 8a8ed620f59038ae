package model

import (
	"fmt"
	"math"
	"time"

	"noshowd/pkg/types"
)

// DefaultThreshold is the probability above which an appointment is flagged.
const DefaultThreshold = 0.5

// Predictor scores one feature vector. Implementations must be safe for
// concurrent use and must not mutate shared state.
type Predictor interface {
	Predict(v Vector) (float64, error)
}

// Handle is a fully constructed, immutable model ready for inference.
type Handle struct {
	Ref       Reference
	LoadedAt  time.Time
	Predictor Predictor
	Contract  Contract
	Threshold float64
}

// Prediction is the outcome of scoring one request.
type Prediction struct {
	Probability float64
	IsNoShow    bool
}

// Predict validates req against the handle's contract and scores it.
func (h *Handle) Predict(req types.PredictionRequest) (Prediction, error) {
	appt, err := h.Contract.Validate(req)
	if err != nil {
		return Prediction{}, err
	}
	p, err := h.Predictor.Predict(appt.Features())
	if err != nil {
		return Prediction{}, err
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		return Prediction{}, fmt.Errorf("predictor returned out-of-range probability %v", p)
	}
	th := h.Threshold
	if th <= 0 || th >= 1 {
		th = DefaultThreshold
	}
	return Prediction{Probability: p, IsNoShow: p > th}, nil
}
