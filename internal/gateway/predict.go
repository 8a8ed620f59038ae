package gateway

import (
	"context"
	"time"

	"noshowd/internal/model"
	"noshowd/pkg/types"
)

// Predict scores req against the active handle. The handle observed at
// acquisition is used for the whole request even if a reload swaps it out
// meanwhile.
func (g *Gateway) Predict(ctx context.Context, req types.PredictionRequest) (types.PredictionResponse, error) {
	if err := ctx.Err(); err != nil {
		return types.PredictionResponse{}, err
	}
	s, err := g.acquire()
	if err != nil {
		predictionsTotal.WithLabelValues(outcomeNotReady).Inc()
		return types.PredictionResponse{}, err
	}
	defer g.release(s)

	h := s.handle
	p, err := h.Predict(req)
	if err != nil {
		if model.IsValidation(err) {
			predictionsTotal.WithLabelValues(outcomeInvalid).Inc()
		} else {
			predictionsTotal.WithLabelValues(outcomeError).Inc()
			g.log.Error().Err(err).Str("version", h.Ref.Version).Msg("prediction failed")
		}
		return types.PredictionResponse{}, err
	}
	predictionsTotal.WithLabelValues(outcomeOK).Inc()
	return types.PredictionResponse{
		Probability:         p.Probability,
		IsNoShow:            p.IsNoShow,
		ModelName:           h.Ref.Name,
		ModelVersion:        h.Ref.Version,
		PredictionTimestamp: g.now().UTC().Format(time.RFC3339Nano),
	}, nil
}
