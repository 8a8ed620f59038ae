package registry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"noshowd/internal/model"
	"noshowd/pkg/types"
)

// Promoter moves versions to Production and announces promotions.
type Promoter struct {
	store    Store
	notifier Notifier
	log      zerolog.Logger
}

// NewPromoter returns a Promoter over store. When store implements Notifier
// promotions are announced through it.
func NewPromoter(store Store, log zerolog.Logger) *Promoter {
	p := &Promoter{store: store, log: log}
	if n, ok := store.(Notifier); ok {
		p.notifier = n
	}
	return p
}

// Decision describes the outcome of PromoteIfBetter.
type Decision struct {
	Promoted          bool
	Reason            string
	Candidate         float64
	Production        float64
	ProductionVersion string
}

// Promote transitions version to Production and notifies listeners.
// Notification failures are logged, not returned.
func (p *Promoter) Promote(ctx context.Context, name, version string, archiveExisting bool) error {
	if err := p.store.Transition(ctx, name, version, model.StageProduction, archiveExisting); err != nil {
		return err
	}
	p.log.Info().Str("model", name).Str("version", version).Bool("archive_existing", archiveExisting).Msg("promoted to Production")
	if p.notifier != nil {
		if err := p.notifier.NotifyPromotion(ctx, name, version, model.StageProduction); err != nil {
			p.log.Warn().Err(err).Str("model", name).Str("version", version).Msg("promotion notification failed")
		}
	}
	return nil
}

// PromoteIfBetter promotes version when it beats the current Production
// version on metric. There is nothing to beat when no Production version
// exists or it never recorded metric. A candidate without metric is never
// promoted.
func (p *Promoter) PromoteIfBetter(ctx context.Context, name, version, metric string, higherIsBetter, archiveExisting bool) (Decision, error) {
	vs, err := p.store.ListVersions(ctx, name)
	if err != nil {
		return Decision{}, err
	}
	SortVersions(vs)
	var cand *types.ModelVersion
	var prod *types.ModelVersion
	for i := range vs {
		if vs[i].Version == version {
			cand = &vs[i]
		} else if vs[i].Stage == string(model.StageProduction) {
			prod = &vs[i]
		}
	}
	if cand == nil {
		return Decision{}, model.ErrModelNotFound(name + "/" + version)
	}
	cv, ok, err := p.metricOf(ctx, *cand, metric)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return Decision{Reason: fmt.Sprintf("candidate has no %q metric", metric)}, nil
	}
	d := Decision{Candidate: cv}
	switch {
	case prod == nil:
		d.Reason = "no Production version"
	default:
		d.ProductionVersion = prod.Version
		pv, ok, err := p.metricOf(ctx, *prod, metric)
		if err != nil {
			return Decision{}, err
		}
		if ok {
			d.Production = pv
			better := cv > pv
			if !higherIsBetter {
				better = cv < pv
			}
			if !better {
				d.Reason = fmt.Sprintf("%s %g does not beat Production %g", metric, cv, pv)
				return d, nil
			}
			d.Reason = fmt.Sprintf("%s %g beats Production %g", metric, cv, pv)
		} else {
			d.Reason = fmt.Sprintf("Production version %s has no %q metric", prod.Version, metric)
		}
	}
	if err := p.Promote(ctx, name, version, archiveExisting); err != nil {
		return d, err
	}
	d.Promoted = true
	return d, nil
}

func (p *Promoter) metricOf(ctx context.Context, v types.ModelVersion, metric string) (float64, bool, error) {
	if val, ok := v.Metrics[metric]; ok {
		return val, true, nil
	}
	src, ok := p.store.(MetricsSource)
	if !ok || v.RunID == "" {
		return 0, false, nil
	}
	ms, err := src.RunMetrics(ctx, v.RunID)
	if err != nil {
		return 0, false, err
	}
	val, ok := ms[metric]
	return val, ok, nil
}
