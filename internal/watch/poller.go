package watch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"noshowd/internal/model"
)

// Poller periodically resolves the production reference and reloads the
// target when the reference moved.
type Poller struct {
	target   Target
	resolver Resolver
	interval time.Duration
	log      zerolog.Logger
}

// NewPoller returns a Poller. A non-positive interval disables it; Run then
// returns immediately.
func NewPoller(target Target, resolver Resolver, interval time.Duration, log zerolog.Logger) *Poller {
	return &Poller{target: target, resolver: resolver, interval: interval, log: log}
}

// Run blocks until ctx is canceled.
func (p *Poller) Run(ctx context.Context) error {
	if p.interval <= 0 {
		return nil
	}
	p.log.Info().Dur("interval", p.interval).Str("model", p.target.ModelName()).Msg("registry poller started")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("registry poller stopped")
			return nil
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

// Check runs one poll cycle and reports whether a reload was triggered.
func (p *Poller) Check(ctx context.Context) bool {
	ref, err := p.resolver.ResolveProduction(ctx, p.target.ModelName())
	if err != nil {
		p.log.Debug().Err(err).Str("kind", model.Kind(err)).Msg("poll: resolve failed")
		return false
	}
	if h := p.target.Active(); h != nil && h.Ref.Equal(ref) {
		return false
	}
	p.log.Info().Str("version", ref.Version).Str("stage", string(ref.Stage)).Msg("poll: production reference changed; reloading")
	if _, err := p.target.Reload(ctx); err != nil && !model.IsReloadInProgress(err) {
		p.log.Warn().Err(err).Msg("poll: reload failed")
	}
	return true
}
