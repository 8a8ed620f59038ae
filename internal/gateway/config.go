package gateway

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"noshowd/internal/model"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultReloadTimeout = 2 * time.Minute
)

// Resolver answers which reference should be served.
type Resolver interface {
	ResolveProduction(ctx context.Context, name string) (model.Reference, error)
}

// Loader builds a ready handle for a reference.
type Loader interface {
	Load(ctx context.Context, ref model.Reference) (*model.Handle, error)
}

// Config encapsulates all tunables for Gateway construction.
type Config struct {
	// ModelName is the registered model this gateway serves.
	ModelName     string
	Resolver      Resolver
	Loader        Loader
	ReloadTimeout time.Duration
	Publisher     EventPublisher
	Logger        *zerolog.Logger
	// Now overrides the clock; tests only.
	Now func() time.Time
}

// New constructs a Gateway from Config. The gateway starts Uninitialized;
// call Start to perform the initial load.
func New(cfg Config) *Gateway {
	g := &Gateway{
		name:      cfg.ModelName,
		resolver:  cfg.Resolver,
		loader:    cfg.Loader,
		timeout:   cfg.ReloadTimeout,
		pub:       cfg.Publisher,
		log:       zerolog.Nop(),
		now:       cfg.Now,
		startTime: time.Now(),
	}
	// Apply defaults if unset
	if g.timeout <= 0 {
		g.timeout = defaultReloadTimeout
	}
	if g.pub == nil {
		g.pub = noopPublisher{}
	}
	if cfg.Logger != nil {
		g.log = *cfg.Logger
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// SetEventPublisher replaces the publisher. Passing nil restores the no-op
// publisher. Not safe to call concurrently with Reload.
func (g *Gateway) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	g.pub = p
}
