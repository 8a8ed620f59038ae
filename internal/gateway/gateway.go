package gateway

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"noshowd/internal/model"
)

// State is the serving state of the gateway.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
	StateReloading     State = "reloading"
)

// slot wraps one installed handle with its in-flight accounting.
type slot struct {
	handle     *model.Handle
	generation uint64
	inflight   atomic.Int64
	retired    atomic.Bool
	finalized  atomic.Bool
}

// Gateway owns the active model slot.
type Gateway struct {
	name     string
	resolver Resolver
	loader   Loader
	timeout  time.Duration
	pub      EventPublisher
	log      zerolog.Logger
	now      func() time.Time

	active     atomic.Pointer[slot]
	reloading  atomic.Bool
	generation atomic.Uint64
	inflight   atomic.Int64
	retiring   atomic.Int64

	// reload bookkeeping; never touched on the predict path
	mu             sync.Mutex
	lastErr        string
	lastReload     time.Time
	reloadCount    uint64
	reloadFailures uint64
	startTime      time.Time
}

// ModelName returns the served model name.
func (g *Gateway) ModelName() string { return g.name }

// Active returns the current handle, or nil before the first successful load.
func (g *Gateway) Active() *model.Handle {
	if s := g.active.Load(); s != nil {
		return s.handle
	}
	return nil
}

// acquire pins the active slot for one request. The slot is re-checked after
// the in-flight increment so a slot retired in between is never used.
func (g *Gateway) acquire() (*slot, error) {
	for {
		s := g.active.Load()
		if s == nil {
			return nil, model.ErrServiceNotReady()
		}
		s.inflight.Add(1)
		if g.active.Load() == s {
			g.inflight.Add(1)
			inflightPredictions.Inc()
			return s, nil
		}
		g.unpin(s)
	}
}

// release undoes acquire.
func (g *Gateway) release(s *slot) {
	g.inflight.Add(-1)
	inflightPredictions.Dec()
	g.unpin(s)
}

func (g *Gateway) unpin(s *slot) {
	if s.inflight.Add(-1) == 0 && s.retired.Load() {
		g.finalize(s)
	}
}

// install swaps h in as the active handle and retires the previous slot.
func (g *Gateway) install(h *model.Handle) (prev *model.Handle) {
	ns := &slot{handle: h, generation: g.generation.Add(1)}
	old := g.active.Swap(ns)
	ref := h.Ref
	activeModelInfo.WithLabelValues(ref.Name, ref.Version, string(ref.Stage)).Set(1)
	g.publish(EventHandleInstalled, ref.Version, map[string]any{"stage": string(ref.Stage), "generation": ns.generation})
	if old == nil {
		return nil
	}
	oref := old.handle.Ref
	if oref.Name != ref.Name || oref.Version != ref.Version || oref.Stage != ref.Stage {
		activeModelInfo.DeleteLabelValues(oref.Name, oref.Version, string(oref.Stage))
	}
	g.retire(old)
	return old.handle
}

func (g *Gateway) retire(s *slot) {
	g.retiring.Add(1)
	s.retired.Store(true)
	if s.inflight.Load() == 0 {
		g.finalize(s)
	}
}

// finalize runs exactly once per retired slot, after its last request.
func (g *Gateway) finalize(s *slot) {
	if !s.finalized.CompareAndSwap(false, true) {
		return
	}
	g.retiring.Add(-1)
	if c, ok := s.handle.Predictor.(io.Closer); ok {
		if err := c.Close(); err != nil {
			g.log.Warn().Err(err).Str("version", s.handle.Ref.Version).Msg("closing retired predictor")
		}
	}
	g.log.Debug().Str("version", s.handle.Ref.Version).Uint64("generation", s.generation).Msg("handle retired")
	g.publish(EventHandleRetired, s.handle.Ref.Version, map[string]any{"generation": s.generation})
}

func (g *Gateway) publish(name, version string, fields map[string]any) {
	g.pub.Publish(Event{Name: name, ModelName: g.name, ModelVersion: version, Time: g.now(), Fields: fields})
}
