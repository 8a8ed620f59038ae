package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"noshowd/internal/model"
	"noshowd/pkg/types"
)

var tracer = otel.Tracer("noshowd/gateway")

// Start performs the initial load. A failure is logged and returned but
// leaves the gateway Uninitialized and usable; a later Reload may succeed.
func (g *Gateway) Start(ctx context.Context) error {
	res, err := g.Reload(ctx)
	if err != nil {
		g.log.Error().Err(err).Str("model", g.name).Str("kind", model.Kind(err)).Msg("initial model load failed; serving not ready")
		return err
	}
	g.log.Info().Str("model", g.name).Str("version", res.NewVersion).Msg("initial model loaded")
	return nil
}

// Reload resolves the production reference and, when it differs from the
// active one, loads and installs it. The active handle keeps serving
// throughout and is left untouched on failure.
//
// The returned ReloadResult is always populated; err carries the typed cause
// when Success is false.
func (g *Gateway) Reload(ctx context.Context) (types.ReloadResult, error) {
	opID := uuid.NewString()
	if !g.reloading.CompareAndSwap(false, true) {
		err := model.ErrReloadInProgress()
		reloadsTotal.WithLabelValues(outcomeRejected).Inc()
		g.publish(EventReloadRejected, g.activeVersion(), map[string]any{"op_id": opID})
		return types.ReloadResult{Success: false, Error: err.Error(), OperationID: opID}, err
	}
	defer g.reloading.Store(false)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "gateway.reload")
	defer span.End()
	span.SetAttributes(attribute.String("model.name", g.name), attribute.String("reload.op_id", opID))

	start := time.Now()
	prev := g.activeVersion()
	res := types.ReloadResult{PreviousVersion: prev, OperationID: opID}
	g.publish(EventReloadStart, prev, map[string]any{"op_id": opID})
	g.log.Info().Str("op_id", opID).Str("model", g.name).Str("previous", prev).Msg("reload started")

	fail := func(err error) (types.ReloadResult, error) {
		if errors.Is(err, context.DeadlineExceeded) && model.Kind(err) == "internal" {
			err = model.ErrArtifactFetch("reload", err)
		}
		dur := time.Since(start)
		res.Success = false
		res.Error = err.Error()
		res.DurationMS = dur.Milliseconds()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		reloadsTotal.WithLabelValues(outcomeFailed).Inc()
		reloadDuration.Observe(dur.Seconds())
		g.recordReload(err)
		g.publish(EventReloadFailed, prev, map[string]any{"op_id": opID, "error": err.Error(), "kind": model.Kind(err)})
		g.log.Warn().Err(err).Str("op_id", opID).Str("kind", model.Kind(err)).Str("previous", prev).Msg("reload failed; keeping active model")
		return res, err
	}

	ref, err := g.resolver.ResolveProduction(ctx, g.name)
	if err != nil {
		return fail(err)
	}
	span.SetAttributes(attribute.String("model.version", ref.Version), attribute.String("model.stage", string(ref.Stage)))

	if cur := g.active.Load(); cur != nil && cur.handle.Ref.Equal(ref) {
		dur := time.Since(start)
		res.Success = true
		res.NewVersion = ref.Version
		res.DurationMS = dur.Milliseconds()
		reloadsTotal.WithLabelValues(outcomeUnchanged).Inc()
		reloadDuration.Observe(dur.Seconds())
		g.recordReload(nil)
		g.publish(EventReloadSkipped, ref.Version, map[string]any{"op_id": opID})
		g.log.Info().Str("op_id", opID).Str("version", ref.Version).Msg("reload skipped; active model already current")
		return res, nil
	}

	h, err := g.loader.Load(ctx, ref)
	if err != nil {
		return fail(err)
	}
	if h == nil || h.Predictor == nil {
		return fail(model.ErrArtifactCorrupt(ref.Source, "loader returned an empty handle"))
	}
	g.install(h)

	dur := time.Since(start)
	res.Success = true
	res.Changed = true
	res.NewVersion = h.Ref.Version
	res.DurationMS = dur.Milliseconds()
	reloadsTotal.WithLabelValues(outcomeSuccess).Inc()
	reloadDuration.Observe(dur.Seconds())
	g.recordReload(nil)
	g.publish(EventReloadDone, h.Ref.Version, map[string]any{"op_id": opID, "previous_version": prev, "duration_ms": res.DurationMS})
	g.log.Info().Str("op_id", opID).Str("previous", prev).Str("version", h.Ref.Version).Str("stage", string(h.Ref.Stage)).Dur("took", dur).Msg("reload complete")
	return res, nil
}

// Reloading reports whether a reload is in flight.
func (g *Gateway) Reloading() bool { return g.reloading.Load() }

func (g *Gateway) activeVersion() string {
	if s := g.active.Load(); s != nil {
		return s.handle.Ref.Version
	}
	return ""
}

func (g *Gateway) recordReload(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reloadCount++
	g.lastReload = g.now()
	if err != nil {
		g.reloadFailures++
		g.lastErr = err.Error()
		return
	}
	g.lastErr = ""
}
