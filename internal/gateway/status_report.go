package gateway

import (
	"time"

	"noshowd/pkg/types"
)

// State returns the current serving state.
func (g *Gateway) State() State {
	if g.active.Load() == nil {
		return StateUninitialized
	}
	if g.reloading.Load() {
		return StateReloading
	}
	return StateReady
}

// Ready reports whether predictions can be served.
func (g *Gateway) Ready() bool { return g.active.Load() != nil }

// Health projects gateway state for /health. It never fails.
func (g *Gateway) Health() types.HealthStatus {
	s := g.active.Load()
	st := g.State()
	hs := types.HealthStatus{Status: "ok", ModelName: g.name, State: string(st)}
	if s == nil {
		hs.Status = "degraded"
	} else {
		ref := s.handle.Ref
		hs.ModelName = ref.Name
		hs.ModelVersion = ref.Version
		hs.ModelStage = string(ref.Stage)
		hs.LoadedAt = s.handle.LoadedAt.UTC().Format(time.RFC3339)
	}
	g.mu.Lock()
	hs.LastReloadError = g.lastErr
	g.mu.Unlock()
	return hs
}

// Status builds a detailed status response for /status.
func (g *Gateway) Status() types.StatusResponse {
	resp := types.StatusResponse{
		Health:         g.Health(),
		Inflight:       g.inflight.Load(),
		Retiring:       g.retiring.Load(),
		ServerTimeUnix: g.now().Unix(),
	}
	if s := g.active.Load(); s != nil {
		resp.Generation = s.generation
		resp.ModelSource = s.handle.Ref.Source
	}
	g.mu.Lock()
	resp.ReloadsTotal = g.reloadCount
	resp.ReloadFailures = g.reloadFailures
	if !g.lastReload.IsZero() {
		resp.LastReloadUnix = g.lastReload.Unix()
	}
	resp.UptimeSeconds = int64(time.Since(g.startTime).Seconds())
	g.mu.Unlock()
	return resp
}
