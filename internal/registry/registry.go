// Package registry resolves which model version a service should serve.
//
// A Client sits on top of a Backend (file tree, redis or an MLflow tracking
// server) and implements the resolution rule: the highest Production version
// wins; without one, the latest version of any stage is served with stage None.
package registry

import (
	"context"
	"sort"
	"strconv"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"noshowd/internal/model"
	"noshowd/pkg/types"
)

var tracer = otel.Tracer("noshowd/registry")

// Backend lists the registered versions of a model. An unknown model yields
// an empty list, not an error; errors mean the store could not be reached.
type Backend interface {
	ListVersions(ctx context.Context, name string) ([]types.ModelVersion, error)
	Close() error
}

// Writer mutates the registry. Only operator tooling uses it.
type Writer interface {
	// Register records a new version. An empty Version is assigned the next
	// integer; the assigned version is returned.
	Register(ctx context.Context, v types.ModelVersion) (string, error)
	// Transition moves a version to stage. With archiveExisting, moving to
	// Production archives every other Production version of the model.
	Transition(ctx context.Context, name, version string, stage model.Stage, archiveExisting bool) error
}

// Store is a Backend that also accepts writes.
type Store interface {
	Backend
	Writer
}

// Notifier announces promotions to running services.
type Notifier interface {
	NotifyPromotion(ctx context.Context, name, version string, stage model.Stage) error
}

// MetricsSource looks up evaluation metrics for a training run.
type MetricsSource interface {
	RunMetrics(ctx context.Context, runID string) (map[string]float64, error)
}

// Client resolves production references.
type Client struct {
	backend Backend
	log     zerolog.Logger
}

// NewClient wraps b. Fallback resolutions are logged to log.
func NewClient(b Backend, log zerolog.Logger) *Client {
	return &Client{backend: b, log: log}
}

// Backend returns the underlying backend.
func (c *Client) Backend() Backend { return c.backend }

// Versions returns all versions of name ordered oldest to latest.
func (c *Client) Versions(ctx context.Context, name string) ([]types.ModelVersion, error) {
	vs, err := c.backend.ListVersions(ctx, name)
	if err != nil {
		if model.IsRegistryUnavailable(err) {
			return nil, err
		}
		return nil, model.ErrRegistryUnavailable(err)
	}
	SortVersions(vs)
	return vs, nil
}

// ResolveProduction returns the reference the service should serve for name.
func (c *Client) ResolveProduction(ctx context.Context, name string) (model.Reference, error) {
	ctx, span := tracer.Start(ctx, "registry.resolve_production")
	defer span.End()
	span.SetAttributes(attribute.String("model.name", name))

	vs, err := c.Versions(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return model.Reference{}, err
	}
	if len(vs) == 0 {
		err := model.ErrModelNotFound(name)
		span.SetStatus(codes.Error, err.Error())
		return model.Reference{}, err
	}
	var prod *types.ModelVersion
	for i := range vs {
		if st, _ := model.ParseStage(vs[i].Stage); st == model.StageProduction {
			prod = &vs[i]
		}
	}
	var ref model.Reference
	if prod != nil {
		ref = toReference(name, *prod, model.StageProduction)
	} else {
		latest := vs[len(vs)-1]
		c.log.Warn().Str("model", name).Str("version", latest.Version).Msg("no Production version; falling back to latest version")
		ref = toReference(name, latest, model.StageNone)
	}
	span.SetAttributes(attribute.String("model.version", ref.Version), attribute.String("model.stage", string(ref.Stage)))
	return ref, nil
}

func toReference(name string, v types.ModelVersion, stage model.Stage) model.Reference {
	return model.Reference{
		Name:     name,
		Version:  v.Version,
		Stage:    stage,
		Source:   v.Source,
		Checksum: v.Checksum,
	}
}

// SortVersions orders versions oldest to latest: numerically when both
// versions are integers, then by registration time, then lexically.
func SortVersions(vs []types.ModelVersion) {
	sort.SliceStable(vs, func(i, j int) bool { return versionLess(vs[i], vs[j]) })
}

func versionLess(a, b types.ModelVersion) bool {
	na, errA := strconv.ParseUint(a.Version, 10, 64)
	nb, errB := strconv.ParseUint(b.Version, 10, 64)
	if errA == nil && errB == nil && na != nb {
		return na < nb
	}
	if a.CreatedAtMS != b.CreatedAtMS {
		return a.CreatedAtMS < b.CreatedAtMS
	}
	return a.Version < b.Version
}

// normalizeStage canonicalizes stage names. Unknown names are kept verbatim
// and never match Production.
func normalizeStage(s string) string {
	st, err := model.ParseStage(s)
	if err != nil {
		return s
	}
	return string(st)
}

// nextVersion returns max(integer versions)+1.
func nextVersion(vs []types.ModelVersion) string {
	var max uint64
	for _, v := range vs {
		if n, err := strconv.ParseUint(v.Version, 10, 64); err == nil && n > max {
			max = n
		}
	}
	return strconv.FormatUint(max+1, 10)
}
