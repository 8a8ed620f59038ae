// Package loader turns a registry reference into a ready model.Handle.
//
// Loading is a pure function of the reference: fetch the artifact bytes,
// verify the optional checksum, decode the artifact and check its features
// against the service contract. The loader never touches serving state; the
// gateway decides whether a loaded handle is installed.
package loader

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"noshowd/internal/model"
)

var tracer = otel.Tracer("noshowd/loader")

const (
	// DefaultFetchTimeout bounds one artifact fetch.
	DefaultFetchTimeout = 30 * time.Second
	// DefaultMaxBytes caps artifact size.
	DefaultMaxBytes int64 = 64 << 20
)

// Config configures a Loader. Zero values take defaults.
type Config struct {
	// BaseDir resolves relative bare-path sources.
	BaseDir      string
	FetchTimeout time.Duration
	MaxBytes     int64
	// Fetchers overrides or extends scheme handlers ("file", "http", "https").
	Fetchers map[string]Fetcher
	Logger   *zerolog.Logger
}

// Loader builds handles from references. Safe for concurrent use.
type Loader struct {
	baseDir  string
	timeout  time.Duration
	maxBytes int64
	fetchers map[string]Fetcher
	log      zerolog.Logger
}

// New returns a Loader with the file and http(s) fetchers installed.
func New(cfg Config) *Loader {
	l := &Loader{
		baseDir:  cfg.BaseDir,
		timeout:  cfg.FetchTimeout,
		maxBytes: cfg.MaxBytes,
		log:      zerolog.Nop(),
	}
	if l.timeout <= 0 {
		l.timeout = DefaultFetchTimeout
	}
	if l.maxBytes <= 0 {
		l.maxBytes = DefaultMaxBytes
	}
	if cfg.Logger != nil {
		l.log = *cfg.Logger
	}
	hf := NewHTTPFetcher(nil)
	l.fetchers = map[string]Fetcher{
		"file":  FileFetcher{},
		"http":  hf,
		"https": hf,
	}
	for scheme, f := range cfg.Fetchers {
		l.fetchers[scheme] = f
	}
	return l
}

// Load fetches, verifies and decodes the artifact behind ref.
func (l *Loader) Load(ctx context.Context, ref model.Reference) (*model.Handle, error) {
	ctx, span := tracer.Start(ctx, "loader.load")
	defer span.End()
	span.SetAttributes(
		attribute.String("model.name", ref.Name),
		attribute.String("model.version", ref.Version),
		attribute.String("artifact.source", ref.Source),
	)
	start := time.Now()
	h, err := l.load(ctx, ref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.log.Warn().Err(err).Str("model", ref.Name).Str("version", ref.Version).Str("kind", model.Kind(err)).Msg("model load failed")
		return nil, err
	}
	l.log.Info().Str("model", ref.Name).Str("version", ref.Version).Dur("took", time.Since(start)).Msg("model loaded")
	return h, nil
}

func (l *Loader) load(ctx context.Context, ref model.Reference) (*model.Handle, error) {
	data, err := l.fetch(ctx, ref.Source)
	if err != nil {
		return nil, err
	}
	if ref.Checksum != "" {
		if err := verifyChecksum(ref.Source, ref.Checksum, data); err != nil {
			return nil, err
		}
	}
	art, err := Decode(ref.Source, data)
	if err != nil {
		return nil, err
	}
	return &model.Handle{
		Ref:       ref,
		LoadedAt:  time.Now().UTC(),
		Predictor: art.Predictor,
		Contract:  model.Contract{Features: art.Features},
		Threshold: art.Threshold,
	}, nil
}
