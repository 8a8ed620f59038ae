package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"noshowd/internal/config"
	"noshowd/internal/gateway"
	"noshowd/internal/httpapi"
	"noshowd/internal/loader"
	"noshowd/internal/logx"
	"noshowd/internal/registry"
	"noshowd/internal/telemetry"
	"noshowd/internal/watch"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "noshowd:", err)
		os.Exit(2)
	}
	log := logx.Configure(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, log, nil); err != nil {
		log.Fatal().Err(err).Msg("noshowd exited")
	}
}

// parseConfig layers the config file, the environment and explicitly set
// flags, in that order, then fills defaults.
func parseConfig(args []string, getenv func(string) string, stderr io.Writer) (config.Config, error) {
	fs := flag.NewFlagSet("noshowd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file (.yaml|.yml|.json|.toml)")
	addr := fs.String("addr", config.DefaultAddr, "HTTP listen address, e.g. :8080")
	modelName := fs.String("model-name", config.DefaultModelName, "Registered model to serve")
	registryURI := fs.String("registry", config.DefaultRegistryURI, "Registry URI: path, file://, redis://, or MLflow http(s)://")
	artifactBase := fs.String("artifact-base-dir", "", "Base directory for relative artifact paths")
	logLevel := fs.String("log-level", config.DefaultLogLevel, "Log level: trace|debug|info|warn|error|off")
	logFormat := fs.String("log-format", config.DefaultLogFormat, "Log format: json|console")
	pollSeconds := fs.Int("poll-interval", 0, "Seconds between registry polls (0 disables)")
	notify := fs.Bool("notify", false, "Reload on redis promotion notifications")
	reloadToken := fs.String("reload-token", "", "Bearer token required on /reload-model")
	corsEnabled := fs.Bool("cors-enabled", false, "Enable CORS middleware")
	corsOrigins := fs.String("cors-origins", "", "Comma-separated list of allowed CORS origins")
	otlpEndpoint := fs.String("otlp-endpoint", "", "OTLP gRPC endpoint for traces (empty disables)")
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	var cfg config.Config
	if *configPath != "" {
		c, err := config.Load(*configPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("config: %w", err)
		}
		cfg = c
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return config.Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "model-name":
			cfg.ModelName = *modelName
		case "registry":
			cfg.RegistryURI = *registryURI
		case "artifact-base-dir":
			cfg.ArtifactBaseDir = *artifactBase
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		case "poll-interval":
			cfg.PollIntervalSeconds = *pollSeconds
		case "notify":
			cfg.Notify = *notify
		case "reload-token":
			cfg.ReloadToken = *reloadToken
		case "cors-enabled":
			cfg.CORSEnabled = *corsEnabled
		case "cors-origins":
			cfg.CORSAllowedOrigins = config.SplitCSV(*corsOrigins)
		case "otlp-endpoint":
			cfg.OTLPEndpoint = *otlpEndpoint
		}
	})
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// run serves until ctx ends. ready, when non-nil, receives the bound
// listener address once the server accepts connections.
func run(ctx context.Context, cfg config.Config, log zerolog.Logger, ready chan<- string) error {
	endpoint, insecure := otlpTarget(cfg.OTLPEndpoint)
	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		OTLPEndpoint: endpoint,
		ServiceName:  cfg.ServiceName,
		Version:      version,
		Insecure:     insecure,
	}, log)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	store, err := registry.Open(ctx, cfg.RegistryURI, registry.Options{
		RedisPrefix: cfg.RegistryPrefix,
		MLflowToken: cfg.RegistryToken,
		HTTPTimeout: cfg.FetchTimeout(),
		LazyConnect: true,
	})
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	defer store.Close()

	client := registry.NewClient(store, log.With().Str("component", "registry").Logger())
	ldLog := log.With().Str("component", "loader").Logger()
	ld := loader.New(loader.Config{
		BaseDir:      cfg.ArtifactBaseDir,
		FetchTimeout: cfg.FetchTimeout(),
		Logger:       &ldLog,
	})
	events := gateway.NewBroadcaster(64)
	gwLog := log.With().Str("component", "gateway").Logger()
	gw := gateway.New(gateway.Config{
		ModelName:     cfg.ModelName,
		Resolver:      client,
		Loader:        ld,
		ReloadTimeout: cfg.ReloadTimeout(),
		Publisher:     events,
		Logger:        &gwLog,
	})

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetReloadToken(cfg.ReloadToken)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSAllowedOrigins, nil, nil)
	httpapi.SetEventSource(events)
	httpapi.SetBaseContext(ctx)

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           httpapi.NewMux(gw),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Str("model", cfg.ModelName).Str("registry", redact(cfg.RegistryURI)).Msg("noshowd listening")
		if ready != nil {
			ready <- ln.Addr().String()
		}
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		log.Info().Msg("shutting down")
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown error")
		}
		return nil
	})
	// health answers while the initial load runs; a failure leaves the
	// gateway degraded but serving
	g.Go(func() error {
		_ = gw.Start(gctx)
		return nil
	})
	if cfg.PollInterval() > 0 {
		p := watch.NewPoller(gw, client, cfg.PollInterval(), log.With().Str("component", "poller").Logger())
		g.Go(func() error { return p.Run(gctx) })
	}
	if cfg.Notify {
		src, ok := store.(watch.PromotionSource)
		if !ok {
			log.Warn().Msg("notify is enabled but the registry has no promotion channel; ignoring")
		} else {
			s := watch.NewSubscriber(gw, src, log.With().Str("component", "subscriber").Logger())
			g.Go(func() error { return s.Run(gctx) })
		}
	}
	return g.Wait()
}

// otlpTarget strips an optional scheme; only https:// selects TLS.
func otlpTarget(endpoint string) (string, bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimPrefix(endpoint, "https://"), false
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimPrefix(endpoint, "http://"), true
	default:
		return endpoint, true
	}
}

// redact hides credentials embedded in a registry URI.
func redact(uri string) string {
	at := strings.LastIndex(uri, "@")
	sep := strings.Index(uri, "://")
	if at < 0 || sep < 0 || at < sep {
		return uri
	}
	return uri[:sep+3] + "***" + uri[at:]
}
