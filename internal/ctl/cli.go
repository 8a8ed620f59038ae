// Package ctl implements noshowctl, the operator CLI for the model registry
// and running noshowd instances.
package ctl

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"noshowd/internal/config"
	"noshowd/internal/logx"
	"noshowd/internal/registry"
)

// Config holds the persistent flags shared by every subcommand.
type Config struct {
	RegistryURI    string
	RegistryPrefix string
	RegistryToken  string
	ModelName      string
	Server         string
	ReloadToken    string
	LogLevel       string
	JSON           bool
	Timeout        time.Duration

	out io.Writer
	log zerolog.Logger
}

// DefaultConfig returns flag defaults, honoring the same environment
// variables as noshowd.
func DefaultConfig() *Config {
	c := config.Config{}
	c.SetDefaults()
	_ = c.ApplyEnv(os.Getenv)
	return &Config{
		RegistryURI:    c.RegistryURI,
		RegistryPrefix: c.RegistryPrefix,
		RegistryToken:  c.RegistryToken,
		ModelName:      c.ModelName,
		Server:         serverFromAddr(c.Addr),
		ReloadToken:    c.ReloadToken,
		LogLevel:       envStr("NOSHOWCTL_LOG_LEVEL", "warn"),
		Timeout:        30 * time.Second,
	}
}

// openStore is swapped in tests.
var openStore = func(ctx context.Context, cfg *Config) (registry.Store, error) {
	return registry.Open(ctx, cfg.RegistryURI, registry.Options{
		RedisPrefix: cfg.RegistryPrefix,
		MLflowToken: cfg.RegistryToken,
		HTTPTimeout: cfg.Timeout,
	})
}

// Run executes the CLI with args, writing results to out.
func Run(args []string, cfg *Config, out io.Writer) error {
	cfg.out = out
	root := buildRootCmdWith(cfg)
	root.SetArgs(args)
	root.SetOut(out)
	return root.Execute()
}

// Main is the noshowctl entry point.
func Main() {
	if err := Run(os.Args[1:], DefaultConfig(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "noshowctl:", err)
		os.Exit(1)
	}
}

func (c *Config) setupLogging() {
	c.log = logx.ConfigureWriter(os.Stderr, c.LogLevel, "console")
}

func serverFromAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
