package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variables understood by ApplyEnv. MODEL_NAME and
// MLFLOW_TRACKING_URI are honored for compatibility with existing
// deployments; the NOSHOWD_ forms win when both are set.
const (
	EnvModelName         = "MODEL_NAME"
	EnvMLflowTrackingURI = "MLFLOW_TRACKING_URI"
	envPrefix            = "NOSHOWD_"
)

// ApplyEnv overlays environment variables onto c. getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				*dst = v
			}
		}
	}
	var errs []string
	num := func(dst *int, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(dst *bool, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = b
		}
	}

	str(&c.Addr, envPrefix+"ADDR")
	str(&c.ModelName, EnvModelName, envPrefix+"MODEL_NAME")
	str(&c.RegistryURI, EnvMLflowTrackingURI, envPrefix+"REGISTRY_URI")
	str(&c.RegistryPrefix, envPrefix+"REGISTRY_PREFIX")
	str(&c.RegistryToken, envPrefix+"REGISTRY_TOKEN")
	str(&c.ArtifactBaseDir, envPrefix+"ARTIFACT_BASE_DIR")
	str(&c.LogLevel, envPrefix+"LOG_LEVEL")
	str(&c.LogFormat, envPrefix+"LOG_FORMAT")
	num(&c.ReloadTimeoutSeconds, envPrefix+"RELOAD_TIMEOUT_SECONDS")
	num(&c.FetchTimeoutSeconds, envPrefix+"FETCH_TIMEOUT_SECONDS")
	num(&c.PollIntervalSeconds, envPrefix+"POLL_INTERVAL_SECONDS")
	flag(&c.Notify, envPrefix+"NOTIFY")
	if v := strings.TrimSpace(getenv(envPrefix + "MAX_BODY_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%sMAX_BODY_BYTES: %v", envPrefix, err))
		} else {
			c.MaxBodyBytes = n
		}
	}
	str(&c.ReloadToken, envPrefix+"RELOAD_TOKEN")
	num(&c.ShutdownTimeoutSeconds, envPrefix+"SHUTDOWN_TIMEOUT_SECONDS")
	flag(&c.CORSEnabled, envPrefix+"CORS_ENABLED")
	if v := strings.TrimSpace(getenv(envPrefix + "CORS_ALLOWED_ORIGINS")); v != "" {
		c.CORSAllowedOrigins = SplitCSV(v)
	}
	str(&c.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT", envPrefix+"OTLP_ENDPOINT")
	str(&c.ServiceName, envPrefix+"SERVICE_NAME")

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SplitCSV splits a comma-separated list, trimming blanks.
func SplitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
