package config

import (
	"reflect"
	"testing"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestApplyEnv_Overlay(t *testing.T) {
	c := Config{Addr: ":1", ModelName: "from-file"}
	err := c.ApplyEnv(envMap(map[string]string{
		"MODEL_NAME":                       "legacy",
		"MLFLOW_TRACKING_URI":              "http://mlflow:5000",
		"NOSHOWD_ADDR":                     ":2",
		"NOSHOWD_POLL_INTERVAL_SECONDS":    "15",
		"NOSHOWD_NOTIFY":                   "true",
		"NOSHOWD_MAX_BODY_BYTES":           "4096",
		"NOSHOWD_CORS_ALLOWED_ORIGINS":     "https://a, ,https://b",
		"OTEL_EXPORTER_OTLP_ENDPOINT":      "collector:4317",
		"NOSHOWD_SHUTDOWN_TIMEOUT_SECONDS": "3",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if c.Addr != ":2" || c.ModelName != "legacy" || c.RegistryURI != "http://mlflow:5000" {
		t.Fatalf("unexpected cfg: %+v", c)
	}
	if c.PollIntervalSeconds != 15 || !c.Notify || c.MaxBodyBytes != 4096 || c.ShutdownTimeoutSeconds != 3 {
		t.Fatalf("unexpected cfg: %+v", c)
	}
	if !reflect.DeepEqual(c.CORSAllowedOrigins, []string{"https://a", "https://b"}) || c.OTLPEndpoint != "collector:4317" {
		t.Fatalf("unexpected cfg: %+v", c)
	}
}

func TestApplyEnv_PrefixedWins(t *testing.T) {
	var c Config
	if err := c.ApplyEnv(envMap(map[string]string{
		"MODEL_NAME":           "legacy",
		"NOSHOWD_MODEL_NAME":   "preferred",
		"MLFLOW_TRACKING_URI":  "http://mlflow",
		"NOSHOWD_REGISTRY_URI": "file:///srv/registry",
	})); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if c.ModelName != "preferred" || c.RegistryURI != "file:///srv/registry" {
		t.Fatalf("unexpected cfg: %+v", c)
	}
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	var c Config
	err := c.ApplyEnv(envMap(map[string]string{
		"NOSHOWD_POLL_INTERVAL_SECONDS": "soon",
		"NOSHOWD_NOTIFY":                "perhaps",
	}))
	if err == nil {
		t.Fatalf("expected error for malformed values")
	}
}

func TestSplitCSV(t *testing.T) {
	cases := map[string][]string{
		"":            nil,
		"a":           {"a"},
		" a , b ,, c": {"a", "b", "c"},
	}
	for in, want := range cases {
		if got := SplitCSV(in); !reflect.DeepEqual(got, want) {
			t.Fatalf("SplitCSV(%q) = %v; want %v", in, got, want)
		}
	}
}
