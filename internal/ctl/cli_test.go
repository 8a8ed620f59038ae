package ctl

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"noshowd/internal/loader"
	"noshowd/pkg/types"
)

const linearJSON = `{
  "format": "noshow.linear/v1",
  "features": ["age", "lead_time_days"],
  "intercept": -1.0,
  "weights": {"age": 0.01, "lead_time_days": 0.1}
}`

func testConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		RegistryURI: t.TempDir(),
		ModelName:   "noshow",
		Server:      "http://localhost:8080",
		LogLevel:    "error",
		Timeout:     5 * time.Second,
	}
}

func run(t *testing.T, cfg *Config, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cfg.JSON = false
	err := Run(args, cfg, &out)
	return out.String(), err
}

func writeArtifact(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestRegisterPromoteResolve(t *testing.T) {
	cfg := testConfig(t)
	art := writeArtifact(t, linearJSON)

	out, err := run(t, cfg, "register", "--source", art, "--checksum", "auto", "--metric", "auc=0.71")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !strings.Contains(out, "registered noshow/1") {
		t.Fatalf("out=%q", out)
	}

	out, err = run(t, cfg, "--json", "versions")
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	var vs []types.ModelVersion
	if err := json.Unmarshal([]byte(out), &vs); err != nil {
		t.Fatalf("json: %v (%q)", err, out)
	}
	if len(vs) != 1 || vs[0].Metrics["auc"] != 0.71 {
		t.Fatalf("versions=%+v", vs)
	}
	if want := loader.Checksum([]byte(linearJSON)); vs[0].Checksum != want {
		t.Fatalf("checksum=%q want %q", vs[0].Checksum, want)
	}

	// no production version yet: resolve falls back with stage None
	out, err = run(t, cfg, "--json", "resolve")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(out, `"stage": "None"`) {
		t.Fatalf("resolve out=%q", out)
	}

	if _, err := run(t, cfg, "promote", "1"); err != nil {
		t.Fatalf("promote: %v", err)
	}
	out, err = run(t, cfg, "resolve")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.HasPrefix(out, "noshow/1 (Production)\n") {
		t.Fatalf("resolve out=%q", out)
	}
}

func TestPromoteIfBetter(t *testing.T) {
	cfg := testConfig(t)
	art := writeArtifact(t, linearJSON)
	for _, auc := range []string{"auc=0.80", "auc=0.75", "auc=0.85"} {
		if _, err := run(t, cfg, "register", "--source", art, "--metric", auc); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if _, err := run(t, cfg, "promote", "1"); err != nil {
		t.Fatalf("promote: %v", err)
	}

	out, err := run(t, cfg, "--json", "promote", "2", "--if-better", "--metric", "auc")
	if err != nil {
		t.Fatalf("promote 2: %v", err)
	}
	var d map[string]any
	if err := json.Unmarshal([]byte(out), &d); err != nil {
		t.Fatalf("json: %v", err)
	}
	if d["promoted"] != false || d["production_version"] != "1" {
		t.Fatalf("decision=%v", d)
	}

	out, err = run(t, cfg, "promote", "3", "--if-better")
	if err != nil {
		t.Fatalf("promote 3: %v", err)
	}
	if !strings.HasPrefix(out, "promoted noshow/3") {
		t.Fatalf("out=%q", out)
	}

	out, err = run(t, cfg, "versions")
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 || !strings.Contains(lines[1], "Archived") || !strings.Contains(lines[3], "Production") {
		t.Fatalf("versions table:\n%s", out)
	}
}

func TestTransition(t *testing.T) {
	cfg := testConfig(t)
	art := writeArtifact(t, linearJSON)
	if _, err := run(t, cfg, "register", "--source", art); err != nil {
		t.Fatalf("register: %v", err)
	}
	out, err := run(t, cfg, "transition", "1", "staging")
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if strings.TrimSpace(out) != "noshow/1 -> Staging" {
		t.Fatalf("out=%q", out)
	}
	if _, err := run(t, cfg, "transition", "1", "bogus"); err == nil {
		t.Fatalf("expected unknown stage error")
	}
}

func TestRegister_RejectsBrokenArtifact(t *testing.T) {
	cfg := testConfig(t)
	art := writeArtifact(t, `{"format":"noshow.linear/v1","features":["shoe_size"]}`)
	if _, err := run(t, cfg, "register", "--source", art); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := run(t, cfg, "register", "--source", art, "--validate=false"); err != nil {
		t.Fatalf("register without validation: %v", err)
	}
}

func TestRegister_AutoChecksumNeedsLocalFile(t *testing.T) {
	cfg := testConfig(t)
	_, err := run(t, cfg, "register", "--source", "https://artifacts.example.com/m.json", "--checksum", "auto")
	if err == nil || !strings.Contains(err.Error(), "local artifact") {
		t.Fatalf("err=%v", err)
	}
}

func TestRegister_BadMetric(t *testing.T) {
	cfg := testConfig(t)
	art := writeArtifact(t, linearJSON)
	if _, err := run(t, cfg, "register", "--source", art, "--metric", "auc=high"); err == nil {
		t.Fatalf("expected metric parse error")
	}
}

func TestRequiresModelName(t *testing.T) {
	cfg := testConfig(t)
	cfg.ModelName = ""
	if _, err := run(t, cfg, "versions"); err == nil || !strings.Contains(err.Error(), "model name") {
		t.Fatalf("err=%v", err)
	}
}

func TestReload(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/reload-model" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.ReloadResult{
			Success: true, Changed: true, PreviousVersion: "1", NewVersion: "2", OperationID: "op", DurationMS: 12,
		})
	}))
	defer srv.Close()

	cfg := testConfig(t)
	out, err := run(t, cfg, "reload", "--server", srv.URL+"/", "--token", "tok")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if out != "reloaded 1 -> 2 in 12ms\n" {
		t.Fatalf("out=%q", out)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("auth=%q", gotAuth)
	}
}

func TestReload_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(types.ReloadResult{PreviousVersion: "1", Error: "artifact fetch failed", OperationID: "op"})
	}))
	defer srv.Close()

	cfg := testConfig(t)
	out, err := run(t, cfg, "reload", "--server", srv.URL)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(out, "artifact fetch failed") {
		t.Fatalf("out=%q", out)
	}
}

func TestReload_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: "missing or invalid reload token", Code: 401})
	}))
	defer srv.Close()

	cfg := testConfig(t)
	_, err := run(t, cfg, "reload", "--server", srv.URL)
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err=%v", err)
	}
}

func TestServerFromAddr(t *testing.T) {
	if got := serverFromAddr(":8080"); got != "http://localhost:8080" {
		t.Fatalf("got %q", got)
	}
	if got := serverFromAddr("10.0.0.5:9000"); got != "http://10.0.0.5:9000" {
		t.Fatalf("got %q", got)
	}
}

func TestMetricsString(t *testing.T) {
	if got := metricsString(map[string]float64{"f1": 0.5, "auc": 0.75}); got != "auc=0.75,f1=0.5" {
		t.Fatalf("got %q", got)
	}
	if got := metricsString(nil); got != "-" {
		t.Fatalf("got %q", got)
	}
}
