package loader

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"noshowd/internal/model"
)

const linearJSON = `{
  "format": "noshow.linear/v1",
  "features": ["age", "lead_time_days", "sms_received"],
  "intercept": -1.0,
  "weights": {"age": 0.0, "lead_time_days": 0.1, "sms_received": -0.5},
  "threshold": 0.4
}`

const treesJSON = `{
  "format": "noshow.trees/v1",
  "features": ["lead_time_days", "age"],
  "base_margin": 0.0,
  "trees": [
    {"nodes": [
      {"feature": "lead_time_days", "threshold": 7, "yes": 1, "no": 2},
      {"leaf": -1.0},
      {"feature": "age", "threshold": 30, "yes": 3, "no": 4},
      {"leaf": 2.0},
      {"leaf": 0.5}
    ]},
    {"nodes": [{"leaf": 0.25}]}
  ]
}`

func writeArtifact(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return p
}

func ref(source string) model.Reference {
	return model.Reference{Name: "m", Version: "1", Stage: model.StageProduction, Source: source}
}

func TestLoad_LinearFromFile(t *testing.T) {
	dir := t.TempDir()
	p := writeArtifact(t, dir, "model.json", linearJSON)
	h, err := New(Config{}).Load(context.Background(), ref("file://"+p))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if h.Ref.Version != "1" || h.LoadedAt.IsZero() {
		t.Fatalf("handle metadata not set: %+v", h)
	}
	if h.Threshold != 0.4 {
		t.Fatalf("threshold = %v", h.Threshold)
	}
	if len(h.Contract.Features) != 3 {
		t.Fatalf("contract features = %v", h.Contract.Features)
	}
	got, err := h.Predictor.Predict(model.Vector{"age": 50, "lead_time_days": 10, "sms_received": 1})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	want := 1 / (1 + math.Exp(-(-1.0 + 1.0 - 0.5)))
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("p = %v; want %v", got, want)
	}
}

func TestLoad_BarePathUsesBaseDir(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "trees.json", treesJSON)
	h, err := New(Config{BaseDir: dir}).Load(context.Background(), ref("trees.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if h.Threshold != model.DefaultThreshold {
		t.Fatalf("default threshold not applied: %v", h.Threshold)
	}
	cases := []struct {
		v      model.Vector
		margin float64
	}{
		{model.Vector{"lead_time_days": 1, "age": 80}, -1.0 + 0.25},
		{model.Vector{"lead_time_days": 10, "age": 20}, 2.0 + 0.25},
		{model.Vector{"lead_time_days": 10, "age": 30}, 0.5 + 0.25},
	}
	for _, c := range cases {
		got, err := h.Predictor.Predict(c.v)
		if err != nil {
			t.Fatalf("predict: %v", err)
		}
		if want := sigmoid(c.margin); math.Abs(got-want) > 1e-12 {
			t.Fatalf("%v: p = %v; want %v", c.v, got, want)
		}
	}
}

func TestLoad_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/m/1.json" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(linearJSON))
	}))
	defer srv.Close()
	l := New(Config{})
	if _, err := l.Load(context.Background(), ref(srv.URL+"/m/1.json")); err != nil {
		t.Fatalf("load: %v", err)
	}
	_, err := l.Load(context.Background(), ref(srv.URL+"/missing.json"))
	if !model.IsArtifactFetch(err) {
		t.Fatalf("expected ArtifactFetchError for 404, got %v", err)
	}
}

func TestLoad_FetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)
	start := time.Now()
	_, err := New(Config{FetchTimeout: 50 * time.Millisecond}).Load(context.Background(), ref(srv.URL+"/slow.json"))
	if !model.IsArtifactFetch(err) {
		t.Fatalf("expected ArtifactFetchError, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("fetch timeout not enforced")
	}
}

func TestLoad_SizeCap(t *testing.T) {
	dir := t.TempDir()
	p := writeArtifact(t, dir, "big.json", linearJSON)
	_, err := New(Config{MaxBytes: 16}).Load(context.Background(), ref(p))
	if !model.IsArtifactFetch(err) {
		t.Fatalf("expected ArtifactFetchError, got %v", err)
	}
}

func TestLoad_Checksum(t *testing.T) {
	dir := t.TempDir()
	p := writeArtifact(t, dir, "model.json", linearJSON)
	r := ref(p)
	r.Checksum = Checksum([]byte(linearJSON))
	if _, err := New(Config{}).Load(context.Background(), r); err != nil {
		t.Fatalf("matching checksum rejected: %v", err)
	}
	r.Checksum = Checksum([]byte("something else"))
	if _, err := New(Config{}).Load(context.Background(), r); !model.IsArtifactCorrupt(err) {
		t.Fatalf("expected ArtifactCorrupt on mismatch, got %v", err)
	}
	r.Checksum = "md5:abc"
	if _, err := New(Config{}).Load(context.Background(), r); !model.IsArtifactCorrupt(err) {
		t.Fatalf("expected ArtifactCorrupt on unsupported digest, got %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name   string
		source string
		body   string
		check  func(error) bool
	}{
		{"missing file", filepath.Join(dir, "absent.json"), "", model.IsArtifactFetch},
		{"unsupported scheme", "s3://bucket/model.json", "", model.IsArtifactFetch},
		{"not json", "", "\x00\x01garbage", model.IsArtifactCorrupt},
		{"unknown format", "", `{"format":"pickle","features":["age"]}`, model.IsArtifactCorrupt},
		{"unknown field", "", `{"format":"noshow.linear/v1","features":["age"],"weights":{"age":1},"extra":1}`, model.IsArtifactCorrupt},
		{"no weights", "", `{"format":"noshow.linear/v1","features":["age"]}`, model.IsArtifactCorrupt},
		{"undeclared weight", "", `{"format":"noshow.linear/v1","features":["age"],"weights":{"handicap":1}}`, model.IsArtifactCorrupt},
		{"bad threshold", "", `{"format":"noshow.linear/v1","features":["age"],"weights":{"age":1},"threshold":1.5}`, model.IsArtifactCorrupt},
		{"backward child", "", `{"format":"noshow.trees/v1","features":["age"],"trees":[{"nodes":[{"feature":"age","threshold":1,"yes":0,"no":1},{"leaf":1}]}]}`, model.IsArtifactCorrupt},
		{"child out of range", "", `{"format":"noshow.trees/v1","features":["age"],"trees":[{"nodes":[{"feature":"age","threshold":1,"yes":1,"no":5},{"leaf":1}]}]}`, model.IsArtifactCorrupt},
		{"empty tree", "", `{"format":"noshow.trees/v1","features":["age"],"trees":[{"nodes":[]}]}`, model.IsArtifactCorrupt},
		{"unknown features", "", `{"format":"noshow.linear/v1","features":["age","blood_type"],"weights":{"age":1}}`, model.IsIncompatibleSchema},
		{"no features", "", `{"format":"noshow.linear/v1","features":[],"weights":{"age":1}}`, model.IsIncompatibleSchema},
	}
	l := New(Config{})
	for i, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			src := c.source
			if src == "" {
				src = writeArtifact(t, dir, "case"+string(rune('a'+i))+".json", c.body)
			}
			h, err := l.Load(context.Background(), ref(src))
			if h != nil || !c.check(err) {
				t.Fatalf("unexpected result h=%v err=%v (%s)", h, err, model.Kind(err))
			}
		})
	}
}

func TestLoad_IncompatibleSchemaNamesFeatures(t *testing.T) {
	_, err := Decode("x", []byte(`{"format":"noshow.linear/v1","features":["zeta","age","alpha"],"weights":{"age":1}}`))
	if !model.IsIncompatibleSchema(err) {
		t.Fatalf("expected IncompatibleSchema, got %v", err)
	}
	if !strings.Contains(err.Error(), "alpha, zeta") {
		t.Fatalf("error should list unknown features: %v", err)
	}
}

func TestLoad_CustomFetcher(t *testing.T) {
	l := New(Config{Fetchers: map[string]Fetcher{"mem": memFetcher(linearJSON)}})
	if _, err := l.Load(context.Background(), ref("mem://artifact")); err != nil {
		t.Fatalf("load via custom fetcher: %v", err)
	}
}
