package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"noshowd/internal/model"
	"noshowd/pkg/types"
)

func newRedisBackend(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rb, err := NewRedisBackend(context.Background(), mr.Addr(), "test")
	if err != nil {
		t.Fatalf("NewRedisBackend: %v", err)
	}
	t.Cleanup(func() { _ = rb.Close() })
	return rb, mr
}

func TestRedisBackend_RegisterListTransition(t *testing.T) {
	rb, mr := newRedisBackend(t)
	ctx := context.Background()

	v1, err := rb.Register(ctx, types.ModelVersion{Name: "m", Source: "https://a/1.json", Stage: "Production"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	v2, err := rb.Register(ctx, types.ModelVersion{Name: "m", Source: "https://a/2.json", Metrics: map[string]float64{"auc": 0.9}})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if v1 != "1" || v2 != "2" {
		t.Fatalf("versions = %s,%s; want 1,2", v1, v2)
	}
	if !mr.Exists("test:models:m") {
		t.Fatalf("hash key missing")
	}

	if err := rb.Transition(ctx, "m", v2, model.StageProduction, true); err != nil {
		t.Fatalf("transition: %v", err)
	}
	vs, err := rb.ListVersions(ctx, "m")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	SortVersions(vs)
	if len(vs) != 2 || vs[0].Stage != "Archived" || vs[1].Stage != "Production" {
		t.Fatalf("unexpected versions: %+v", vs)
	}
	if vs[1].Metrics["auc"] != 0.9 {
		t.Fatalf("metrics lost: %+v", vs[1])
	}

	ref, err := NewClient(rb, testLogger()).ResolveProduction(ctx, "m")
	if err != nil || ref.Version != "2" {
		t.Fatalf("resolve = %+v err=%v", ref, err)
	}
}

func TestRedisBackend_RegisterSkipsTakenVersions(t *testing.T) {
	rb, _ := newRedisBackend(t)
	ctx := context.Background()
	if _, err := rb.Register(ctx, types.ModelVersion{Name: "m", Version: "1"}); err != nil {
		t.Fatalf("register explicit: %v", err)
	}
	if _, err := rb.Register(ctx, types.ModelVersion{Name: "m", Version: "1"}); err == nil {
		t.Fatalf("expected duplicate error")
	}
	got, err := rb.Register(ctx, types.ModelVersion{Name: "m"})
	if err != nil || got != "2" {
		t.Fatalf("auto version = %q err=%v; want 2", got, err)
	}
}

func TestRedisBackend_TransitionUnknownVersion(t *testing.T) {
	rb, _ := newRedisBackend(t)
	err := rb.Transition(context.Background(), "m", "9", model.StageProduction, false)
	if !model.IsModelNotFound(err) {
		t.Fatalf("expected ModelNotFound, got %v", err)
	}
}

func TestRedisBackend_UnknownModelIsEmpty(t *testing.T) {
	rb, _ := newRedisBackend(t)
	vs, err := rb.ListVersions(context.Background(), "nope")
	if err != nil || len(vs) != 0 {
		t.Fatalf("want empty, got %v err=%v", vs, err)
	}
}

func TestRedisBackend_UnavailableAfterServerStops(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rb, err := NewRedisBackend(context.Background(), mr.Addr(), "")
	if err != nil {
		t.Fatalf("NewRedisBackend: %v", err)
	}
	defer rb.Close()
	mr.Close()
	_, err = rb.ListVersions(context.Background(), "m")
	if !model.IsRegistryUnavailable(err) {
		t.Fatalf("expected RegistryUnavailable, got %v", err)
	}
}

func TestRedisBackend_NotifyPromotion(t *testing.T) {
	rb, _ := newRedisBackend(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := rb.Subscribe(ctx)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := rb.NotifyPromotion(ctx, "m", "4", model.StageProduction); err != nil {
		t.Fatalf("notify: %v", err)
	}
	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if msg.Channel != "test:promotions" {
		t.Fatalf("channel = %q", msg.Channel)
	}
	var pm PromotionMessage
	if err := json.Unmarshal([]byte(msg.Payload), &pm); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pm.Name != "m" || pm.Version != "4" || pm.Stage != "Production" || pm.ID == "" {
		t.Fatalf("unexpected message %+v", pm)
	}
}

func TestParseRedisURL(t *testing.T) {
	tests := []struct {
		url    string
		addrs  int
		master string
		db     int
		tls    bool
	}{
		{"localhost:6379", 1, "", 0, false},
		{"redis://:pass@localhost:6379/1", 1, "", 1, false},
		{"rediss://host1:6379,host2:6379/0", 2, "", 0, true},
		{"redis-sentinel://localhost:26379/mymaster?db=2", 1, "mymaster", 2, false},
	}
	for _, tt := range tests {
		opts, err := parseRedisURL(tt.url)
		if err != nil {
			t.Fatalf("parseRedisURL(%q): %v", tt.url, err)
		}
		if len(opts.Addrs) != tt.addrs {
			t.Fatalf("%q addrs = %d; want %d", tt.url, len(opts.Addrs), tt.addrs)
		}
		if opts.MasterName != tt.master {
			t.Fatalf("%q master = %q; want %q", tt.url, opts.MasterName, tt.master)
		}
		if opts.DB != tt.db {
			t.Fatalf("%q db = %d; want %d", tt.url, opts.DB, tt.db)
		}
		if (opts.TLSConfig != nil) != tt.tls {
			t.Fatalf("%q tls = %v; want %v", tt.url, opts.TLSConfig != nil, tt.tls)
		}
	}
	if _, err := parseRedisURL("memcache://x"); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestOpen_RedisLazyConnect(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	ctx := context.Background()
	if _, err := Open(ctx, "redis://"+addr, Options{}); !model.IsRegistryUnavailable(err) {
		t.Fatalf("eager open: want RegistryUnavailable, got %v", err)
	}
	s, err := Open(ctx, "redis://"+addr, Options{LazyConnect: true})
	if err != nil {
		t.Fatalf("lazy open: %v", err)
	}
	defer s.Close()
	if _, err := s.ListVersions(ctx, "m"); !model.IsRegistryUnavailable(err) {
		t.Fatalf("want RegistryUnavailable on first use, got %v", err)
	}
}
