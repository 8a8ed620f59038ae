package registry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"noshowd/internal/model"
	"noshowd/pkg/types"
)

// DefaultRedisPrefix namespaces all registry keys.
const DefaultRedisPrefix = "noshowd"

// maxTxRetries bounds optimistic transaction retries on concurrent writers.
const maxTxRetries = 5

// RedisBackend keeps versions in a hash per model:
//
//	<prefix>:models:<name>      field=version value=JSON types.ModelVersion
//	<prefix>:models:<name>:seq  counter used to assign versions
//	<prefix>:promotions         pub/sub channel for PromotionMessage
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

// PromotionMessage is published after a version is moved to Production.
type PromotionMessage struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Version    string `json:"version"`
	Stage      string `json:"stage"`
	TimeUnixMS int64  `json:"time_unix_ms"`
}

// NewRedisBackend connects to addr (host:port or redis URL) and pings it.
func NewRedisBackend(ctx context.Context, addr, prefix string) (*RedisBackend, error) {
	opts, err := parseRedisURL(addr)
	if err != nil {
		return nil, err
	}
	c := redis.NewUniversalClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, model.ErrRegistryUnavailable(err)
	}
	return NewRedisBackendFromClient(c, prefix), nil
}

// NewRedisBackendFromClient wraps an existing client.
func NewRedisBackendFromClient(c redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBackend{client: c, prefix: prefix}
}

// parseRedisURL parses addr into UniversalOptions supporting single, cluster,
// and sentinel Redis deployments. If no scheme is present, addr is treated as
// a plain host:port string.
func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	opts := &redis.UniversalOptions{}
	if u.User != nil {
		opts.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
	}
	opts.Addrs = strings.Split(u.Host, ",")

	q := u.Query()
	parseDB := func(s string) error {
		db, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("redis: invalid db: %v", err)
		}
		opts.DB = db
		return nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	switch u.Scheme {
	case "redis", "rediss":
		if p := strings.TrimPrefix(u.Path, "/"); p != "" {
			if err := parseDB(p); err != nil {
				return nil, err
			}
		} else if s := q.Get("db"); s != "" {
			if err := parseDB(s); err != nil {
				return nil, err
			}
		}
		if u.Scheme == "rediss" {
			opts.TLSConfig = tlsCfg
		}
	case "redis-sentinel", "rediss-sentinel":
		opts.MasterName = strings.TrimPrefix(u.Path, "/")
		if s := q.Get("db"); s != "" {
			if err := parseDB(s); err != nil {
				return nil, err
			}
		}
		opts.SentinelUsername = q.Get("sentinel_username")
		opts.SentinelPassword = q.Get("sentinel_password")
		if u.Scheme == "rediss-sentinel" {
			opts.TLSConfig = tlsCfg
		}
	default:
		return nil, fmt.Errorf("redis: invalid URL scheme: %s", u.Scheme)
	}
	return opts, nil
}

func (r *RedisBackend) key(name string) string { return r.prefix + ":models:" + name }

// PromotionChannel is the pub/sub channel promotions are announced on.
func (r *RedisBackend) PromotionChannel() string { return r.prefix + ":promotions" }

// Subscribe opens a subscription to the promotion channel.
func (r *RedisBackend) Subscribe(ctx context.Context) *redis.PubSub {
	return r.client.Subscribe(ctx, r.PromotionChannel())
}

func decodeVersions(name string, raw map[string]string) ([]types.ModelVersion, error) {
	out := make([]types.ModelVersion, 0, len(raw))
	for field, val := range raw {
		var v types.ModelVersion
		if err := json.Unmarshal([]byte(val), &v); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", name, field, err)
		}
		v.Name = name
		v.Version = field
		v.Stage = normalizeStage(v.Stage)
		out = append(out, v)
	}
	return out, nil
}

// ListVersions reads the model hash.
func (r *RedisBackend) ListVersions(ctx context.Context, name string) ([]types.ModelVersion, error) {
	raw, err := r.client.HGetAll(ctx, r.key(name)).Result()
	if err != nil {
		return nil, model.ErrRegistryUnavailable(err)
	}
	return decodeVersions(name, raw)
}

// Register stores v. Auto-assigned versions come from the seq counter and
// skip numbers already taken by explicitly registered versions.
func (r *RedisBackend) Register(ctx context.Context, v types.ModelVersion) (string, error) {
	if v.Name == "" {
		return "", errors.New("model name is required")
	}
	stage, err := model.ParseStage(v.Stage)
	if err != nil {
		return "", err
	}
	v.Stage = string(stage)
	if v.CreatedAtMS == 0 {
		v.CreatedAtMS = time.Now().UnixMilli()
	}
	explicit := v.Version != ""
	for attempt := 0; attempt < 1000; attempt++ {
		if !explicit {
			n, err := r.client.Incr(ctx, r.key(v.Name)+":seq").Result()
			if err != nil {
				return "", err
			}
			v.Version = strconv.FormatInt(n, 10)
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		ok, err := r.client.HSetNX(ctx, r.key(v.Name), v.Version, b).Result()
		if err != nil {
			return "", err
		}
		if ok {
			return v.Version, nil
		}
		if explicit {
			return "", fmt.Errorf("version %s of %s already exists", v.Version, v.Name)
		}
	}
	return "", fmt.Errorf("could not assign a version for %s", v.Name)
}

// Transition updates stages inside a WATCH/MULTI transaction so concurrent
// promotions cannot leave two Production versions behind.
func (r *RedisBackend) Transition(ctx context.Context, name, version string, stage model.Stage, archiveExisting bool) error {
	key := r.key(name)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if _, ok := raw[version]; !ok {
			return model.ErrModelNotFound(name + "/" + version)
		}
		vs, err := decodeVersions(name, raw)
		if err != nil {
			return err
		}
		updates := make(map[string]any)
		for _, v := range vs {
			switch {
			case v.Version == version:
				v.Stage = string(stage)
			case stage == model.StageProduction && archiveExisting && v.Stage == string(model.StageProduction):
				v.Stage = string(model.StageArchived)
			default:
				continue
			}
			b, err := json.Marshal(v)
			if err != nil {
				return err
			}
			updates[v.Version] = b
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, updates)
			return nil
		})
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("transition %s/%s: too many concurrent updates", name, version)
}

// NotifyPromotion publishes a PromotionMessage on the promotion channel.
func (r *RedisBackend) NotifyPromotion(ctx context.Context, name, version string, stage model.Stage) error {
	b, err := json.Marshal(PromotionMessage{
		ID:         uuid.NewString(),
		Name:       name,
		Version:    version,
		Stage:      string(stage),
		TimeUnixMS: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.PromotionChannel(), b).Err()
}

// Close closes the redis client.
func (r *RedisBackend) Close() error { return r.client.Close() }
