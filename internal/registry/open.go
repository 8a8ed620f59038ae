package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options tunes the backends Open may construct.
type Options struct {
	RedisPrefix string
	MLflowToken string
	HTTPTimeout time.Duration
	// LazyConnect skips the initial redis ping; an unreachable server then
	// surfaces as RegistryUnavailable on first use.
	LazyConnect bool
}

// Open selects a backend from the scheme of uri:
//
//	file:///path, bare path                 file tree
//	redis://, rediss://, redis-sentinel://  redis hash store
//	http://, https://                       MLflow tracking server
func Open(ctx context.Context, uri string, opts Options) (Store, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, errors.New("registry uri is required")
	}
	if !strings.Contains(uri, "://") {
		return openFile(uri)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse registry uri: %w", err)
	}
	switch u.Scheme {
	case "file":
		p := u.Path
		if u.Host != "" && u.Host != "localhost" {
			p = u.Host + p
		}
		return openFile(p)
	case "redis", "rediss", "redis-sentinel", "rediss-sentinel":
		if opts.LazyConnect {
			ro, err := parseRedisURL(uri)
			if err != nil {
				return nil, err
			}
			return NewRedisBackendFromClient(redis.NewUniversalClient(ro), opts.RedisPrefix), nil
		}
		rb, err := NewRedisBackend(ctx, uri, opts.RedisPrefix)
		if err != nil {
			return nil, err
		}
		return rb, nil
	case "http", "https":
		return NewMLflowBackend(uri, opts.MLflowToken, opts.HTTPTimeout), nil
	default:
		return nil, fmt.Errorf("unsupported registry scheme %q", u.Scheme)
	}
}

func openFile(dir string) (Store, error) {
	fb, err := NewFileBackend(dir)
	if err != nil {
		return nil, err
	}
	return fb, nil
}
