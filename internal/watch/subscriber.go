package watch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"noshowd/internal/model"
	"noshowd/internal/registry"
)

// PromotionSource opens a subscription to promotion announcements.
type PromotionSource interface {
	Subscribe(ctx context.Context) *redis.PubSub
}

// Subscriber reloads the target whenever a promotion of its model is
// announced.
type Subscriber struct {
	target Target
	source PromotionSource
	log    zerolog.Logger
}

func NewSubscriber(target Target, source PromotionSource, log zerolog.Logger) *Subscriber {
	return &Subscriber{target: target, source: source, log: log}
}

// Retry delays between subscription attempts.
const (
	minRetryDelay = 500 * time.Millisecond
	maxRetryDelay = 30 * time.Second
)

// Run blocks until ctx is canceled. A broken subscription is reopened with
// exponential backoff; promotions announced while it is down are missed,
// which the poller covers when enabled.
func (s *Subscriber) Run(ctx context.Context) error {
	delay := minRetryDelay
	for {
		started, err := s.listen(ctx)
		if ctx.Err() != nil {
			s.log.Info().Msg("promotion subscriber stopped")
			return nil
		}
		if started {
			delay = minRetryDelay
		}
		s.log.Warn().Err(err).Dur("retry_in", delay).Msg("promotion subscription lost")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if delay *= 2; delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

// listen consumes one subscription until it breaks. started reports whether
// the subscription was confirmed by the server.
func (s *Subscriber) listen(ctx context.Context) (started bool, err error) {
	sub := s.source.Subscribe(ctx)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return false, err
	}
	s.log.Info().Str("model", s.target.ModelName()).Msg("promotion subscriber started")
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return true, errors.New("subscription channel closed")
			}
			s.handle(ctx, msg.Payload)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, payload string) {
	var pm registry.PromotionMessage
	if err := json.Unmarshal([]byte(payload), &pm); err != nil {
		s.log.Warn().Err(err).Msg("ignoring malformed promotion message")
		return
	}
	if pm.Name != s.target.ModelName() {
		return
	}
	s.log.Info().Str("id", pm.ID).Str("version", pm.Version).Str("stage", pm.Stage).Msg("promotion announced; reloading")
	s.reload(ctx, pm.ID)
}

// busyRetryDelay is how often a promotion re-attempts its reload while
// another one holds the gateway.
var busyRetryDelay = 50 * time.Millisecond

// reload retries while another reload is in flight: that reload may have
// resolved the registry before the promotion and would miss it.
func (s *Subscriber) reload(ctx context.Context, id string) {
	for {
		_, err := s.target.Reload(ctx)
		switch {
		case err == nil:
			return
		case !model.IsReloadInProgress(err):
			s.log.Warn().Err(err).Str("id", id).Msg("reload after promotion failed")
			return
		}
		s.log.Debug().Str("id", id).Msg("reload in progress; promotion waits")
		select {
		case <-ctx.Done():
			return
		case <-time.After(busyRetryDelay):
		}
	}
}
