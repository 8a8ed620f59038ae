package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"noshowd/internal/gateway"
)

// EventSource hands out subscriptions to gateway lifecycle events.
type EventSource interface {
	Subscribe() (<-chan gateway.Event, func())
}

var eventSource EventSource

// SetEventSource enables GET /events. With no source the route answers 404.
func SetEventSource(s EventSource) { eventSource = s }

const eventWriteTimeout = 5 * time.Second

// eventsHandler streams gateway events as JSON text frames until the client
// goes away or the server shuts down.
func eventsHandler(w http.ResponseWriter, r *http.Request) {
	src := eventSource
	if src == nil {
		writeJSONError(w, http.StatusNotFound, "event stream disabled")
		return
	}
	// subscribe before the handshake so nothing published after it is missed
	events, unsubscribe := src.Subscribe()
	defer unsubscribe()

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: corsEnabled && containsWildcard(corsAllowedOrigins),
		OriginPatterns:     originPatterns(),
	})
	if err != nil {
		zlog.Debug().Err(err).Msg("events: websocket accept failed")
		return
	}
	defer c.CloseNow()

	ctx, cancel := requestContext(r)
	defer cancel()
	// clients never send; CloseRead handles control frames and cancels on close
	ctx = c.CloseRead(ctx)

	for {
		select {
		case <-ctx.Done():
			c.Close(websocket.StatusGoingAway, "shutting down")
			return
		case ev, ok := <-events:
			if !ok {
				c.Close(websocket.StatusNormalClosure, "")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(wctx, c, ev.Wire())
			wcancel()
			if err != nil {
				zlog.Debug().Err(err).Msg("events: write failed")
				return
			}
		}
	}
}

func originPatterns() []string {
	if !corsEnabled {
		return nil
	}
	var out []string
	for _, o := range corsAllowedOrigins {
		if o == "*" {
			continue
		}
		out = append(out, stripScheme(o))
	}
	return out
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func stripScheme(origin string) string {
	for _, p := range []string{"https://", "http://"} {
		if len(origin) > len(p) && origin[:len(p)] == p {
			return origin[len(p):]
		}
	}
	return origin
}
