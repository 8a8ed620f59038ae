package httpapi

import (
	"context"
	"net/http"
)

// serverBaseCtx is canceled on process shutdown. Defaults to Background.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level base context used by handlers.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// requestContext derives a context from r that is also canceled when the
// server base context ends, so shutdown aborts long reloads. The returned
// cancel func must be called when the handler ends.
func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return withBase(r.Context())
}

// detachedContext keeps r's values but not its cancellation: a client that
// goes away does not abort the work, only server shutdown does.
func detachedContext(r *http.Request) (context.Context, context.CancelFunc) {
	return withBase(context.WithoutCancel(r.Context()))
}

func withBase(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(serverBaseCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
