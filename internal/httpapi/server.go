package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"noshowd/internal/model"
	"noshowd/pkg/types"
)

// Service is the contract the HTTP layer needs from the serving gateway.
type Service interface {
	Health() types.HealthStatus
	Status() types.StatusResponse
	Ready() bool
	Predict(ctx context.Context, req types.PredictionRequest) (types.PredictionResponse, error)
	Reload(ctx context.Context) (types.ReloadResult, error)
}

// NewMux wires the HTTP routes for svc.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(Tracing)
	r.Use(RequestLogger)
	r.Use(MetricsMiddleware)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}

	// the websocket handshake needs an unwrapped writer, so compression is
	// limited to the JSON routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, svc.Health())
		})

		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, svc.Status())
		})

		r.Post("/predict", predictHandler(svc))
		r.Post("/reload-model", reloadHandler(svc))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no model loaded"))
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/events", eventsHandler)

	return r
}

func predictHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isJSON(r.Header.Get("Content-Type")) {
			IncrementRejection("media_type")
			writeJSONError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.PredictionRequest
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&req); err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		ctx, cancel := requestContext(r)
		defer cancel()
		resp, err := svc.Predict(ctx, req)
		if err != nil {
			if status := writeError(w, err); status >= 500 {
				zlog.Error().Err(err).Str("kind", model.Kind(err)).Msg("predict failed")
			}
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func reloadHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reloadToken != "" && !bearerMatches(r.Header.Get("Authorization"), reloadToken) {
			IncrementRejection("unauthorized")
			w.Header().Set("WWW-Authenticate", `Bearer realm="noshowd"`)
			writeJSONError(w, http.StatusUnauthorized, "missing or invalid reload token")
			return
		}
		// a reload outlives its caller; the gateway bounds it with its own timeout
		ctx, cancel := detachedContext(r)
		defer cancel()
		res, err := svc.Reload(ctx)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, res)
		case model.IsReloadInProgress(err):
			IncrementRejection("reload_in_progress")
			writeJSON(w, http.StatusConflict, res)
		default:
			if res.Error == "" {
				res.Error = err.Error()
			}
			zlog.Warn().Err(err).Str("kind", model.Kind(err)).Str("op_id", res.OperationID).Msg("reload failed")
			writeJSON(w, http.StatusInternalServerError, res)
		}
	}
}

func isJSON(ct string) bool {
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func bearerMatches(header, want string) bool {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return false
	}
	got := strings.TrimSpace(header[len(prefix):])
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
