package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/odyssey-erp/odyssey-pos/internal/observability"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Headers injected by the upstream auth gateway and the device agent.
const (
	HeaderStoreID        = "X-Store-ID"
	HeaderActorID        = "X-Actor-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// IdempotencyGuard records request keys: claimed on start, completed on
// success, deleted on failure.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Complete(ctx context.Context, key string) error
	Delete(ctx context.Context, key string) error
}

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the server middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}
	limit := 600
	if cfg.Config != nil && cfg.Config.RateLimitPerMin > 0 {
		limit = cfg.Config.RateLimitPerMin
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		httprate.Limit(limit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, cfg.Metrics.Middleware)
	}
	return middlewares
}

// StoreContext trusts the gateway identity headers and places a
// shared.StoreContext in the request context. Missing or malformed headers
// yield 401.
func StoreContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		storeID, err := strconv.ParseInt(r.Header.Get(HeaderStoreID), 10, 64)
		if err != nil || storeID <= 0 {
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		actorID, err := strconv.ParseInt(r.Header.Get(HeaderActorID), 10, 64)
		if err != nil || actorID <= 0 {
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		ctx := shared.ContextWithStore(r.Context(), shared.StoreContext{ActorID: actorID, StoreID: storeID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Idempotency refuses a mutating request whose Idempotency-Key already
// succeeded with 409 {"duplicate":true}. A key still held by a running request
// is answered with 425 so the client retries later. Requests that fail with
// status >= 400 release their key; requests without a key pass through.
func Idempotency(guard IdempotencyGuard, metrics *observability.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderIdempotencyKey)
			if guard == nil || key == "" || !isMutation(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			if err := guard.CheckAndInsert(r.Context(), key, r.Method+" "+r.URL.Path); err != nil {
				switch {
				case errors.Is(err, shared.ErrIdempotencyConflict):
					metrics.ObserveDuplicate(r)
					httpx.JSON(w, http.StatusConflict, map[string]any{"error": "duplicate", "duplicate": true})
				case errors.Is(err, shared.ErrIdempotencyInProgress):
					w.Header().Set("Retry-After", "1")
					httpx.JSON(w, http.StatusTooEarly, map[string]any{"error": "in_progress"})
				default:
					logger.Error("idempotency check", slog.Any("error", err))
					httpx.RespondError(w, err)
				}
				return
			}
			// The request context may already be cancelled when the key settles.
			settleCtx := context.WithoutCancel(r.Context())
			release := func() {
				if err := guard.Delete(settleCtx, key); err != nil {
					logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
				}
			}
			defer func() {
				if rec := recover(); rec != nil {
					release()
					panic(rec)
				}
			}()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if ww.Status() >= http.StatusBadRequest {
				release()
				return
			}
			if err := guard.Complete(settleCtx, key); err != nil {
				logger.Error("complete idempotency key", slog.String("key", key), slog.Any("error", err))
			}
		})
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
