package offline

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
)

// API is the loopback HTTP surface the foreground UI talks to.
type API struct {
	interceptor *Interceptor
	replayer    *Replayer
	status      *Status
	logger      *slog.Logger
}

// NewAPI builds the loopback API.
func NewAPI(interceptor *Interceptor, replayer *Replayer, status *Status, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{interceptor: interceptor, replayer: replayer, status: status, logger: logger}
}

type mutationRequest struct {
	Method         string            `json:"method" validate:"required,oneof=POST PUT PATCH DELETE post put patch delete"`
	Target         string            `json:"target" validate:"required,startswith=/"`
	Body           json.RawMessage   `json:"body"`
	Headers        map[string]string `json:"headers"`
	IdempotencyKey string            `json:"idempotency_key" validate:"omitempty,uuid"`
	Description    string            `json:"description" validate:"max=255"`
}

// Routes returns the router.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Post("/mutations", a.handleMutation)
	r.Get("/status", a.handleStatus)
	r.Post("/sync", a.handleSync)
	return r
}

func (a *API) handleMutation(w http.ResponseWriter, r *http.Request) {
	var req mutationRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body []byte
	if len(req.Body) > 0 && string(req.Body) != "null" {
		body = req.Body
	}
	res, err := a.interceptor.Do(r.Context(), Mutation{
		Method:         req.Method,
		Target:         req.Target,
		Headers:        req.Headers,
		Body:           body,
		IdempotencyKey: req.IdempotencyKey,
		Description:    req.Description,
	})
	if err != nil {
		a.logger.Error("mutation", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if res.Queued {
		httpx.JSON(w, http.StatusAccepted, res)
		return
	}
	if ct := res.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(res.StatusCode)
	_, _ = w.Write(res.Body)
}

func (a *API) handleStatus(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, a.status.Snapshot())
}

func (a *API) handleSync(w http.ResponseWriter, _ *http.Request) {
	a.replayer.Kick()
	httpx.JSON(w, http.StatusAccepted, map[string]bool{"kicked": true})
}
