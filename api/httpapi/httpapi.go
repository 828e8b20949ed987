package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	wsadapter "loyaltykit/adapters/websocket"
	"loyaltykit/core"
	"loyaltykit/engine"
	"loyaltykit/leaderboard"
	"loyaltykit/realtime"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// Leaderboard, if set, is served at /leaderboard.
	Leaderboard leaderboard.Board
	// MaxBodyBytes caps request bodies. Zero means 1 MiB.
	MaxBodyBytes int64
	// WSAllowedOrigins restricts websocket upgrades by Origin. Empty allows all.
	WSAllowedOrigins []string
	Logger           *zap.Logger
}

type api struct {
	svc   *engine.LoyaltyService
	board leaderboard.Board
	log   *zap.Logger
	limit int64
}

// NewMux builds the REST API and WebSocket stream.
// Routes:
//   - POST {prefix}/users                     {"user_id":"alice"}
//   - GET  {prefix}/users/{id}
//   - GET  {prefix}/users/{id}/level
//   - POST {prefix}/users/{id}/actions        {"type":"purchase","payload":{...}}
//   - GET  {prefix}/users/{id}/metadata
//   - GET  {prefix}/users/{id}/perks?brand=
//   - POST {prefix}/users/{id}/mint
//   - GET  {prefix}/levels
//   - GET  {prefix}/leaderboard?limit=10
//   - GET  {prefix}/healthz
//   - WS   {prefix}/ws?user=
func NewMux(svc *engine.LoyaltyService, hub *realtime.Hub, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	a := &api{svc: svc, board: opts.Leaderboard, log: log, limit: opts.MaxBodyBytes}
	if a.limit <= 0 {
		a.limit = 1 << 20
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLog(log))
	if opts.AllowCORSOrigin != "" {
		r.Use(func(next http.Handler) http.Handler { return withCORS(next, opts.AllowCORSOrigin) })
	}

	mount := func(r chi.Router) {
		r.Get("/healthz", a.healthCheck)

		r.Group(func(r chi.Router) {
			if len(opts.APIKeys) > 0 {
				r.Use(func(next http.Handler) http.Handler { return withAPIKeyAuth(next, opts.APIKeys) })
			}
			if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
				r.Use(func(next http.Handler) http.Handler {
					return withRateLimit(next, opts.RateLimitRPM, opts.RateLimitBurst)
				})
			}

			if hub != nil {
				r.Handle("/ws", wsadapter.HandlerWithOptions(hub, wsadapter.Options{AllowedOrigins: opts.WSAllowedOrigins, Logger: log}))
			}
			r.Post("/users", a.register)
			r.Route("/users/{id}", func(r chi.Router) {
				r.Get("/", a.getVector)
				r.Get("/level", a.getLevel)
				r.Post("/actions", a.processAction)
				r.Get("/metadata", a.getMetadata)
				r.Get("/perks", a.getPerks)
				r.Post("/mint", a.mint)
			})
			r.Get("/levels", a.levels)
			r.Get("/leaderboard", a.leaderboard)
		})
	}

	if p := trimPrefix(opts.PathPrefix); p != "" {
		r.Route(p, mount)
	} else {
		mount(r)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})
	return r
}

func (a *api) register(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID core.UserID `json:"user_id"`
	}
	if !a.decode(w, r, &body) {
		return
	}
	v, err := a.svc.Register(r.Context(), body.UserID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *api) getVector(w http.ResponseWriter, r *http.Request) {
	v, err := a.svc.GetVector(r.Context(), userParam(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, v)
}

func (a *api) getLevel(w http.ResponseWriter, r *http.Request) {
	info, err := a.svc.GetLevel(r.Context(), userParam(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, info)
}

type actionRequest struct {
	Type    core.ActionType `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (a *api) processAction(w http.ResponseWriter, r *http.Request) {
	var body actionRequest
	if !a.decode(w, r, &body) {
		return
	}
	res, err := a.svc.ProcessActionJSON(r.Context(), userParam(r), body.Type, body.Payload)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (a *api) getMetadata(w http.ResponseWriter, r *http.Request) {
	d, err := a.svc.GetMetadata(r.Context(), userParam(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, d)
}

func (a *api) getPerks(w http.ResponseWriter, r *http.Request) {
	var (
		res []core.PerkEligibilityResult
		err error
	)
	if brand := r.URL.Query().Get("brand"); brand != "" {
		res, err = a.svc.GetPerkEligibilityForBrand(r.Context(), userParam(r), brand)
	} else {
		res, err = a.svc.GetPerkEligibility(r.Context(), userParam(r))
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"perks": res})
}

func (a *api) mint(w http.ResponseWriter, r *http.Request) {
	receipt, err := a.svc.RequestMint(r.Context(), userParam(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, receipt)
}

func (a *api) levels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"levels": a.svc.RuleTable().Levels()})
}

func (a *api) leaderboard(w http.ResponseWriter, r *http.Request) {
	if a.board == nil {
		writeError(w, http.StatusNotFound, "not_found", "leaderboard disabled", nil)
		return
	}
	limit := 10
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 1000", nil)
			return
		}
		limit = n
	}
	writeJSON(w, map[string]any{"entries": a.board.TopN(limit)})
}

// healthCheck verifies the store answers.
func (a *api) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{"storage": "ok"},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := a.svc.Ping(r.Context()); err != nil {
		a.log.Warn("health check failed", zap.Error(err))
		status["status"] = "unhealthy"
		status["checks"].(map[string]any)["storage"] = "failed"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(status)
}

func (a *api) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.limit))
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large", nil)
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "invalid_input", "empty request body", nil)
		default:
			writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON: "+err.Error(), nil)
		}
		return false
	}
	return true
}

// fail maps error kinds onto HTTP statuses. Internal details of configuration
// and transient errors are logged, not returned.
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := core.KindOf(err)
	switch kind {
	case core.KindInvalidInput:
		writeError(w, http.StatusBadRequest, string(kind), err.Error(), nil)
	case core.KindNotFound:
		writeError(w, http.StatusNotFound, string(kind), err.Error(), nil)
	case core.KindConflict:
		writeError(w, http.StatusConflict, string(kind), err.Error(), nil)
	case core.KindTransient:
		a.log.Warn("transient failure", zap.String("path", r.URL.Path), zap.Error(err))
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, string(kind), "temporarily unavailable, retry later", nil)
	default:
		a.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func userParam(r *http.Request) core.UserID { return core.UserID(chi.URLParam(r, "id")) }

func trimPrefix(prefix string) string {
	if prefix == "" || prefix == "/" {
		return ""
	}
	if prefix[len(prefix)-1] == '/' {
		prefix = prefix[:len(prefix)-1]
	}
	if prefix[0] != '/' {
		prefix = "/" + prefix
	}
	return prefix
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Code: code, Message: msg, Details: details})
}

func requestLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())))
		})
	}
}
