package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi"

	"assetdesk.org/internal/auth"
	"assetdesk.org/internal/events"
	"assetdesk.org/internal/inventory"
	"assetdesk.org/internal/obs"
)

const serviceName = "assetdesk-api"

// API is the HTTP layer over the inventory service.
type API struct {
	svc    *inventory.Service
	tokens *auth.Tokens
	events *events.Broker

	version      string
	corsOrigins  []string
	proxies      []*net.IPNet
	rateBurst    int
	ratePerSec   float64
	maxBodyBytes int64

	closing   chan struct{}
	closeOnce sync.Once
}

// Option configures the API.
type Option func(*API)

// WithVersion sets the version reported by /healthz and /v1/info.
func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithBroker enables the HR live event stream.
func WithBroker(b *events.Broker) Option {
	return func(a *API) { a.events = b }
}

// WithRateLimit sets the per-client token bucket.
func WithRateLimit(burst int, perSec float64) Option {
	return func(a *API) {
		if burst > 0 && perSec > 0 {
			a.rateBurst = burst
			a.ratePerSec = perSec
		}
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// WithCORSOrigins sets the allowed origins; "*" allows any.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

// WithTrustedProxies lists the proxies whose X-Forwarded-For header is used to
// identify clients for rate limiting.
func WithTrustedProxies(blocks []*net.IPNet) Option {
	return func(a *API) { a.proxies = blocks }
}

func New(svc *inventory.Service, tokens *auth.Tokens, opts ...Option) *API {
	a := &API{
		svc:          svc,
		tokens:       tokens,
		version:      "dev",
		corsOrigins:  []string{"*"},
		rateBurst:    40,
		ratePerSec:   20,
		maxBodyBytes: 1 << 20,
		closing:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Server returns an http.Server for the API. Open event streams are ended as
// soon as Shutdown starts, since Shutdown does not cancel active requests.
// WriteTimeout stays zero because /hr/events holds the response open.
func (a *API) Server(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(a.CloseStreams)
	return srv
}

// CloseStreams ends every open event stream and refuses new ones. It is safe
// to call more than once.
func (a *API) CloseStreams() {
	a.closeOnce.Do(func() { close(a.closing) })
}

// Handler builds the router wrapped with metrics.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID, LoggingJSON, Recover, SecurityHeaders, CORS(a.corsOrigins))
	r.Use(func(next http.Handler) http.Handler { return RateLimit(next, a.rateBurst, a.ratePerSec, a.proxies...) })
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.maxBodyBytes) })

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	// health/ready/info
	r.Get("/", a.Banner)
	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	authed := a.authenticated
	hr := chain(a.authenticated, a.hrOnly)

	r.Post("/jwt", a.handleIssueToken)

	r.Post("/users", a.createUser)
	r.Get("/users", a.guard(hr, a.listUsers))
	r.Get("/users/profile", a.guard(authed, a.profile))
	r.Patch("/users/profile", a.guard(authed, a.updateProfile))
	r.Get("/users/{email}", a.userByEmail)

	r.Post("/assets", a.guard(hr, a.createAsset))
	r.Get("/assets", a.guard(hr, a.searchAssets))
	r.Get("/assets/limited-stock", a.guard(hr, a.limitedStock))
	r.Get("/assets/{id}", a.getAsset)
	r.Patch("/assets/{id}", a.guard(hr, a.updateAsset))
	r.Delete("/assets/{id}", a.guard(hr, a.deleteAsset))

	r.Get("/employee/assets", a.guard(authed, a.employeeAssets))
	r.Get("/employee/my-pending-requests", a.guard(authed, a.myPendingRequests))
	r.Post("/requests", a.guard(authed, a.createRequest))

	r.Route("/hr", func(r chi.Router) {
		r.Get("/pending-requests", a.guard(hr, a.pendingRequests))
		r.Get("/top-requested-assets", a.guard(hr, a.topRequestedAssets))
		r.Get("/requests-type-stats", a.guard(hr, a.requestTypeStats))
		r.Get("/all-requests", a.guard(hr, a.allRequests))
		r.Patch("/approve-request/{id}", a.guard(hr, a.approveRequest))
		r.Patch("/reject-request/{id}", a.guard(hr, a.rejectRequest))
		r.Get("/stats", a.guard(hr, a.stats))
		r.Get("/events", a.guard(hr, a.Stream))

		r.Get("/employees", a.guard(hr, a.team))
		r.Get("/free-employees", a.guard(hr, a.freeEmployees))
		r.Get("/package-status", a.guard(hr, a.packageStatus))
		r.Patch("/add-employee/{id}", a.guard(hr, a.addEmployee))
		r.Patch("/add-selected-employees", a.guard(hr, a.addSelectedEmployees))
		r.Patch("/remove-employee/{id}", a.guard(hr, a.removeEmployee))
		r.Patch("/upgrade-package", a.guard(hr, a.upgradePackage))
	})

	return obs.Instrument(r)
}

// --- Handlers ---

// Banner answers the root path with a plain-text liveness line.
func (a *API) Banner(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "HR Manager is sitting")
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.svc.Ping(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// pathParam returns the decoded route parameter. chi matches on RawPath when
// the client escaped a character, leaving the value percent-encoded.
func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v, err := url.PathUnescape(chi.URLParam(r, name))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return v, true
}

// handleServiceError maps domain and auth errors onto HTTP statuses.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "forbidden access")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden access")
	case errors.Is(err, auth.ErrMissingEmail):
		writeError(w, r, http.StatusBadRequest, "email is required")
	case errors.Is(err, inventory.ErrTeamLimit):
		writeError(w, r, http.StatusForbidden, messageOf(err))
	case errors.Is(err, inventory.ErrNotFound):
		writeError(w, r, http.StatusNotFound, messageOf(err))
	case errors.Is(err, inventory.ErrAlreadyExists),
		errors.Is(err, inventory.ErrAlreadyProcessed),
		errors.Is(err, inventory.ErrInsufficientStock):
		writeError(w, r, http.StatusConflict, messageOf(err))
	case errors.Is(err, inventory.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, messageOf(err))
	case errors.Is(err, inventory.ErrUnavailable):
		logFailure(r, err)
		writeError(w, r, http.StatusServiceUnavailable, "service unavailable")
	default:
		logFailure(r, err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// messageOf returns the caller-facing text of a domain error. Driver detail
// wrapped around a bare sentinel is not exposed.
func messageOf(err error) string {
	var e *inventory.Error
	if errors.As(err, &e) {
		return e.Error()
	}
	for _, kind := range []error{
		inventory.ErrTeamLimit,
		inventory.ErrNotFound,
		inventory.ErrAlreadyExists,
		inventory.ErrAlreadyProcessed,
		inventory.ErrInsufficientStock,
		inventory.ErrInvalidInput,
	} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "internal error"
}
