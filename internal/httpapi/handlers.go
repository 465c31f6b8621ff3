package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"relaygate.org/internal/access"
	"relaygate.org/internal/audit"
	"relaygate.org/internal/events"
	"relaygate.org/internal/intake"
	"relaygate.org/internal/obs"
)

// ReadyProbe — простая проверка готовности (ping БД, если она подключена).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API — HTTP слой поверх резолвера доступа и приёма сообщений.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	resolver  *access.Resolver
	accessSvc *access.Service
	intake    *intake.Service
	stream    *events.Stream

	rateBurst    int
	ratePerSec   int
	maxBodyBytes int64
}

func New(rp ReadyProbe, version string, resolver *access.Resolver, accessSvc *access.Service, intakeSvc *intake.Service, stream *events.Stream) *API {
	a := &API{
		mux:          http.NewServeMux(),
		readyProbe:   rp,
		version:      version,
		resolver:     resolver,
		accessSvc:    accessSvc,
		intake:       intakeSvc,
		stream:       stream,
		rateBurst:    20,
		ratePerSec:   10,
		maxBodyBytes: 1 << 20,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// service tokens
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// core operations
	a.mux.HandleFunc("/v1/access/resolve", a.handleResolve)
	a.mux.HandleFunc("/v1/messages", a.handleMessagesCollection)
	a.mux.HandleFunc("/v1/messages/", a.handleMessageResource)

	// administrative surface
	a.mux.Handle("/v1/accounts", RequireRole("admin")(http.HandlerFunc(a.handleAccountsCollection)))
	a.mux.Handle("/v1/accounts/", RequireRole("admin")(http.HandlerFunc(a.handleAccountResource)))
	a.mux.Handle("/v1/grants", RequireRole("admin")(http.HandlerFunc(a.handleGrantsCollection)))
	a.mux.Handle("/v1/grants/", RequireRole("admin")(http.HandlerFunc(a.handleGrantResource)))

	// message lifecycle stream
	a.mux.HandleFunc("/v1/events", a.Stream)

	// корень — 404
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// SetLimits overrides the default rate and body limits before Handler is built.
func (a *API) SetLimits(burst, perSec int, maxBodyBytes int64) {
	if burst > 0 {
		a.rateBurst = burst
	}
	if perSec > 0 {
		a.ratePerSec = perSec
	}
	if maxBodyBytes > 0 {
		a.maxBodyBytes = maxBodyBytes
	}
}

// Handler возвращает http.Handler со всей цепочкой middleware.
func (a *API) Handler() http.Handler {
	h := obs.Instrument(a.mux)
	h = a.withAuth(h)
	h = LoggingJSON(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = RequestID(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = CORS(h)
	h = SecurityHeaders(h)
	return h
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "relaygate-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
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
		"name":    "relaygate-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) audit(ctx context.Context, event, resourceType, resourceID string, fields map[string]any) {
	entry := map[string]any{
		"resource_type": resourceType,
		"resource_id":   resourceID,
	}
	for k, v := range fields {
		entry[k] = v
	}
	_ = audit.LogEvent(ctx, event, entry)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	body := map[string]any{"error": msg}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		body["request_id"] = rid
	}
	writeJSON(w, code, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer func() { _, _ = discardBody(r) }()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func discardBody(r *http.Request) (int64, error) {
	if r.Body == nil {
		return 0, nil
	}
	return 0, r.Body.Close()
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

// storeError maps infra vs not-found; both access and intake use the same shape.
func storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, access.ErrNotFound), errors.Is(err, intake.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, access.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, access.ErrInvalidInput), errors.Is(err, intake.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, intake.ErrInvalidPayload):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, intake.ErrConflict):
		writeError(w, r, http.StatusConflict, "message already in a terminal state")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
