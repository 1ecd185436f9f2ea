package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/finmesh/core"
	"github.com/hupe1980/finmesh/logging"
	"github.com/hupe1980/finmesh/runner"
)

// Request headers read by HeaderAuthenticator.
const (
	HeaderUserID       = "X-User-Id"
	HeaderOrganization = "X-Organization-Id"
	HeaderUserName     = "X-User-Name"
	HeaderLocale       = "X-User-Locale"
	HeaderCurrency     = "X-User-Currency"
	HeaderTimezone     = "X-User-Timezone"
	HeaderCountry      = "X-User-Country"
	HeaderCity         = "X-User-City"
	// HeaderTurnID carries the turn id on streaming responses.
	HeaderTurnID = "X-Turn-Id"
)

// maxBodyBytes bounds chat request bodies.
const maxBodyBytes = 1 << 20

// ErrUnauthenticated is returned by authenticators that find no caller.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves the caller of a request.
type Authenticator func(r *http.Request) (runner.User, error)

// HeaderAuthenticator reads the caller from request headers set by a trusted
// gateway.
func HeaderAuthenticator(r *http.Request) (runner.User, error) {
	h := r.Header
	user := runner.User{
		ID:             strings.TrimSpace(h.Get(HeaderUserID)),
		OrganizationID: strings.TrimSpace(h.Get(HeaderOrganization)),
		FullName:       h.Get(HeaderUserName),
		Locale:         h.Get(HeaderLocale),
		BaseCurrency:   h.Get(HeaderCurrency),
		Timezone:       h.Get(HeaderTimezone),
		Country:        h.Get(HeaderCountry),
		City:           h.Get(HeaderCity),
	}
	if user.ID == "" || user.OrganizationID == "" {
		return runner.User{}, ErrUnauthenticated
	}
	return user, nil
}

// Options configures the Handler.
type Options struct {
	// Authenticate resolves the caller (defaults to HeaderAuthenticator).
	Authenticate Authenticator
	// Heartbeat is the keep-alive interval; <= 0 disables it.
	Heartbeat time.Duration
	Logger    logging.Logger
}

// Handler serves the chat endpoints of a Runner.
type Handler struct {
	runner *runner.Runner
	opts   Options
	mux    *http.ServeMux
	logger logging.Logger
}

// New constructs a Handler over r.
func New(r *runner.Runner, optFns ...func(o *Options)) *Handler {
	opts := Options{
		Authenticate: HeaderAuthenticator,
		Heartbeat:    DefaultHeartbeat,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Authenticate == nil {
		opts.Authenticate = HeaderAuthenticator
	}

	h := &Handler{runner: r, opts: opts, mux: http.NewServeMux(), logger: logging.OrNoOp(opts.Logger)}
	h.mux.HandleFunc("POST /chat", h.chat)
	h.mux.HandleFunc("POST /chat/{turnId}/cancel", h.cancel)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	user, err := h.opts.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req runner.TurnRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.TurnID == "" {
		req.TurnID = core.NewID()
	}

	events, err := h.runner.Run(r.Context(), req, user)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("server.chat.failed", "turn_id", req.TurnID, "error", err.Error())
			writeError(w, status, "internal error")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	s := newStream(w, h.opts.Heartbeat)
	w.Header().Set(HeaderTurnID, req.TurnID)
	w.WriteHeader(http.StatusOK)
	s.open()

	if err := s.pipe(r.Context(), events); err != nil {
		h.logger.Info("server.chat.stream_closed", "turn_id", req.TurnID, "error", err.Error())
	}
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	user, err := h.opts.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	turnID := r.PathValue("turnId")
	if err := h.runner.Cancel(turnID, user); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, runner.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, runner.ErrTurnNotFound):
		return http.StatusNotFound
	case errors.Is(err, runner.ErrTurnActive):
		return http.StatusConflict
	case errors.Is(err, runner.ErrTooManyTurns):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
