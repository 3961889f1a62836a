package whitelistkit

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Middleware provides net/http middleware for the admin surface.
type Middleware struct {
	adminToken   string
	getActorID   func(*http.Request) string
	errorHandler func(http.ResponseWriter, *http.Request, error)
}

// MiddlewareOption configures the Middleware.
type MiddlewareOption func(*Middleware)

// NewMiddleware creates a new Middleware instance. An empty adminToken
// leaves RequireAdmin open.
//
// Example:
//
//	mw := whitelistkit.NewMiddleware(token,
//	    whitelistkit.WithActorExtractor(func(r *http.Request) string {
//	        return r.Header.Get("X-Discord-User-ID")
//	    }),
//	)
func NewMiddleware(adminToken string, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		adminToken:   adminToken,
		getActorID:   defaultGetActorID,
		errorHandler: defaultErrorHandler,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// WithActorExtractor sets a custom function to extract the acting admin.
func WithActorExtractor(fn func(*http.Request) string) MiddlewareOption {
	return func(m *Middleware) {
		m.getActorID = fn
	}
}

// WithErrorHandler sets a custom error handler for middleware.
func WithErrorHandler(fn func(http.ResponseWriter, *http.Request, error)) MiddlewareOption {
	return func(m *Middleware) {
		m.errorHandler = fn
	}
}

// ActorHeader carries the Discord ID of the admin acting through the API.
const ActorHeader = "X-Actor-ID"

func defaultGetActorID(r *http.Request) string {
	return r.Header.Get(ActorHeader)
}

func defaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	code := HTTPStatus(err)
	http.Error(w, http.StatusText(code), code)
}

// ErrUnauthorized is returned when the admin token is missing or wrong.
var ErrUnauthorized = errors.New("whitelistkit: unauthorized")

// HTTPStatus maps service errors onto HTTP status codes.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err), errors.Is(err, ErrGrantAlreadyRevoked):
		return http.StatusConflict
	case IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrGuildUnavailable), errors.Is(err, ErrNoGuild):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// CheckAdminToken compares a bearer token against the configured one.
func (m *Middleware) CheckAdminToken(r *http.Request) error {
	if m.adminToken == "" {
		return nil
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(m.adminToken)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// RequireAdmin creates middleware that rejects requests without the admin token.
//
// Example:
//
//	router.Handle("/grants", mw.RequireAdmin(grantsHandler))
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := m.CheckAdminToken(r); err != nil {
			m.errorHandler(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestContext returns the request context with the audit fields of r.
func (m *Middleware) RequestContext(r *http.Request) context.Context {
	ctx := r.Context()

	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		ip = r.RemoteAddr
	}
	if first, _, found := strings.Cut(ip, ","); found {
		ip = strings.TrimSpace(first)
	}
	ctx = WithIPAddress(ctx, ip)
	ctx = WithUserAgent(ctx, r.UserAgent())

	if requestID := r.Header.Get("X-Request-ID"); requestID != "" {
		ctx = WithRequestID(ctx, requestID)
	}
	if actorID := m.getActorID(r); actorID != "" {
		ctx = WithActorID(ctx, actorID)
	}
	return ctx
}

// InjectAuditContext creates middleware that extracts audit information from
// the request and adds it to the context for grant and role config writes.
//
// Example:
//
//	router.Use(mw.InjectAuditContext())
func (m *Middleware) InjectAuditContext() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(m.RequestContext(r)))
		})
	}
}
