package audit

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
)

type contextKey string

const requestContextKey contextKey = "audit_request"

// RequestContext is the request and actor information captured for records
// sent while handling a request
type RequestContext struct {
	Domain string
	Route  string
	Method string

	Username string
	UserID   *int64
}

// WithRequestContext stores rc in ctx
func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

// RequestContextFrom retrieves the request context stored in ctx
func RequestContextFrom(ctx context.Context) (RequestContext, bool) {
	if ctx == nil {
		return RequestContext{}, false
	}
	rc, ok := ctx.Value(requestContextKey).(RequestContext)
	return rc, ok
}

// applyRequestContext fills the empty request and actor fields of rec
func applyRequestContext(ctx context.Context, rec *Record) {
	rc, ok := RequestContextFrom(ctx)
	if !ok {
		return
	}
	if rec.Domain == "" {
		rec.Domain = rc.Domain
	}
	if rec.Route == "" {
		rec.Route = rc.Route
	}
	if rec.Method == "" {
		rec.Method = rc.Method
	}
	fillActor(rc, rec)
}

// applyActor fills only the empty actor fields of rec
func applyActor(ctx context.Context, rec *Record) {
	if rc, ok := RequestContextFrom(ctx); ok {
		fillActor(rc, rec)
	}
}

func fillActor(rc RequestContext, rec *Record) {
	if rec.Username == "" {
		rec.Username = rc.Username
	}
	if rec.UserID == nil && rc.UserID != nil {
		uid := *rc.UserID
		rec.UserID = &uid
	}
}

// Middleware captures the request context of every request it wraps
type Middleware struct {
	usernameHeader string
	userIDHeader   string
}

// MiddlewareOption configures a Middleware
type MiddlewareOption func(*Middleware)

// WithActorHeaders reads the actor from the given request headers, typically
// set by an authenticating proxy
func WithActorHeaders(usernameHeader, userIDHeader string) MiddlewareOption {
	return func(m *Middleware) {
		m.usernameHeader = usernameHeader
		m.userIDHeader = userIDHeader
	}
}

// NewMiddleware creates a request context middleware
func NewMiddleware(opts ...MiddlewareOption) *Middleware {
	m := &Middleware{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler wraps an HTTP handler
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := RequestContext{
			Domain: r.Host,
			Route:  routeOf(r),
			Method: r.Method,
		}

		if m.usernameHeader != "" {
			rc.Username = strings.TrimSpace(r.Header.Get(m.usernameHeader))
		}
		if m.userIDHeader != "" {
			if raw := strings.TrimSpace(r.Header.Get(m.userIDHeader)); raw != "" {
				if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
					rc.UserID = &id
				}
			}
		}

		next.ServeHTTP(w, r.WithContext(WithRequestContext(r.Context(), rc)))
	})
}

// routeOf prefers the matched mux route template over the raw path
func routeOf(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil && tpl != "" {
			return tpl
		}
	}
	return r.URL.Path
}
