package tenancy

import (
	"context"

	"github.com/goliatone/go-router"
)

var sessionCtxKey = &contextKey{"tenancy_session"}

type contextKey struct {
	name string
}

// SessionLocalsKey is the router locals key holding the admitted SessionView
const SessionLocalsKey = "tenancy_session"

// WithSessionView sets the SessionView in the given context
func WithSessionView(ctx context.Context, view SessionView) context.Context {
	return context.WithValue(ctx, sessionCtxKey, view)
}

// SessionFromContext finds the SessionView in the context
func SessionFromContext(ctx context.Context) (SessionView, bool) {
	if ctx == nil {
		return SessionView{}, false
	}
	raw, ok := ctx.Value(sessionCtxKey).(SessionView)
	return raw, ok
}

// TenantFromContext returns the tenant the admitted session is bound to
func TenantFromContext(ctx context.Context) (string, bool) {
	view, ok := SessionFromContext(ctx)
	if !ok || !view.IsAuthorized() {
		return "", false
	}
	return view.TenantID, true
}

// GetRouterSession extracts the SessionView from the router locals
func GetRouterSession(c router.Context) (SessionView, bool) {
	raw := c.Locals(SessionLocalsKey)
	if raw == nil {
		return SessionView{}, false
	}
	view, ok := raw.(SessionView)
	return view, ok
}
