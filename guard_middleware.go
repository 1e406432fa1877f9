package tenancy

import (
	"net/http"
	"time"

	"github.com/goliatone/go-router"
)

// ReturnPathCookie keeps the rejected route while the user logs in
const ReturnPathCookie = "tenancy_return_to"

// MiddlewareOption configures Middleware
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	loading func(c router.Context) error
	viewer  func(c router.Context) SessionViewer
}

// WithLoadingHandler replaces the default loading response
func WithLoadingHandler(h func(c router.Context) error) MiddlewareOption {
	return func(m *middlewareConfig) {
		m.loading = h
	}
}

// WithRequestViewer picks the session per request, e.g. from a registry of
// device resolvers. Defaults to the guard's own viewer.
func WithRequestViewer(fn func(c router.Context) SessionViewer) MiddlewareOption {
	return func(m *middlewareConfig) {
		m.viewer = fn
	}
}

// Middleware protects go-router handlers with capability
func (g *AccessGuard) Middleware(capability Capability, opts ...MiddlewareOption) router.MiddlewareFunc {
	cfg := &middlewareConfig{
		loading: defaultLoadingHandler,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			viewer := g.session
			if cfg.viewer != nil {
				if v := cfg.viewer(c); v != nil {
					viewer = v
				}
			}

			view := viewer.View()
			decision := Decide(view, capability, c.OriginalURL())

			switch decision.Action {
			case ActionRenderProtected:
				c.Locals(SessionLocalsKey, view)
				c.SetContext(WithSessionView(c.Context(), view))
				return next(c)
			case ActionRenderLoading:
				return cfg.loading(c)
			default:
				g.logger.Info("access denied, redirecting to login",
					"reason", decision.Reason,
					"path", decision.ReturnPath,
				)
				g.SetReturnPath(c, decision.ReturnPath)

				statusCode := http.StatusSeeOther
				if c.Method() == string(router.GET) {
					statusCode = http.StatusFound
				}
				return c.Redirect(g.LoginRedirectURL(decision.ReturnPath), statusCode)
			}
		}
	}
}

// SetReturnPath stores path in a short lived cookie
func (g *AccessGuard) SetReturnPath(c router.Context, path string) {
	c.Cookie(&router.Cookie{
		Name:     ReturnPathCookie,
		Value:    SanitizeReturnPath(path, DefaultHomePath),
		Expires:  time.Now().Add(time.Minute * 5),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

// ReturnPath reads and clears the stored return path, falling back to def
func (g *AccessGuard) ReturnPath(c router.Context, def string) string {
	r := c.Cookies(ReturnPathCookie)
	if r == "" {
		r = c.Query(g.returnParam)
	}
	c.Cookie(&router.Cookie{
		Name:     ReturnPathCookie,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
	return SanitizeReturnPath(r, def)
}

func defaultLoadingHandler(c router.Context) error {
	c.SetHeader("Retry-After", "1")
	return c.Status(http.StatusServiceUnavailable).SendString("session loading")
}
