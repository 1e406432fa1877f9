package tenancy

import (
	"net/url"
	"strings"
)

// Capability is what a protected view requires from the session
type Capability string

const (
	CapabilityAnyAuthenticated Capability = "any-authenticated"
	CapabilityOwnerOnly        Capability = "owner-only"
)

// GuardAction is what the caller should render
type GuardAction string

const (
	ActionRenderProtected GuardAction = "render-protected-content"
	ActionRedirectToLogin GuardAction = "redirect-to-login"
	ActionRenderLoading   GuardAction = "render-loading-placeholder"
)

// Decision is the outcome of an access check
type Decision struct {
	Action     GuardAction `json:"action"`
	ReturnPath string      `json:"return_path,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

const (
	DefaultLoginPath   = "/login"
	DefaultReturnParam = "return_to"
	DefaultHomePath    = "/"
)

// Decide maps a session view and a required capability to a guard action.
// The requested path is kept as the return path of every redirect.
func Decide(view SessionView, capability Capability, requestedPath string) Decision {
	returnPath := SanitizeReturnPath(requestedPath, DefaultHomePath)

	switch view.State {
	case SessionLoading, "":
		return Decision{Action: ActionRenderLoading, Reason: "session loading"}
	case SessionUnauthenticated:
		return Decision{Action: ActionRedirectToLogin, ReturnPath: returnPath, Reason: "not authenticated"}
	case SessionUnauthorized:
		return Decision{Action: ActionRedirectToLogin, ReturnPath: returnPath, Reason: "not authorized"}
	}

	if !view.IsAuthorized() {
		return Decision{Action: ActionRedirectToLogin, ReturnPath: returnPath, Reason: "no tenant bound"}
	}

	switch capability {
	case CapabilityAnyAuthenticated:
		return Decision{Action: ActionRenderProtected}
	case CapabilityOwnerOnly:
		if view.Role == RoleOwner {
			return Decision{Action: ActionRenderProtected}
		}
		return Decision{Action: ActionRedirectToLogin, ReturnPath: returnPath, Reason: "owner only"}
	default:
		return Decision{Action: ActionRedirectToLogin, ReturnPath: returnPath, Reason: "unknown capability"}
	}
}

// SanitizeReturnPath keeps only local absolute paths, anything else falls
// back to fallback.
func SanitizeReturnPath(path, fallback string) string {
	path = strings.TrimSpace(path)
	if path == "" || !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") || strings.HasPrefix(path, "/\\") {
		return fallback
	}
	u, err := url.Parse(path)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	if strings.ContainsAny(path, "\r\n") {
		return fallback
	}
	return path
}

// SessionViewer exposes the current session
type SessionViewer interface {
	View() SessionView
}

// AccessGuard gates protected views on the session resolver state
type AccessGuard struct {
	session     SessionViewer
	loginPath   string
	returnParam string
	logger      Logger
}

// GuardOption configures an AccessGuard
type GuardOption func(*AccessGuard)

// WithLoginPath sets where redirects point to
func WithLoginPath(path string) GuardOption {
	return func(g *AccessGuard) {
		if path != "" {
			g.loginPath = path
		}
	}
}

// WithReturnParam sets the query parameter carrying the return path
func WithReturnParam(name string) GuardOption {
	return func(g *AccessGuard) {
		if name != "" {
			g.returnParam = name
		}
	}
}

func WithGuardLogger(l Logger) GuardOption {
	return func(g *AccessGuard) {
		g.logger = l
	}
}

// NewAccessGuard creates an AccessGuard reading session
func NewAccessGuard(session SessionViewer, opts ...GuardOption) *AccessGuard {
	g := &AccessGuard{
		session:     session,
		loginPath:   DefaultLoginPath,
		returnParam: DefaultReturnParam,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	g.logger = normalizeLogger(g.logger)
	return g
}

// Check decides access for the current session
func (g *AccessGuard) Check(capability Capability, requestedPath string) Decision {
	return Decide(g.session.View(), capability, requestedPath)
}

// LoginRedirectURL builds the login URL carrying returnPath
func (g *AccessGuard) LoginRedirectURL(returnPath string) string {
	returnPath = SanitizeReturnPath(returnPath, "")
	if returnPath == "" {
		return g.loginPath
	}
	sep := "?"
	if strings.Contains(g.loginPath, "?") {
		sep = "&"
	}
	return g.loginPath + sep + g.returnParam + "=" + url.QueryEscape(returnPath)
}

// View wraps protected content. Exactly one of the callbacks runs.
type View struct {
	Content  func(SessionView) error
	Loading  func() error
	Redirect func(loginURL string) error
}

// Protect runs the callback matching the current decision
func (g *AccessGuard) Protect(capability Capability, requestedPath string, v View) error {
	view := g.session.View()
	decision := Decide(view, capability, requestedPath)

	switch decision.Action {
	case ActionRenderProtected:
		if v.Content == nil {
			return nil
		}
		return v.Content(view)
	case ActionRenderLoading:
		if v.Loading == nil {
			return nil
		}
		return v.Loading()
	default:
		g.logger.Debug("access denied, redirecting to login", "reason", decision.Reason, "path", decision.ReturnPath)
		if v.Redirect == nil {
			return nil
		}
		return v.Redirect(g.LoginRedirectURL(decision.ReturnPath))
	}
}
