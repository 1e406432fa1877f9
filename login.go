package tenancy

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

// DefaultAuthenticateTimeout bounds one provider authenticate call
const DefaultAuthenticateTimeout = 15 * time.Second

// LoginMode selects how the identifier input is interpreted
type LoginMode string

const (
	// LoginModeOwner the input is the owner's real email
	LoginModeOwner LoginMode = "owner"
	// LoginModeStaff the input is a derived staff username
	LoginModeStaff LoginMode = "staff"
)

// LoginRequest is the payload of the login form
type LoginRequest struct {
	Mode            LoginMode `json:"mode" form:"mode"`
	IdentifierInput string    `json:"identifier" form:"identifier"`
	Secret          string    `json:"secret" form:"secret"`
}

// Validate will validate the payload
func (r LoginRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Mode, validation.Required, validation.In(LoginModeOwner, LoginModeStaff)),
		validation.Field(&r.IdentifierInput, validation.Required, validation.Length(1, 320)),
		validation.Field(&r.Secret, validation.Required, validation.Length(1, 200)),
	)
	if err != nil {
		return err
	}

	if r.Mode == LoginModeOwner {
		return validation.Errors{
			"identifier": validation.Validate(strings.TrimSpace(r.IdentifierInput), is.Email),
		}.Filter()
	}
	return nil
}

// LoginResult describes a successful authenticate call. The session state
// itself is updated by the SessionResolver from the provider's event.
type LoginResult struct {
	Mode       LoginMode  `json:"mode"`
	Identifier string     `json:"identifier"`
	TenantID   string     `json:"tenant_id,omitempty"`
	Principal  *Principal `json:"principal"`
}

// Authenticator is the slice of the identity provider the login flow needs
type Authenticator interface {
	Authenticate(ctx context.Context, identifier, secret string) (*Principal, error)
	SignOut(ctx context.Context) error
	SendPasswordReset(ctx context.Context, email string) error
}

// TenantBinder binds the device pointer during staff resolution.
// ReleaseTenant undoes a bind when the login that needed it fails.
type TenantBinder interface {
	BindTenant(ctx context.Context, tenantID string) error
	ReleaseTenant(ctx context.Context, tenantID string) error
}

// SlugResolver resolves a typed username to its tenant
type SlugResolver interface {
	ResolveUsername(ctx context.Context, username string) (tenantID, slug string, err error)
}

// LoginService implements login, logout and password reset
type LoginService struct {
	auth     Authenticator
	slugs    SlugResolver
	binder   TenantBinder
	logger   Logger
	metrics  Metrics
	activity ActivitySink
	timeout  time.Duration
}

// LoginOption configures a LoginService
type LoginOption func(*LoginService)

func WithLoginLogger(l Logger) LoginOption {
	return func(s *LoginService) {
		s.logger = l
	}
}

func WithLoginMetrics(m Metrics) LoginOption {
	return func(s *LoginService) {
		s.metrics = m
	}
}

func WithLoginActivitySink(a ActivitySink) LoginOption {
	return func(s *LoginService) {
		s.activity = a
	}
}

// WithAuthenticateTimeout bounds provider authenticate calls
func WithAuthenticateTimeout(d time.Duration) LoginOption {
	return func(s *LoginService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewLoginService creates a LoginService
func NewLoginService(auth Authenticator, slugs SlugResolver, binder TenantBinder, opts ...LoginOption) *LoginService {
	s := &LoginService{
		auth:    auth,
		slugs:   slugs,
		binder:  binder,
		timeout: DefaultAuthenticateTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = normalizeLogger(s.logger)
	s.metrics = normalizeMetrics(s.metrics)
	s.activity = normalizeActivitySink(s.activity)
	return s
}

// ResolveStaffUsername maps a typed staff username to its tenant and the
// full login identifier.
func (s *LoginService) ResolveStaffUsername(ctx context.Context, username string) (tenantID, identifier string, err error) {
	username = strings.ToLower(strings.TrimSpace(username))
	tenantID, _, err = s.slugs.ResolveUsername(ctx, username)
	if err != nil {
		return "", "", err
	}
	return tenantID, DeriveLoginIdentifier(username, tenantID), nil
}

// Login authenticates the request. Staff logins resolve the tenant and bind
// the device pointer first. The authenticate call is not cancelled when ctx
// is, the provider event it triggers still reaches the resolver.
func (s *LoginService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	req.IdentifierInput = strings.TrimSpace(req.IdentifierInput)
	if err := req.Validate(); err != nil {
		s.metrics.ObserveLogin(req.Mode, OutcomeFailure)
		return nil, NewInvalidInput(err)
	}

	result := &LoginResult{Mode: req.Mode}

	switch req.Mode {
	case LoginModeStaff:
		tenantID, identifier, err := s.ResolveStaffUsername(ctx, req.IdentifierInput)
		if err != nil {
			s.metrics.ObserveLogin(req.Mode, OutcomeNotFound)
			s.logger.Info("staff username did not resolve", "username", req.IdentifierInput)
			return nil, err
		}
		if err := s.binder.BindTenant(ctx, tenantID); err != nil {
			s.metrics.ObserveLogin(req.Mode, OutcomeFailure)
			return nil, err
		}
		result.TenantID = tenantID
		result.Identifier = identifier
	default:
		result.Identifier = strings.ToLower(req.IdentifierInput)
	}

	principal, err := s.authenticate(ctx, result.Identifier, req.Secret)
	if err != nil {
		if result.TenantID != "" {
			if rerr := s.binder.ReleaseTenant(context.WithoutCancel(ctx), result.TenantID); rerr != nil {
				s.logger.Error("failed to release tenant pointer", "tenant_id", result.TenantID, "error", rerr)
			}
		}
		s.metrics.ObserveLogin(req.Mode, OutcomeFailure)
		recordActivity(ctx, s.activity, s.logger, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			TenantID:  result.TenantID,
			Metadata:  map[string]any{"identifier": result.Identifier, "mode": string(req.Mode), "error": err.Error()},
		})
		return nil, err
	}

	result.Principal = principal
	s.metrics.ObserveLogin(req.Mode, OutcomeSuccess)
	s.logger.Info("login succeeded", "mode", req.Mode, "principal_id", principal.ID)
	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType:   ActivityEventLoginSuccess,
		TenantID:    result.TenantID,
		PrincipalID: principal.ID,
		Metadata:    map[string]any{"mode": string(req.Mode)},
	})
	return result, nil
}

func (s *LoginService) authenticate(ctx context.Context, identifier, secret string) (*Principal, error) {
	authCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	principal, err := s.auth.Authenticate(authCtx, identifier, secret)
	if err == nil && principal == nil {
		err = NewInvalidCredential(identifier, nil)
	}
	if err == nil {
		return principal, nil
	}

	switch {
	case IsInvalidCredential(err):
		return nil, err
	case IsProviderUnavailable(err):
		return nil, err
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("authenticate timed out", "identifier", identifier)
		return nil, NewProviderUnavailable("authenticate", err)
	default:
		s.logger.Error("authenticate failed", "identifier", identifier, "error", err)
		return nil, NewProviderUnavailable("authenticate", err)
	}
}

// Logout signs the current principal out. The resolver moves to
// Unauthenticated when the provider reports it.
func (s *LoginService) Logout(ctx context.Context) error {
	if err := s.auth.SignOut(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to sign out")
	}
	return nil
}

// SendPasswordReset is only available to owners, staff identifiers are not
// deliverable mailboxes.
func (s *LoginService) SendPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return NewInvalidInput(err)
	}
	if IsSyntheticIdentifier(email) {
		return NewInvalidInput(goerrors.New("password reset is not available for staff accounts", goerrors.CategoryValidation))
	}
	if err := s.auth.SendPasswordReset(ctx, email); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return NewProviderUnavailable("send_password_reset", err)
		}
		return err
	}
	s.logger.Info("password reset requested", "email", email)
	return nil
}
