package auth0

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	goauth0 "github.com/auth0/go-auth0"
	"github.com/auth0/go-auth0/authentication"
	"github.com/auth0/go-auth0/authentication/database"
	"github.com/auth0/go-auth0/authentication/oauth"
	"github.com/auth0/go-auth0/management"
	"github.com/golang-jwt/jwt/v5"

	"github.com/goliatone/go-tenancy"
)

// UserManager is the slice of the management API used to create and find
// accounts. *management.UserManager satisfies it.
type UserManager interface {
	Create(ctx context.Context, u *management.User, opts ...management.RequestOption) error
	ListByEmail(ctx context.Context, email string, opts ...management.RequestOption) ([]*management.User, error)
}

// PasswordGrant performs password logins and reset emails
type PasswordGrant interface {
	LoginWithPassword(ctx context.Context, identifier, secret string) (idToken string, err error)
	ChangePassword(ctx context.Context, email string) error
}

// Option configures an IdentityProvider
type Option func(*IdentityProvider)

// WithUserManager replaces the management API client
func WithUserManager(users UserManager) Option {
	return func(p *IdentityProvider) {
		p.users = users
	}
}

// WithPasswordGrant replaces the authentication API client
func WithPasswordGrant(grant PasswordGrant) Option {
	return func(p *IdentityProvider) {
		p.grant = grant
	}
}

// WithKeyfunc replaces the JWKS backed key lookup used for ID tokens
func WithKeyfunc(fn jwt.Keyfunc) Option {
	return func(p *IdentityProvider) {
		p.keyfunc = fn
	}
}

// WithValidMethods sets the accepted ID token signing algorithms
func WithValidMethods(methods ...string) Option {
	return func(p *IdentityProvider) {
		if len(methods) > 0 {
			p.validMethods = methods
		}
	}
}

func WithLogger(logger tenancy.Logger) Option {
	return func(p *IdentityProvider) {
		p.logger = logger
	}
}

// IdentityProvider implements tenancy.IdentityProvider backed by Auth0
type IdentityProvider struct {
	*tenancy.PrincipalFeed

	config       Config
	users        UserManager
	grant        PasswordGrant
	keyfunc      jwt.Keyfunc
	jwks         *keyfunc.JWKS
	validMethods []string
	logger       tenancy.Logger
}

// NewIdentityProvider creates an Auth0 backed identity provider. Clients not
// injected through options are built from cfg.
func NewIdentityProvider(ctx context.Context, cfg Config, opts ...Option) (*IdentityProvider, error) {
	p := &IdentityProvider{
		PrincipalFeed: tenancy.NewPrincipalFeed(),
		config:        cfg,
		validMethods:  []string{jwt.SigningMethodRS256.Alg()},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil {
		p.logger = tenancy.NopLogger()
	}

	domain := strings.TrimSpace(cfg.Domain)
	if (p.users == nil || p.grant == nil) && domain == "" {
		return nil, fmt.Errorf("auth0: domain is required")
	}

	if p.users == nil {
		mgmt, err := management.New(
			domain,
			management.WithClientCredentials(ctx, cfg.ClientID, cfg.ClientSecret),
		)
		if err != nil {
			return nil, fmt.Errorf("auth0: failed to create management client: %w", err)
		}
		p.users = mgmt.User
	}

	if p.grant == nil {
		authAPI, err := authentication.New(
			ctx,
			domain,
			authentication.WithClientID(cfg.ClientID),
			authentication.WithClientSecret(cfg.ClientSecret),
		)
		if err != nil {
			return nil, fmt.Errorf("auth0: failed to create authentication client: %w", err)
		}
		p.grant = &authenticationGrant{api: authAPI, config: cfg}
	}

	if p.keyfunc == nil {
		jwksURL := cfg.jwksURL()
		if jwksURL == "" {
			return nil, fmt.Errorf("auth0: issuer or domain is required")
		}
		refresh := cfg.RefreshInterval
		if refresh <= 0 {
			refresh = time.Hour
		}
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
			Ctx: ctx,
			RefreshErrorHandler: func(err error) {
				p.logger.Warn("failed to refresh auth0 JWKS", "error", err)
			},
			RefreshInterval:   refresh,
			RefreshRateLimit:  time.Minute * 5,
			RefreshTimeout:    time.Second * 10,
			RefreshUnknownKID: true,
		})
		if err != nil {
			return nil, fmt.Errorf("auth0: failed to load JWKS: %w", err)
		}
		p.jwks = jwks
		p.keyfunc = jwks.Keyfunc
	}

	return p, nil
}

// Close stops the background JWKS refresh
func (p *IdentityProvider) Close() {
	if p.jwks != nil {
		p.jwks.EndBackground()
	}
}

// CreateAccount creates a database connection user with identifier as email
func (p *IdentityProvider) CreateAccount(ctx context.Context, identifier, secret string) (string, error) {
	identifier = normalize(identifier)

	user := &management.User{
		Connection:    goauth0.String(p.config.connection()),
		Email:         goauth0.String(identifier),
		Password:      goauth0.String(secret),
		EmailVerified: goauth0.Bool(true),
		VerifyEmail:   goauth0.Bool(false),
	}

	if err := p.users.Create(ctx, user); err != nil {
		switch status := statusOf(err); {
		case status == http.StatusConflict:
			return "", tenancy.NewAccountExists(identifier, err)
		case status == http.StatusTooManyRequests || status >= 500 || status == 0:
			return "", tenancy.NewProviderUnavailable("create_account", err)
		default:
			return "", err
		}
	}

	p.logger.Debug("auth0 account created", "identifier", identifier, "principal_id", user.GetID())
	return user.GetID(), nil
}

// LookupPrincipal returns the user id registered for identifier
func (p *IdentityProvider) LookupPrincipal(ctx context.Context, identifier string) (string, error) {
	identifier = normalize(identifier)
	users, err := p.users.ListByEmail(ctx, identifier)
	if err != nil {
		return "", tenancy.NewProviderUnavailable("lookup_principal", err)
	}
	connection := p.config.connection()
	for _, u := range users {
		if u == nil {
			continue
		}
		if len(u.Identities) == 0 || identityConnection(u) == connection {
			return u.GetID(), nil
		}
	}
	return "", tenancy.NewRecordNotFound("principal", identifier)
}

func identityConnection(u *management.User) string {
	for _, identity := range u.Identities {
		if identity != nil && identity.GetConnection() != "" {
			return identity.GetConnection()
		}
	}
	return ""
}

// Authenticate performs a password login and publishes the principal taken
// from the verified ID token.
func (p *IdentityProvider) Authenticate(ctx context.Context, identifier, secret string) (*tenancy.Principal, error) {
	identifier = normalize(identifier)

	idToken, err := p.grant.LoginWithPassword(ctx, identifier, secret)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, tenancy.NewProviderUnavailable("authenticate", err)
		}
		switch status := statusOf(err); {
		case status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden:
			return nil, tenancy.NewInvalidCredential(identifier, err)
		default:
			return nil, tenancy.NewProviderUnavailable("authenticate", err)
		}
	}

	claims, err := p.verifyIDToken(idToken)
	if err != nil {
		p.logger.Warn("auth0 ID token rejected", "identifier", identifier, "error", err)
		return nil, tenancy.NewInvalidCredential(identifier, err)
	}

	principal := &tenancy.Principal{ID: claims.Subject, Identifier: identifier}
	if claims.Email != "" {
		principal.Identifier = normalize(claims.Email)
	}

	p.Publish(principal)
	return principal, nil
}

// SignOut drops the local principal. Auth0 sessions issued by the password
// grant are not tracked server side.
func (p *IdentityProvider) SignOut(ctx context.Context) error {
	p.Publish(nil)
	return nil
}

// SendPasswordReset triggers the connection's change password email
func (p *IdentityProvider) SendPasswordReset(ctx context.Context, email string) error {
	if err := p.grant.ChangePassword(ctx, normalize(email)); err != nil {
		return tenancy.NewProviderUnavailable("send_password_reset", err)
	}
	return nil
}

// IDTokenClaims are the ID token claims read after a login
type IDTokenClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

func (p *IdentityProvider) verifyIDToken(raw string) (*IDTokenClaims, error) {
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods(p.validMethods)}
	if issuer := p.config.issuerURL(); issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(issuer))
	}
	if p.config.ClientID != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(p.config.ClientID))
	}

	claims := &IDTokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, p.keyfunc, parserOpts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// statusOf returns the HTTP status carried by an Auth0 API error, or 0
func statusOf(err error) int {
	var statusErr interface{ Status() int }
	if errors.As(err, &statusErr) {
		return statusErr.Status()
	}
	return 0
}

type authenticationGrant struct {
	api    *authentication.Authentication
	config Config
}

func (g *authenticationGrant) LoginWithPassword(ctx context.Context, identifier, secret string) (string, error) {
	tokens, err := g.api.OAuth.LoginWithPassword(ctx, oauth.LoginWithPasswordRequest{
		Username: identifier,
		Password: secret,
		Realm:    g.config.connection(),
		Scope:    "openid email",
		Audience: g.config.Audience,
	}, oauth.IDTokenValidationOptions{})
	if err != nil {
		return "", err
	}
	return tokens.IDToken, nil
}

func (g *authenticationGrant) ChangePassword(ctx context.Context, email string) error {
	_, err := g.api.Database.ChangePassword(ctx, database.ChangePasswordRequest{
		Email:      email,
		Connection: g.config.connection(),
	})
	return err
}

var _ tenancy.IdentityProvider = (*IdentityProvider)(nil)
var _ tenancy.PrincipalLookup = (*IdentityProvider)(nil)
