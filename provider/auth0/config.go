package auth0

import (
	"fmt"
	"strings"
	"time"
)

// DefaultConnection is the Auth0 database connection used when none is set
const DefaultConnection = "Username-Password-Authentication"

// Config holds the Auth0 settings used by the identity provider
type Config struct {
	// Domain is the Auth0 tenant domain (e.g., "example.us.auth0.com").
	Domain string

	// ClientID and ClientSecret belong to an application allowed to use the
	// management API and the password grant.
	ClientID     string
	ClientSecret string

	// Connection is the database connection staff and owner accounts live in.
	Connection string

	// Audience is requested on password logins (optional).
	Audience string

	// Issuer overrides the default issuer URL (optional).
	// Default: "https://{Domain}/".
	Issuer string

	// JWKSURL overrides the key set location (optional).
	// Default: "{Issuer}.well-known/jwks.json".
	JWKSURL string

	// RefreshInterval is how often the JWKS is refreshed.
	// Default: 1 hour.
	RefreshInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig(domain, clientID, clientSecret string) Config {
	return Config{
		Domain:          domain,
		ClientID:        clientID,
		ClientSecret:    clientSecret,
		Connection:      DefaultConnection,
		RefreshInterval: time.Hour,
	}
}

func (c Config) connection() string {
	if strings.TrimSpace(c.Connection) == "" {
		return DefaultConnection
	}
	return c.Connection
}

func (c Config) issuerURL() string {
	if c.Issuer != "" {
		return normalizeIssuer(c.Issuer)
	}

	domain := strings.TrimSpace(c.Domain)
	if domain == "" {
		return ""
	}

	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return normalizeIssuer(domain)
	}

	return fmt.Sprintf("https://%s/", strings.TrimSuffix(domain, "/"))
}

func (c Config) jwksURL() string {
	if c.JWKSURL != "" {
		return c.JWKSURL
	}
	issuer := c.issuerURL()
	if issuer == "" {
		return ""
	}
	return issuer + ".well-known/jwks.json"
}

func normalizeIssuer(issuer string) string {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return issuer
	}
	if strings.HasSuffix(issuer, "/") {
		return issuer
	}
	return issuer + "/"
}
