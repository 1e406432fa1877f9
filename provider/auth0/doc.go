// Package auth0 adapts an Auth0 tenant to tenancy.IdentityProvider.
//
// Accounts are created through the management API on a database connection,
// logins use the resource owner password grant and the returned ID token is
// verified against the tenant JWKS.
package auth0
