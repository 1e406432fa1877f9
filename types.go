package tenancy

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Logger is the logging contract shared by every component
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Principal is an authenticated identity owned by the identity provider.
// Identifier is the login handle: a real email for owners, a synthetic
// identifier for members.
type Principal struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
}

// PrincipalListener receives the current principal, or nil when nobody
// is signed in.
type PrincipalListener func(p *Principal)

// AccountCreator creates login accounts at the identity provider.
type AccountCreator interface {
	// CreateAccount returns the new principal id. An existing account for
	// identifier is reported with an ACCOUNT_EXISTS error.
	CreateAccount(ctx context.Context, identifier, secret string) (string, error)
}

// PrincipalLookup is optionally implemented by providers that can find the
// principal id behind an existing identifier.
type PrincipalLookup interface {
	LookupPrincipal(ctx context.Context, identifier string) (string, error)
}

// PrincipalSource delivers principal change events, in order, one at a time.
// Implementations must deliver the current principal right after Subscribe.
type PrincipalSource interface {
	Subscribe(fn PrincipalListener) (unsubscribe func())
	Current() *Principal
	SignOut(ctx context.Context) error
}

// IdentityProvider is the external identity directory
type IdentityProvider interface {
	AccountCreator
	PrincipalSource
	Authenticate(ctx context.Context, identifier, secret string) (*Principal, error)
	SendPasswordReset(ctx context.Context, email string) error
}

// TenantStore persists per-tenant configuration and rosters, keyed by tenant id.
type TenantStore interface {
	ReadTenantRecord(ctx context.Context, tenantID string) (*TenantRecord, error)
	WriteTenantRecord(ctx context.Context, record *TenantRecord) error
	ListMembers(ctx context.Context, tenantID string) ([]*MemberRecord, error)
	ReadMember(ctx context.Context, tenantID, memberID string) (*MemberRecord, error)
	WriteMember(ctx context.Context, member *MemberRecord) error
	DeleteMember(ctx context.Context, tenantID, memberID string) error
	// FindMemberByPrincipal looks a member up across tenants by principal id,
	// falling back to its synthetic identifier.
	FindMemberByPrincipal(ctx context.Context, principalID, identifier string) (*MemberRecord, error)
}

// SlugIndex maps tenant slugs to tenant ids. It is kept apart from
// TenantStore because a typed staff username only carries the slug.
type SlugIndex interface {
	ReadBySlug(ctx context.Context, slug string) (string, error)
	// ClaimSlug assigns slug to tenantID when unclaimed and returns the
	// tenant that owns it after the call.
	ClaimSlug(ctx context.Context, tenantID, slug string) (string, error)
	ReleaseSlug(ctx context.Context, tenantID, slug string) error
}

// DocumentStore is the full storage surface consumed by this package
type DocumentStore interface {
	TenantStore
	SlugIndex
}

// PointerStore is a synchronous, device local key value store
type PointerStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Println("[ERR] TENANCY " + render(format, args...))
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Println("[WRN] TENANCY " + render(format, args...))
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Println("[INF] TENANCY " + render(format, args...))
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Println("[DBG] TENANCY " + render(format, args...))
}

// render supports both printf style calls and message plus key value pairs.
func render(format string, args ...any) string {
	format = strings.TrimRight(format, "\n")
	if len(args) == 0 {
		return format
	}
	if strings.Contains(format, "%") {
		return fmt.Sprintf(format, args...)
	}

	var b strings.Builder
	b.WriteString(format)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	return b.String()
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger discards everything
func NopLogger() Logger { return nopLogger{} }

type zapLogger struct {
	l *zap.SugaredLogger
}

// FromZap adapts a zap logger. Arguments are treated as key value pairs.
func FromZap(l *zap.Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return zapLogger{l: l.Sugar()}
}

func (z zapLogger) Debug(msg string, args ...any) { z.l.Debugw(msg, args...) }
func (z zapLogger) Info(msg string, args ...any)  { z.l.Infow(msg, args...) }
func (z zapLogger) Warn(msg string, args ...any)  { z.l.Warnw(msg, args...) }
func (z zapLogger) Error(msg string, args ...any) { z.l.Errorw(msg, args...) }

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
