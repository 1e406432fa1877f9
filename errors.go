package tenancy

import (
	"errors"
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeIdentifierConflict  = "IDENTIFIER_CONFLICT"
	TextCodeSlugConflict        = "SLUG_CONFLICT"
	TextCodeTenantNotFound      = "TENANT_NOT_FOUND"
	TextCodeInvalidCredential   = "INVALID_CREDENTIAL"
	TextCodeProvisioningFailed  = "PROVISIONING_FAILED"
	TextCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	TextCodeSessionUnbound      = "SESSION_UNBOUND"
	TextCodeRenameBlocked       = "RENAME_BLOCKED"
	TextCodeAccountExists       = "ACCOUNT_EXISTS"
	TextCodeRecordNotFound      = "TENANT_RECORD_NOT_FOUND"
	TextCodeInvalidInput        = "INVALID_INPUT"
	TextCodeDeviceBound         = "DEVICE_BOUND"
)

// ErrIdentifierConflict two roster members derive the same login identifier
var ErrIdentifierConflict = goerrors.New("derived identifier already in use", goerrors.CategoryConflict).
	WithTextCode(TextCodeIdentifierConflict).
	WithCode(goerrors.CodeConflict)

// ErrSlugConflict the slug is claimed by a different tenant
var ErrSlugConflict = goerrors.New("tenant slug already claimed", goerrors.CategoryConflict).
	WithTextCode(TextCodeSlugConflict).
	WithCode(goerrors.CodeConflict)

// ErrTenantNotFound the slug does not resolve to a tenant
var ErrTenantNotFound = goerrors.New("tenant not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeTenantNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrInvalidCredential wrong secret or unknown identifier
var ErrInvalidCredential = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredential).
	WithCode(goerrors.CodeUnauthorized)

// ErrProviderUnavailable the identity provider failed or timed out
var ErrProviderUnavailable = goerrors.New("identity provider temporarily unavailable", goerrors.CategoryOperation).
	WithTextCode(TextCodeProviderUnavailable).
	WithCode(http.StatusServiceUnavailable)

// ErrSessionUnbound a staff principal without a local tenant pointer
var ErrSessionUnbound = goerrors.New("session is not bound to a tenant", goerrors.CategoryAuthz).
	WithTextCode(TextCodeSessionUnbound).
	WithCode(goerrors.CodeForbidden)

// ErrRenameBlocked provisioned members still derive from the current slug
var ErrRenameBlocked = goerrors.New("tenant rename blocked by provisioned members", goerrors.CategoryConflict).
	WithTextCode(TextCodeRenameBlocked).
	WithCode(goerrors.CodeConflict)

// ErrAccountExists is reported by providers when the identifier is taken
var ErrAccountExists = goerrors.New("account already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeAccountExists).
	WithCode(goerrors.CodeConflict)

// ErrRecordNotFound a tenant or member document is missing
var ErrRecordNotFound = goerrors.New("record not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeRecordNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrInvalidInput request failed validation
var ErrInvalidInput = goerrors.New("invalid input", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidInput).
	WithCode(goerrors.CodeBadRequest)

// ErrDeviceBound the device pointer names another tenant, only an owner
// login may move it
var ErrDeviceBound = goerrors.New("device is bound to another tenant, owner login required", goerrors.CategoryConflict).
	WithTextCode(TextCodeDeviceBound).
	WithCode(goerrors.CodeConflict)

// ProvisioningError reports a single member that could not be provisioned
type ProvisioningError struct {
	MemberID    string
	DisplayName string
	Cause       error
}

func (e *ProvisioningError) Error() string {
	if e == nil {
		return "provisioning failed"
	}
	if e.Cause == nil {
		return fmt.Sprintf("provisioning failed for member %s (%s)", e.MemberID, e.DisplayName)
	}
	return fmt.Sprintf("provisioning failed for member %s (%s): %v", e.MemberID, e.DisplayName, e.Cause)
}

func (e *ProvisioningError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// withCause clones base so sentinels are never mutated
func withCause(base *goerrors.Error, cause error, meta map[string]any) *goerrors.Error {
	clone := base.Clone()
	if clone == nil {
		clone = goerrors.New(base.Message, base.Category).
			WithTextCode(base.TextCode).
			WithCode(base.Code)
	}
	if cause != nil {
		clone.Source = cause
		if meta == nil {
			meta = map[string]any{}
		}
		meta["cause"] = cause.Error()
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}

// NewIdentifierConflict reports a derived identifier held by another member
func NewIdentifierConflict(identifier, memberID, holderID string) error {
	return withCause(ErrIdentifierConflict, nil, map[string]any{
		"identifier": identifier,
		"member_id":  memberID,
		"holder_id":  holderID,
	})
}

// NewSlugConflict reports a slug owned by another tenant
func NewSlugConflict(slug, owner string) error {
	return withCause(ErrSlugConflict, nil, map[string]any{
		"slug":  slug,
		"owner": owner,
	})
}

// NewTenantNotFound reports an unresolved slug
func NewTenantNotFound(slug string) error {
	return withCause(ErrTenantNotFound, nil, map[string]any{"slug": slug})
}

// NewInvalidCredential reports a rejected login
func NewInvalidCredential(identifier string, cause error) error {
	return withCause(ErrInvalidCredential, cause, map[string]any{"identifier": identifier})
}

// NewProviderUnavailable reports a transient provider failure
func NewProviderUnavailable(operation string, cause error) error {
	return withCause(ErrProviderUnavailable, cause, map[string]any{"operation": operation})
}

// NewSessionUnbound reports a staff principal with no usable tenant pointer
func NewSessionUnbound(principalID string) error {
	return withCause(ErrSessionUnbound, nil, map[string]any{"principal_id": principalID})
}

// NewDeviceBound reports a staff bind refused because the device belongs
// to another tenant
func NewDeviceBound(boundTenantID, requestedTenantID string) error {
	return withCause(ErrDeviceBound, nil, map[string]any{
		"bound_tenant_id":     boundTenantID,
		"requested_tenant_id": requestedTenantID,
	})
}

// NewRenameBlocked reports the provisioned members pinned to the current slug
func NewRenameBlocked(tenantID, slug string, members []string) error {
	return withCause(ErrRenameBlocked, nil, map[string]any{
		"tenant_id": tenantID,
		"slug":      slug,
		"members":   members,
	})
}

// NewAccountExists is used by provider adapters for duplicate accounts
func NewAccountExists(identifier string, cause error) error {
	return withCause(ErrAccountExists, cause, map[string]any{"identifier": identifier})
}

// NewRecordNotFound reports a missing tenant or member document
func NewRecordNotFound(kind, id string) error {
	return withCause(ErrRecordNotFound, nil, map[string]any{
		"kind": kind,
		"id":   id,
	})
}

// NewInvalidInput wraps a validation failure
func NewInvalidInput(cause error) error {
	return withCause(ErrInvalidInput, cause, nil)
}

// NewProvisioningFailed reports a failed provider call for member
func NewProvisioningFailed(member *MemberRecord, cause error) error {
	perr := &ProvisioningError{Cause: cause}
	if member != nil {
		perr.MemberID = member.MemberID
		perr.DisplayName = member.DisplayName
	}
	return perr
}

// HasTextCode walks the error chain looking for a rich error with code
func HasTextCode(err error, code string) bool {
	for err != nil {
		var richErr *goerrors.Error
		if !errors.As(err, &richErr) || richErr == nil {
			return false
		}
		if richErr.TextCode == code {
			return true
		}
		err = errors.Unwrap(richErr)
	}
	return false
}

// IsIdentifierConflict also matches slug conflicts
func IsIdentifierConflict(err error) bool {
	return HasTextCode(err, TextCodeIdentifierConflict) || HasTextCode(err, TextCodeSlugConflict)
}

func IsSlugConflict(err error) bool {
	return HasTextCode(err, TextCodeSlugConflict)
}

func IsTenantNotFound(err error) bool {
	return HasTextCode(err, TextCodeTenantNotFound)
}

func IsInvalidCredential(err error) bool {
	return HasTextCode(err, TextCodeInvalidCredential)
}

func IsProviderUnavailable(err error) bool {
	return HasTextCode(err, TextCodeProviderUnavailable)
}

func IsSessionUnbound(err error) bool {
	return HasTextCode(err, TextCodeSessionUnbound)
}

func IsDeviceBound(err error) bool {
	return HasTextCode(err, TextCodeDeviceBound)
}

func IsRenameBlocked(err error) bool {
	return HasTextCode(err, TextCodeRenameBlocked)
}

func IsAccountExists(err error) bool {
	return HasTextCode(err, TextCodeAccountExists)
}

func IsRecordNotFound(err error) bool {
	return HasTextCode(err, TextCodeRecordNotFound)
}

func IsInvalidInput(err error) bool {
	return HasTextCode(err, TextCodeInvalidInput)
}

// IsProvisioningFailed reports whether err carries a ProvisioningError
func IsProvisioningFailed(err error) bool {
	var perr *ProvisioningError
	return errors.As(err, &perr)
}
