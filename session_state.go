package tenancy

import (
	goerrors "github.com/goliatone/go-errors"
)

const textCodeInvalidSessionTransition = "INVALID_SESSION_TRANSITION"

// ErrInvalidSessionTransition is returned when a requested state change is not allowed.
var ErrInvalidSessionTransition = goerrors.New("invalid session state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidSessionTransition).
	WithCode(goerrors.CodeBadRequest)

// SessionState is the resolver's coarse session state
type SessionState string

const (
	SessionLoading         SessionState = "loading"
	SessionUnauthenticated SessionState = "unauthenticated"
	SessionUnauthorized    SessionState = "unauthorized"
	SessionAuthorized      SessionState = "authorized"
)

// SessionView is the session read model exposed to the application
type SessionView struct {
	State     SessionState `json:"state"`
	TenantID  string       `json:"tenant_id,omitempty"`
	Role      Role         `json:"role,omitempty"`
	Principal *Principal   `json:"principal,omitempty"`
	Err       error        `json:"-"`
}

// IsLoading reports whether the first provider event is still pending
func (v SessionView) IsLoading() bool {
	return v.State == SessionLoading || v.State == ""
}

// IsAuthorized reports whether the session is bound to a tenant
func (v SessionView) IsAuthorized() bool {
	return v.State == SessionAuthorized && v.TenantID != ""
}

// IsOwner reports whether the session acts as the tenant owner
func (v SessionView) IsOwner() bool {
	return v.IsAuthorized() && v.Role == RoleOwner
}

// Equal compares the fields that matter to subscribers
func (v SessionView) Equal(o SessionView) bool {
	if v.State != o.State || v.TenantID != o.TenantID || v.Role != o.Role {
		return false
	}
	return principalKey(v.Principal) == principalKey(o.Principal)
}

// sessionTransitions lists allowed moves. Loading is only ever the start.
var sessionTransitions = map[SessionState]map[SessionState]struct{}{
	SessionLoading: {
		SessionUnauthenticated: {},
		SessionUnauthorized:    {},
		SessionAuthorized:      {},
	},
	SessionUnauthenticated: {
		SessionUnauthenticated: {},
		SessionUnauthorized:    {},
		SessionAuthorized:      {},
	},
	SessionUnauthorized: {
		SessionUnauthenticated: {},
		SessionUnauthorized:    {},
		SessionAuthorized:      {},
	},
	SessionAuthorized: {
		SessionUnauthenticated: {},
		SessionUnauthorized:    {},
		SessionAuthorized:      {},
	},
}

// CanTransition reports whether the resolver may move from one state to another
func CanTransition(from, to SessionState) bool {
	targets, ok := sessionTransitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

func checkTransition(from, to SessionState) error {
	if CanTransition(from, to) {
		return nil
	}
	clone := ErrInvalidSessionTransition.Clone()
	if clone == nil {
		return ErrInvalidSessionTransition
	}
	return clone.WithMetadata(map[string]any{
		"from": string(from),
		"to":   string(to),
	})
}

func principalKey(p *Principal) string {
	if p == nil {
		return ""
	}
	return p.ID + "|" + p.Identifier
}

func principalID(p *Principal) string {
	if p == nil {
		return ""
	}
	return p.ID
}
