package tenancy

import (
	"time"
)

// Role is the role a session acts under inside a tenant
type Role string

const (
	// RoleNone is the zero role, used before a principal is classified
	RoleNone Role = ""
	// RoleMember is a staff member (i.e. own data, shared tenant space)
	RoleMember Role = "member"
	// RoleOwner owns the tenant (i.e. configuration, roster, secrets)
	RoleOwner Role = "owner"
)

// IsValid checks if the role is one of the predefined roles
func (r Role) IsValid() bool {
	switch r {
	case RoleMember, RoleOwner:
		return true
	default:
		return false
	}
}

// TenantRecord is the per-tenant configuration document. TenantID is the
// owner's principal id.
type TenantRecord struct {
	TenantID      string    `json:"tenant_id"`
	DisplayName   string    `json:"display_name"`
	TenantSlug    string    `json:"tenant_slug"`
	SharedSecret  string    `json:"-"`
	SecretVersion int       `json:"secret_version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Clone returns a shallow copy
func (t *TenantRecord) Clone() *TenantRecord {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// MemberRecord is one roster entry. SyntheticIdentifier is the login handle
// the member was (or will be) provisioned under.
type MemberRecord struct {
	MemberID            string     `json:"member_id"`
	TenantID            string     `json:"tenant_id"`
	DisplayName         string     `json:"display_name"`
	CommissionRate      float64    `json:"commission_rate"`
	Active              bool       `json:"active"`
	Phone               string     `json:"phone,omitempty"`
	SyntheticIdentifier string     `json:"synthetic_identifier,omitempty"`
	Provisioned         bool       `json:"provisioned"`
	PrincipalID         string     `json:"principal_id,omitempty"`
	SecretHash          string     `json:"-"`
	ProvisionedAt       *time.Time `json:"provisioned_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Clone returns a copy that does not share the ProvisionedAt pointer
func (m *MemberRecord) Clone() *MemberRecord {
	if m == nil {
		return nil
	}
	c := *m
	if m.ProvisionedAt != nil {
		at := *m.ProvisionedAt
		c.ProvisionedAt = &at
	}
	return &c
}

// Username is the login name the member types, derived from the synthetic
// identifier.
func (m *MemberRecord) Username() string {
	if m == nil {
		return ""
	}
	username, _, ok := SplitLoginIdentifier(m.SyntheticIdentifier)
	if !ok {
		return ""
	}
	return username
}

// SlugRecord is one row of the slug index
type SlugRecord struct {
	Slug      string    `json:"slug"`
	TenantID  string    `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
