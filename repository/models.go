package repository

import (
	"time"

	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenancy"
)

// TenantModel is the Bun model for tenant configuration
type TenantModel struct {
	bun.BaseModel `bun:"table:tenants"`

	TenantID      string    `bun:"tenant_id,pk"`
	DisplayName   string    `bun:"display_name,notnull"`
	TenantSlug    string    `bun:"tenant_slug,notnull"`
	SharedSecret  string    `bun:"shared_secret"`
	SecretVersion int       `bun:"secret_version,notnull,default:0"`
	CreatedAt     time.Time `bun:"created_at,nullzero,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,default:current_timestamp"`
}

// MemberModel is the Bun model for roster entries. ID is the member id when
// it is a UUID, otherwise a UUID derived from tenant and member id.
type MemberModel struct {
	bun.BaseModel `bun:"table:tenant_members"`

	ID                  uuid.UUID  `bun:"id,pk,type:uuid"`
	MemberID            string     `bun:"member_id,notnull"`
	TenantID            string     `bun:"tenant_id,notnull"`
	DisplayName         string     `bun:"display_name,notnull"`
	CommissionRate      float64    `bun:"commission_rate,notnull,default:0"`
	Active              bool       `bun:"active,notnull"`
	Phone               string     `bun:"phone"`
	SyntheticIdentifier string     `bun:"synthetic_identifier"`
	Provisioned         bool       `bun:"provisioned,notnull"`
	PrincipalID         string     `bun:"principal_id"`
	SecretHash          string     `bun:"secret_hash"`
	ProvisionedAt       *time.Time `bun:"provisioned_at"`
	CreatedAt           time.Time  `bun:"created_at,nullzero,default:current_timestamp"`
	UpdatedAt           time.Time  `bun:"updated_at,nullzero,default:current_timestamp"`
}

// SlugModel is the Bun model for the slug index
type SlugModel struct {
	bun.BaseModel `bun:"table:tenant_slugs"`

	Slug      string    `bun:"slug,pk"`
	TenantID  string    `bun:"tenant_id,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,default:current_timestamp"`
}

// MemberRowID returns the primary key used for a member
func MemberRowID(tenantID, memberID string) (uuid.UUID, error) {
	if id, err := uuid.Parse(memberID); err == nil {
		return id, nil
	}
	return hashid.NewUUID(tenantID + ":" + memberID)
}

func toTenantRecord(m *TenantModel) *tenancy.TenantRecord {
	return &tenancy.TenantRecord{
		TenantID:      m.TenantID,
		DisplayName:   m.DisplayName,
		TenantSlug:    m.TenantSlug,
		SharedSecret:  m.SharedSecret,
		SecretVersion: m.SecretVersion,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func fromTenantRecord(r *tenancy.TenantRecord) *TenantModel {
	return &TenantModel{
		TenantID:      r.TenantID,
		DisplayName:   r.DisplayName,
		TenantSlug:    r.TenantSlug,
		SharedSecret:  r.SharedSecret,
		SecretVersion: r.SecretVersion,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func toMemberRecord(m *MemberModel) *tenancy.MemberRecord {
	rec := &tenancy.MemberRecord{
		MemberID:            m.MemberID,
		TenantID:            m.TenantID,
		DisplayName:         m.DisplayName,
		CommissionRate:      m.CommissionRate,
		Active:              m.Active,
		Phone:               m.Phone,
		SyntheticIdentifier: m.SyntheticIdentifier,
		Provisioned:         m.Provisioned,
		PrincipalID:         m.PrincipalID,
		SecretHash:          m.SecretHash,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
	if m.ProvisionedAt != nil {
		at := *m.ProvisionedAt
		rec.ProvisionedAt = &at
	}
	return rec
}

func fromMemberRecord(r *tenancy.MemberRecord) (*MemberModel, error) {
	id, err := MemberRowID(r.TenantID, r.MemberID)
	if err != nil {
		return nil, err
	}
	m := &MemberModel{
		ID:                  id,
		MemberID:            r.MemberID,
		TenantID:            r.TenantID,
		DisplayName:         r.DisplayName,
		CommissionRate:      r.CommissionRate,
		Active:              r.Active,
		Phone:               r.Phone,
		SyntheticIdentifier: r.SyntheticIdentifier,
		Provisioned:         r.Provisioned,
		PrincipalID:         r.PrincipalID,
		SecretHash:          r.SecretHash,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if r.ProvisionedAt != nil {
		at := *r.ProvisionedAt
		m.ProvisionedAt = &at
	}
	return m, nil
}
