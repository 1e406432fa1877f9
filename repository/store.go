// Package repository implements tenancy.DocumentStore on top of Bun.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenancy"
)

// NewMembersRepository exposes roster rows through go-repository-bun
func NewMembersRepository(db *bun.DB) repository.Repository[*MemberModel] {
	return repository.NewRepository[*MemberModel](db, repository.ModelHandlers[*MemberModel]{
		NewRecord: func() *MemberModel { return &MemberModel{} },
		GetID: func(m *MemberModel) uuid.UUID {
			if m == nil {
				return uuid.Nil
			}
			return m.ID
		},
		SetID: func(m *MemberModel, id uuid.UUID) {
			if m != nil {
				m.ID = id
			}
		},
		GetIdentifier: func() string {
			return "member_id"
		},
	})
}

// Store is a SQL backed tenancy.DocumentStore
type Store struct {
	db      *bun.DB
	members repository.Repository[*MemberModel]
	now     func() time.Time
}

// NewStore creates a Store. Call Migrate once to create the tables.
func NewStore(db *bun.DB) *Store {
	return &Store{
		db:      db,
		members: NewMembersRepository(db),
		now:     time.Now,
	}
}

// Members returns the generic members repository
func (s *Store) Members() repository.Repository[*MemberModel] {
	return s.members
}

func (s *Store) ReadTenantRecord(ctx context.Context, tenantID string) (*tenancy.TenantRecord, error) {
	model := &TenantModel{}
	err := s.db.NewSelect().
		Model(model).
		Where("?TableAlias.tenant_id = ?", tenantID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tenancy.NewRecordNotFound("tenant", tenantID)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read tenant")
	}
	return toTenantRecord(model), nil
}

func (s *Store) WriteTenantRecord(ctx context.Context, record *tenancy.TenantRecord) error {
	model := fromTenantRecord(record)
	if model.UpdatedAt.IsZero() {
		model.UpdatedAt = s.now().UTC()
	}

	_, err := s.db.NewInsert().
		Model(model).
		On("CONFLICT (tenant_id) DO UPDATE").
		Set("display_name = EXCLUDED.display_name").
		Set("tenant_slug = EXCLUDED.tenant_slug").
		Set("shared_secret = EXCLUDED.shared_secret").
		Set("secret_version = EXCLUDED.secret_version").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write tenant")
	}
	return nil
}

func (s *Store) ListMembers(ctx context.Context, tenantID string) ([]*tenancy.MemberRecord, error) {
	var models []MemberModel
	err := s.db.NewSelect().
		Model(&models).
		Where("?TableAlias.tenant_id = ?", tenantID).
		OrderExpr("?TableAlias.created_at ASC, ?TableAlias.member_id ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list members")
	}

	out := make([]*tenancy.MemberRecord, 0, len(models))
	for i := range models {
		out = append(out, toMemberRecord(&models[i]))
	}
	return out, nil
}

func (s *Store) ReadMember(ctx context.Context, tenantID, memberID string) (*tenancy.MemberRecord, error) {
	model, err := s.members.GetByIdentifier(ctx, memberID, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.tenant_id = ?", tenantID)
	})
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, tenancy.NewRecordNotFound("member", memberID)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read member")
	}
	return toMemberRecord(model), nil
}

func (s *Store) WriteMember(ctx context.Context, member *tenancy.MemberRecord) error {
	model, err := fromMemberRecord(member)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to derive member row id")
	}
	if model.UpdatedAt.IsZero() {
		model.UpdatedAt = s.now().UTC()
	}

	_, err = s.db.NewInsert().
		Model(model).
		On("CONFLICT (id) DO UPDATE").
		Set("display_name = EXCLUDED.display_name").
		Set("commission_rate = EXCLUDED.commission_rate").
		Set("active = EXCLUDED.active").
		Set("phone = EXCLUDED.phone").
		Set("synthetic_identifier = EXCLUDED.synthetic_identifier").
		Set("provisioned = EXCLUDED.provisioned").
		Set("principal_id = EXCLUDED.principal_id").
		Set("secret_hash = EXCLUDED.secret_hash").
		Set("provisioned_at = EXCLUDED.provisioned_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write member")
	}
	return nil
}

func (s *Store) DeleteMember(ctx context.Context, tenantID, memberID string) error {
	res, err := s.db.NewDelete().
		Model((*MemberModel)(nil)).
		Where("tenant_id = ? AND member_id = ?", tenantID, memberID).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete member")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return tenancy.NewRecordNotFound("member", memberID)
	}
	return nil
}

func (s *Store) FindMemberByPrincipal(ctx context.Context, principalID, identifier string) (*tenancy.MemberRecord, error) {
	if principalID != "" {
		model := &MemberModel{}
		err := s.db.NewSelect().
			Model(model).
			Where("?TableAlias.principal_id = ?", principalID).
			Limit(1).
			Scan(ctx)
		switch {
		case err == nil:
			return toMemberRecord(model), nil
		case !errors.Is(err, sql.ErrNoRows):
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find member by principal")
		}
	}

	if identifier != "" {
		model := &MemberModel{}
		err := s.db.NewSelect().
			Model(model).
			Where("?TableAlias.synthetic_identifier = ?", identifier).
			Where("?TableAlias.provisioned = ?", true).
			Limit(1).
			Scan(ctx)
		switch {
		case err == nil:
			return toMemberRecord(model), nil
		case !errors.Is(err, sql.ErrNoRows):
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find member by identifier")
		}
	}

	return nil, tenancy.NewRecordNotFound("member", principalID)
}

func (s *Store) ReadBySlug(ctx context.Context, slug string) (string, error) {
	model := &SlugModel{}
	err := s.db.NewSelect().
		Model(model).
		Where("?TableAlias.slug = ?", slug).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", tenancy.NewRecordNotFound("slug", slug)
		}
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read slug")
	}
	return model.TenantID, nil
}

// ClaimSlug inserts the slug unless it exists and returns its owner
func (s *Store) ClaimSlug(ctx context.Context, tenantID, slug string) (string, error) {
	now := s.now().UTC()
	_, err := s.db.NewInsert().
		Model(&SlugModel{Slug: slug, TenantID: tenantID, CreatedAt: now, UpdatedAt: now}).
		On("CONFLICT (slug) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to claim slug")
	}
	return s.ReadBySlug(ctx, slug)
}

func (s *Store) ReleaseSlug(ctx context.Context, tenantID, slug string) error {
	_, err := s.db.NewDelete().
		Model((*SlugModel)(nil)).
		Where("slug = ? AND tenant_id = ?", slug, tenantID).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to release slug")
	}
	return nil
}

// Migrate creates the tables and indexes used by Store
func Migrate(ctx context.Context, db bun.IDB) error {
	models := []any{
		(*TenantModel)(nil),
		(*MemberModel)(nil),
		(*SlugModel)(nil),
	}
	for _, m := range models {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create table")
		}
	}

	indexes := []struct {
		name    string
		model   any
		columns []string
		unique  bool
	}{
		{"idx_tenant_members_member", (*MemberModel)(nil), []string{"tenant_id", "member_id"}, true},
		{"idx_tenant_members_principal", (*MemberModel)(nil), []string{"principal_id"}, false},
		{"idx_tenant_members_identifier", (*MemberModel)(nil), []string{"synthetic_identifier"}, false},
		{"idx_tenant_slugs_tenant", (*SlugModel)(nil), []string{"tenant_id"}, false},
	}
	for _, idx := range indexes {
		q := db.NewCreateIndex().Model(idx.model).Index(idx.name).Column(idx.columns...).IfNotExists()
		if idx.unique {
			q = q.Unique()
		}
		if _, err := q.Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create index")
		}
	}
	return nil
}

var _ tenancy.DocumentStore = (*Store)(nil)
