// Package memstore is an in-memory tenancy.DocumentStore backed by go-memdb.
package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/hashicorp/go-memdb"

	"github.com/goliatone/go-tenancy"
)

const (
	tenantTable = "tenant"
	memberTable = "member"
	slugTable   = "slug"

	pk = "id"
)

// Schema returns the memdb schema used by Store
func Schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tenantTable: {
				Name: tenantTable,
				Indexes: map[string]*memdb.IndexSchema{
					pk: {
						Name:    pk,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "TenantID"},
					},
				},
			},
			memberTable: {
				Name: memberTable,
				Indexes: map[string]*memdb.IndexSchema{
					pk: {
						Name:   pk,
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "TenantID"},
								&memdb.StringFieldIndex{Field: "MemberID"},
							},
						},
					},
					"tenant": {
						Name:    "tenant",
						Indexer: &memdb.StringFieldIndex{Field: "TenantID"},
					},
					"principal": {
						Name:         "principal",
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "PrincipalID"},
					},
					"identifier": {
						Name:         "identifier",
						AllowMissing: true,
						Indexer: &memdb.StringFieldIndex{
							Field:     "SyntheticIdentifier",
							Lowercase: true,
						},
					},
				},
			},
			slugTable: {
				Name: slugTable,
				Indexes: map[string]*memdb.IndexSchema{
					pk: {
						Name:    pk,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Slug"},
					},
					"tenant": {
						Name:    "tenant",
						Indexer: &memdb.StringFieldIndex{Field: "TenantID"},
					},
				},
			},
		},
	}
}

// Store keeps tenants, rosters and the slug index in memory
type Store struct {
	db  *memdb.MemDB
	now func() time.Time
}

// New creates an empty Store
func New() (*Store, error) {
	db, err := memdb.NewMemDB(Schema())
	if err != nil {
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// MustNew is New for tests and wiring code
func MustNew() *Store {
	s, err := New()
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Store) ReadTenantRecord(_ context.Context, tenantID string) (*tenancy.TenantRecord, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tenantTable, pk, tenantID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, tenancy.NewRecordNotFound("tenant", tenantID)
	}
	return raw.(*tenancy.TenantRecord).Clone(), nil
}

func (s *Store) WriteTenantRecord(_ context.Context, record *tenancy.TenantRecord) error {
	stored := record.Clone()
	now := s.now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = now
	}

	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tenantTable, stored); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *Store) ListMembers(_ context.Context, tenantID string) ([]*tenancy.MemberRecord, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(memberTable, "tenant", tenantID)
	if err != nil {
		return nil, err
	}

	list := []*tenancy.MemberRecord{}
	for {
		raw := iter.Next()
		if raw == nil {
			break
		}
		list = append(list, raw.(*tenancy.MemberRecord).Clone())
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].MemberID < list[j].MemberID
	})
	return list, nil
}

func (s *Store) ReadMember(_ context.Context, tenantID, memberID string) (*tenancy.MemberRecord, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(memberTable, pk, tenantID, memberID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, tenancy.NewRecordNotFound("member", memberID)
	}
	return raw.(*tenancy.MemberRecord).Clone(), nil
}

func (s *Store) WriteMember(_ context.Context, member *tenancy.MemberRecord) error {
	stored := member.Clone()
	now := s.now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = now
	}

	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(memberTable, stored); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *Store) DeleteMember(_ context.Context, tenantID, memberID string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(memberTable, pk, tenantID, memberID)
	if err != nil {
		return err
	}
	if raw == nil {
		return tenancy.NewRecordNotFound("member", memberID)
	}
	if err := txn.Delete(memberTable, raw); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *Store) FindMemberByPrincipal(_ context.Context, principalID, identifier string) (*tenancy.MemberRecord, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	if principalID != "" {
		raw, err := txn.First(memberTable, "principal", principalID)
		if err != nil {
			return nil, err
		}
		if raw != nil {
			return raw.(*tenancy.MemberRecord).Clone(), nil
		}
	}

	if identifier != "" {
		it, err := txn.Get(memberTable, "identifier", identifier)
		if err != nil {
			return nil, err
		}
		for raw := it.Next(); raw != nil; raw = it.Next() {
			if m := raw.(*tenancy.MemberRecord); m.Provisioned {
				return m.Clone(), nil
			}
		}
	}

	return nil, tenancy.NewRecordNotFound("member", principalID)
}

func (s *Store) ReadBySlug(_ context.Context, slug string) (string, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(slugTable, pk, slug)
	if err != nil {
		return "", err
	}
	if raw == nil {
		return "", tenancy.NewRecordNotFound("slug", slug)
	}
	return raw.(*tenancy.SlugRecord).TenantID, nil
}

func (s *Store) ClaimSlug(_ context.Context, tenantID, slug string) (string, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(slugTable, pk, slug)
	if err != nil {
		return "", err
	}
	if raw != nil {
		return raw.(*tenancy.SlugRecord).TenantID, nil
	}

	now := s.now().UTC()
	if err := txn.Insert(slugTable, &tenancy.SlugRecord{
		Slug:      slug,
		TenantID:  tenantID,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return "", err
	}
	txn.Commit()
	return tenantID, nil
}

func (s *Store) ReleaseSlug(_ context.Context, tenantID, slug string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(slugTable, pk, slug)
	if err != nil {
		return err
	}
	if raw == nil || raw.(*tenancy.SlugRecord).TenantID != tenantID {
		return nil
	}
	if err := txn.Delete(slugTable, raw); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// SlugsFor lists the slugs registered to tenantID
func (s *Store) SlugsFor(_ context.Context, tenantID string) ([]string, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(slugTable, "tenant", tenantID)
	if err != nil {
		return nil, err
	}
	var out []string
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*tenancy.SlugRecord).Slug)
	}
	sort.Strings(out)
	return out, nil
}

var _ tenancy.DocumentStore = (*Store)(nil)
