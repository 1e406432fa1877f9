package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-tenancy"
	"github.com/goliatone/go-tenancy/memstore"
)

func TestTenantRecords(t *testing.T) {
	ctx := context.Background()
	store := memstore.MustNew()

	_, err := store.ReadTenantRecord(ctx, "tenant-1")
	assert.True(t, tenancy.IsRecordNotFound(err))

	record := &tenancy.TenantRecord{TenantID: "tenant-1", DisplayName: "Nach", TenantSlug: "nach", SharedSecret: "s3cret-pass"}
	require.NoError(t, store.WriteTenantRecord(ctx, record))

	record.DisplayName = "mutated after write"

	got, err := store.ReadTenantRecord(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "Nach", got.DisplayName, "the store keeps its own copy")
	assert.False(t, got.CreatedAt.IsZero())
}

func TestMembers(t *testing.T) {
	ctx := context.Background()
	store := memstore.MustNew()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, name := range []string{"b", "a", "c"} {
		require.NoError(t, store.WriteMember(ctx, &tenancy.MemberRecord{
			MemberID:    name,
			TenantID:    "tenant-1",
			DisplayName: name,
			Active:      true,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.WriteMember(ctx, &tenancy.MemberRecord{MemberID: "x", TenantID: "tenant-2", DisplayName: "x"}))

	members, err := store.ListMembers(ctx, "tenant-1")
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{members[0].MemberID, members[1].MemberID, members[2].MemberID}, "listed by creation time")

	members, err = store.ListMembers(ctx, "tenant-3")
	require.NoError(t, err)
	assert.Empty(t, members)

	require.NoError(t, store.DeleteMember(ctx, "tenant-1", "a"))
	_, err = store.ReadMember(ctx, "tenant-1", "a")
	assert.True(t, tenancy.IsRecordNotFound(err))
	assert.True(t, tenancy.IsRecordNotFound(store.DeleteMember(ctx, "tenant-1", "a")))
}

func TestFindMemberByPrincipal(t *testing.T) {
	ctx := context.Background()
	store := memstore.MustNew()

	require.NoError(t, store.WriteMember(ctx, &tenancy.MemberRecord{
		MemberID:            "lean",
		TenantID:            "tenant-1",
		SyntheticIdentifier: "nach-lean@tenant-1.internal",
		Provisioned:         true,
		PrincipalID:         "p-1",
	}))
	require.NoError(t, store.WriteMember(ctx, &tenancy.MemberRecord{
		MemberID:            "juan",
		TenantID:            "tenant-1",
		SyntheticIdentifier: "nach-juan@tenant-1.internal",
	}))

	m, err := store.FindMemberByPrincipal(ctx, "p-1", "")
	require.NoError(t, err)
	assert.Equal(t, "lean", m.MemberID)

	m, err = store.FindMemberByPrincipal(ctx, "unknown", "NACH-LEAN@tenant-1.internal")
	require.NoError(t, err)
	assert.Equal(t, "lean", m.MemberID, "falls back to the identifier")

	_, err = store.FindMemberByPrincipal(ctx, "", "nach-juan@tenant-1.internal")
	assert.True(t, tenancy.IsRecordNotFound(err), "members that were never provisioned are not principals")
}

func TestSlugIndex(t *testing.T) {
	ctx := context.Background()
	store := memstore.MustNew()

	owner, err := store.ClaimSlug(ctx, "tenant-1", "nach")
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", owner)

	owner, err = store.ClaimSlug(ctx, "tenant-2", "nach")
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", owner)

	_, err = store.ClaimSlug(ctx, "tenant-1", "nach-cuts")
	require.NoError(t, err)

	slugs, err := store.SlugsFor(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"nach", "nach-cuts"}, slugs)

	require.NoError(t, store.ReleaseSlug(ctx, "tenant-2", "nach"))
	tenantID, err := store.ReadBySlug(ctx, "nach")
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", tenantID)

	require.NoError(t, store.ReleaseSlug(ctx, "tenant-1", "nach"))
	_, err = store.ReadBySlug(ctx, "nach")
	assert.True(t, tenancy.IsRecordNotFound(err))
}

func TestFindMemberByIdentifierSkipsConflictLoser(t *testing.T) {
	ctx := context.Background()
	store := memstore.MustNew()

	// both derive the same identifier, only the holder was provisioned
	require.NoError(t, store.WriteMember(ctx, &tenancy.MemberRecord{
		MemberID:            "a-lean",
		TenantID:            "tenant-1",
		SyntheticIdentifier: "nach-lean@tenant-1.internal",
	}))
	require.NoError(t, store.WriteMember(ctx, &tenancy.MemberRecord{
		MemberID:            "b-lean",
		TenantID:            "tenant-1",
		SyntheticIdentifier: "nach-lean@tenant-1.internal",
		Provisioned:         true,
		PrincipalID:         "p-1",
	}))

	m, err := store.FindMemberByPrincipal(ctx, "", "nach-lean@tenant-1.internal")
	require.NoError(t, err)
	assert.Equal(t, "b-lean", m.MemberID)
	assert.True(t, m.Provisioned)
}
