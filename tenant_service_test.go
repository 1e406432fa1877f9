package tenancy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-tenancy"
)

func TestSaveTenantCreatesAndUpdates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	record := f.tenant(t, "tenant-1", "Nach Barbershop")
	assert.Equal(t, "nach-barbershop", record.TenantSlug)
	assert.Equal(t, 1, record.SecretVersion)

	tenantID, err := f.registry.ResolveTenantID(ctx, "nach-barbershop")
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", tenantID)

	updated, err := f.tenants.SaveTenant(ctx, "tenant-1", tenancy.SaveTenantRequest{
		DisplayName: "Nach Barber Shop",
	})
	require.NoError(t, err)
	assert.Equal(t, "nach-barbershop", updated.TenantSlug, "an empty slug keeps the current one")
	assert.Equal(t, "Nach Barber Shop", updated.DisplayName)
	assert.Equal(t, 1, updated.SecretVersion)
	assert.Equal(t, testSecret, updated.SharedSecret)

	updated, err = f.tenants.SaveTenant(ctx, "tenant-1", tenancy.SaveTenantRequest{
		DisplayName:  "Nach Barber Shop",
		SharedSecret: "another-secret",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.SecretVersion)
}

func TestSaveTenantValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.tenants.SaveTenant(ctx, "", tenancy.SaveTenantRequest{DisplayName: "Nach"})
	assert.True(t, tenancy.IsInvalidInput(err))

	_, err = f.tenants.SaveTenant(ctx, "tenant-1", tenancy.SaveTenantRequest{})
	assert.True(t, tenancy.IsInvalidInput(err))

	_, err = f.tenants.SaveTenant(ctx, "tenant-1", tenancy.SaveTenantRequest{DisplayName: "Nach", SharedSecret: "short"})
	assert.True(t, tenancy.IsInvalidInput(err))

	_, err = f.tenants.SaveTenant(ctx, "tenant-1", tenancy.SaveTenantRequest{DisplayName: "???"})
	assert.True(t, tenancy.IsInvalidInput(err))
}

func TestSaveTenantSlugConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.tenant(t, "tenant-1", "Nach Barbershop")

	_, err := f.tenants.SaveTenant(ctx, "tenant-2", tenancy.SaveTenantRequest{
		DisplayName: "Nach Barbershop",
	})
	require.Error(t, err)
	assert.True(t, tenancy.IsSlugConflict(err))

	_, err = f.store.ReadTenantRecord(ctx, "tenant-2")
	assert.True(t, tenancy.IsRecordNotFound(err), "no record is written for a rejected slug")

	record, err := f.tenants.SaveTenant(ctx, "tenant-2", tenancy.SaveTenantRequest{
		DisplayName: "Nach Barbershop",
		Slug:        "Nach Barbershop Downtown",
	})
	require.NoError(t, err)
	assert.Equal(t, "nach-barbershop-downtown", record.TenantSlug)
}

func TestRenameWithoutProvisionedMembers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.tenant(t, "tenant-1", "Nach Barbershop")
	f.member(t, "tenant-1", "Lean")

	report, err := f.tenants.Rename(ctx, "tenant-1", tenancy.RenameRequest{Slug: "Nach Cuts"})
	require.NoError(t, err)
	assert.Equal(t, "nach-barbershop", report.PreviousSlug)
	assert.Equal(t, "nach-cuts", report.Tenant.TenantSlug)
	assert.True(t, report.PreviousSlugReleased)
	assert.Nil(t, report.Roster)

	_, err = f.registry.ResolveTenantID(ctx, "nach-barbershop")
	assert.True(t, tenancy.IsTenantNotFound(err))

	tenantID, slug, err := f.registry.ResolveUsername(ctx, "nach-cuts-lean")
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", tenantID)
	assert.Equal(t, "nach-cuts", slug)
}

func TestRenameBlockedByProvisionedMembers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.tenant(t, "tenant-1", "Nach Barbershop")
	lean := f.member(t, "tenant-1", "Lean")

	_, err := f.provisioner.ProvisionRoster(ctx, "tenant-1")
	require.NoError(t, err)

	_, err = f.tenants.Rename(ctx, "tenant-1", tenancy.RenameRequest{Slug: "nach-cuts"})
	require.Error(t, err)
	assert.True(t, tenancy.IsRenameBlocked(err))

	_, err = f.tenants.SaveTenant(ctx, "tenant-1", tenancy.SaveTenantRequest{
		DisplayName: "Nach Cuts",
		Slug:        "nach-cuts",
	})
	assert.True(t, tenancy.IsRenameBlocked(err), "configuration saves go through the same check")

	record, err := f.store.ReadTenantRecord(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "nach-barbershop", record.TenantSlug)

	tenantID, _, err := f.registry.ResolveUsername(ctx, lean.Username())
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", tenantID, "existing logins keep resolving")

	_, err = f.registry.ResolveTenantID(ctx, "nach-cuts")
	assert.True(t, tenancy.IsTenantNotFound(err))
}

func TestRenameWithReprovision(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.tenant(t, "tenant-1", "Nach Barbershop")
	lean := f.member(t, "tenant-1", "Lean")

	_, err := f.provisioner.ProvisionRoster(ctx, "tenant-1")
	require.NoError(t, err)
	oldIdentifier := "nach-barbershop-lean@tenant-1.internal"

	report, err := f.tenants.Rename(ctx, "tenant-1", tenancy.RenameRequest{Slug: "nach-cuts", Reprovision: true})
	require.NoError(t, err)
	require.NotNil(t, report.Roster)
	assert.Equal(t, []string{lean.MemberID}, report.Roster.Provisioned)
	assert.Equal(t, []string{oldIdentifier}, report.Orphaned)
	assert.True(t, report.PreviousSlugReleased)

	stored, err := f.store.ReadMember(ctx, "tenant-1", lean.MemberID)
	require.NoError(t, err)
	assert.Equal(t, "nach-cuts-lean@tenant-1.internal", stored.SyntheticIdentifier)

	assert.True(t, f.provider.HasAccount("nach-cuts-lean@tenant-1.internal"))
	assert.True(t, f.provider.HasAccount(oldIdentifier), "the previous principal is left for manual cleanup")

	_, _, err = f.registry.ResolveUsername(ctx, "nach-barbershop-lean")
	assert.True(t, tenancy.IsTenantNotFound(err))
}

func TestRenameSameSlugUpdatesName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.tenant(t, "tenant-1", "Nach Barbershop")

	report, err := f.tenants.Rename(ctx, "tenant-1", tenancy.RenameRequest{Slug: "Nach Barbershop", DisplayName: "Nach!"})
	require.NoError(t, err)
	assert.Equal(t, "nach-barbershop", report.Tenant.TenantSlug)
	assert.Equal(t, "Nach!", report.Tenant.DisplayName)
	assert.False(t, report.PreviousSlugReleased)
}

func TestAddMember(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.tenant(t, "tenant-1", "Nach Barbershop")

	m, err := f.tenants.AddMember(ctx, "tenant-1", tenancy.AddMemberRequest{
		DisplayName:    " Juan Pérez ",
		CommissionRate: 0.5,
		Phone:          "+1 650-253-0000",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, m.MemberID)
	assert.Equal(t, "Juan Pérez", m.DisplayName)
	assert.True(t, m.Active)
	assert.False(t, m.Provisioned)
	assert.Equal(t, "+16502530000", m.Phone)
	assert.Equal(t, "nach-barbershop-juan-perez@tenant-1.internal", m.SyntheticIdentifier)

	_, err = f.tenants.AddMember(ctx, "tenant-1", tenancy.AddMemberRequest{DisplayName: "???"})
	assert.True(t, tenancy.IsInvalidInput(err))

	_, err = f.tenants.AddMember(ctx, "tenant-1", tenancy.AddMemberRequest{DisplayName: "Ana", CommissionRate: 1.5})
	assert.True(t, tenancy.IsInvalidInput(err))

	_, err = f.tenants.AddMember(ctx, "tenant-1", tenancy.AddMemberRequest{DisplayName: "Ana", Phone: "12"})
	assert.True(t, tenancy.IsInvalidInput(err))

	_, err = f.tenants.AddMember(ctx, "missing", tenancy.AddMemberRequest{DisplayName: "Ana"})
	assert.True(t, tenancy.IsRecordNotFound(err))
}

func TestUpdateAndRemoveMember(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.tenant(t, "tenant-1", "Nach Barbershop")
	lean := f.member(t, "tenant-1", "Lean")
	juan := f.member(t, "tenant-1", "Juan")

	require.NoError(t, f.provisioner.ProvisionMember(ctx, "tenant-1", "nach-barbershop", testSecret, lean))

	inactive := false
	rate := 0.25
	updated, err := f.tenants.UpdateMember(ctx, "tenant-1", juan.MemberID, tenancy.UpdateMemberRequest{
		Active:         &inactive,
		CommissionRate: &rate,
	})
	require.NoError(t, err)
	assert.False(t, updated.Active)
	assert.Equal(t, 0.25, updated.CommissionRate)

	orphaned, err := f.tenants.RemoveMember(ctx, "tenant-1", lean.MemberID)
	require.NoError(t, err)
	assert.Equal(t, "nach-barbershop-lean@tenant-1.internal", orphaned)

	orphaned, err = f.tenants.RemoveMember(ctx, "tenant-1", juan.MemberID)
	require.NoError(t, err)
	assert.Empty(t, orphaned)

	members, err := f.tenants.ListMembers(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Empty(t, members)

	_, err = f.tenants.RemoveMember(ctx, "tenant-1", lean.MemberID)
	assert.True(t, tenancy.IsRecordNotFound(err))
}
