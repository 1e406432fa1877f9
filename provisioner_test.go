package tenancy_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-tenancy"
	"github.com/goliatone/go-tenancy/provider/memory"
)

func writeMember(t *testing.T, f *fixture, tenantID, id, name string, createdAt time.Time) *tenancy.MemberRecord {
	t.Helper()
	m := &tenancy.MemberRecord{
		MemberID:    id,
		TenantID:    tenantID,
		DisplayName: name,
		Active:      true,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	require.NoError(t, f.store.WriteMember(context.Background(), m))
	return m
}

func TestProvisionMemberIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.tenant(t, "tenant-1", "Nach Barbershop")
	m := f.member(t, "tenant-1", "Lean")

	require.NoError(t, f.provisioner.ProvisionMember(ctx, "tenant-1", "nach-barbershop", testSecret, m))
	assert.True(t, m.Provisioned)
	assert.Equal(t, "nach-barbershop-lean@tenant-1.internal", m.SyntheticIdentifier)
	assert.NotEmpty(t, m.PrincipalID)
	require.NotNil(t, m.ProvisionedAt)
	firstPrincipal := m.PrincipalID

	require.NoError(t, f.provisioner.ProvisionMember(ctx, "tenant-1", "nach-barbershop", testSecret, m),
		"an existing account counts as success")
	assert.Equal(t, firstPrincipal, m.PrincipalID)
	assert.Equal(t, 1, f.provider.Accounts())
	assert.Equal(t, 2, f.provider.CreateCalls())

	stored, err := f.store.ReadMember(ctx, "tenant-1", m.MemberID)
	require.NoError(t, err)
	assert.True(t, stored.Provisioned)
	assert.Equal(t, firstPrincipal, stored.PrincipalID)
	assert.Equal(t, "nach-barbershop-lean", stored.Username())
}

func TestProvisionMemberRecoversExistingPrincipal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.tenant(t, "tenant-1", "Nach Barbershop")

	identifier := tenancy.DeriveMemberIdentifier("nach-barbershop", "Lean", "tenant-1")
	principalID, err := f.provider.CreateAccount(ctx, identifier, "created-out-of-band")
	require.NoError(t, err)

	m := f.member(t, "tenant-1", "Lean")
	require.NoError(t, f.provisioner.ProvisionMember(ctx, "tenant-1", "nach-barbershop", testSecret, m))

	assert.Equal(t, principalID, m.PrincipalID, "the principal is looked up when the account already existed")
	assert.Empty(t, m.SecretHash, "the secret of an account created elsewhere is unknown")
}

func TestProvisionMemberIdentifierConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.tenant(t, "tenant-1", "Nach Barbershop")

	first := f.member(t, "tenant-1", "Lean")
	second := f.member(t, "tenant-1", "LEAN")

	require.NoError(t, f.provisioner.ProvisionMember(ctx, "tenant-1", "nach-barbershop", testSecret, first))

	err := f.provisioner.ProvisionMember(ctx, "tenant-1", "nach-barbershop", testSecret, second)
	require.Error(t, err)
	assert.True(t, tenancy.IsIdentifierConflict(err))
	assert.False(t, second.Provisioned)
	assert.Equal(t, 1, f.provider.Accounts())
}

func TestProvisionMemberValidatesInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name     string
		tenantID string
		slug     string
		secret   string
		member   *tenancy.MemberRecord
	}{
		{name: "nil member", tenantID: "t", slug: "nach", secret: testSecret},
		{name: "missing tenant", slug: "nach", secret: testSecret, member: &tenancy.MemberRecord{DisplayName: "Lean"}},
		{name: "missing slug", tenantID: "t", slug: "!!", secret: testSecret, member: &tenancy.MemberRecord{DisplayName: "Lean"}},
		{name: "missing secret", tenantID: "t", slug: "nach", member: &tenancy.MemberRecord{DisplayName: "Lean"}},
		{name: "empty username", tenantID: "t", slug: "nach", secret: testSecret, member: &tenancy.MemberRecord{DisplayName: "???"}},
		{name: "foreign member", tenantID: "t", slug: "nach", secret: testSecret, member: &tenancy.MemberRecord{TenantID: "other", DisplayName: "Lean"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.provisioner.ProvisionMember(ctx, tt.tenantID, tt.slug, tt.secret, tt.member)
			require.Error(t, err)
			assert.True(t, tenancy.IsInvalidInput(err))
		})
	}
	assert.Zero(t, f.provider.CreateCalls())
}

func TestProvisionMemberProviderFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.tenant(t, "tenant-1", "Nach Barbershop")
	m := f.member(t, "tenant-1", "Lean")

	f.provider.Fail(memory.OpCreateAccount, tenancy.NewProviderUnavailable("create_account", errors.New("503")))

	err := f.provisioner.ProvisionMember(ctx, "tenant-1", "nach-barbershop", testSecret, m)
	require.Error(t, err)
	assert.True(t, tenancy.IsProvisioningFailed(err))
	assert.True(t, tenancy.IsProviderUnavailable(err))

	var perr *tenancy.ProvisioningError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, m.MemberID, perr.MemberID)
	assert.Equal(t, "Lean", perr.DisplayName)

	stored, err := f.store.ReadMember(ctx, "tenant-1", m.MemberID)
	require.NoError(t, err)
	assert.False(t, stored.Provisioned)
}

func TestProvisionRosterConflictsKeepOldest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.tenant(t, "tenant-1", "Nach Barbershop")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	writeMember(t, f, "tenant-1", "m-lean", "Lean", base)
	writeMember(t, f, "tenant-1", "m-juan", "Juan Pérez", base.Add(time.Minute))
	writeMember(t, f, "tenant-1", "m-lean-dup", "LEAN", base.Add(2*time.Minute))

	inactive := writeMember(t, f, "tenant-1", "m-ana", "Ana", base.Add(3*time.Minute))
	inactive.Active = false
	require.NoError(t, f.store.WriteMember(ctx, inactive))

	report, err := f.provisioner.ProvisionRoster(ctx, "tenant-1")
	require.NoError(t, err)

	assert.Equal(t, "nach-barbershop", report.Slug)
	assert.Equal(t, []string{"m-juan", "m-lean"}, report.Provisioned)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "m-lean-dup", report.Failures[0].MemberID)
	assert.True(t, report.Failures[0].Conflict)
	assert.Equal(t, "nach-barbershop-lean@tenant-1.internal", report.Failures[0].Identifier)
	assert.True(t, report.HasFailures())

	assert.True(t, f.provider.HasAccount("nach-barbershop-juan-perez@tenant-1.internal"))
	assert.False(t, f.provider.HasAccount("nach-barbershop-ana@tenant-1.internal"))
	assert.Equal(t, 2, f.provider.Accounts())
}

func TestProvisionRosterHolderWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.tenant(t, "tenant-1", "Nach Barbershop")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	older := writeMember(t, f, "tenant-1", "m-old", "Lean", base)
	newer := writeMember(t, f, "tenant-1", "m-new", "Lean", base.Add(time.Hour))

	// the newer member got provisioned first, e.g. through a single member call
	require.NoError(t, f.provisioner.ProvisionMember(ctx, "tenant-1", "nach-barbershop", testSecret, newer))

	report, err := f.provisioner.ProvisionRoster(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m-new"}, report.Provisioned)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, older.MemberID, report.Failures[0].MemberID)
	assert.True(t, tenancy.IsIdentifierConflict(report.Failures[0].Err))
}

func TestProvisionRosterPartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tenancy.WithProvisionConcurrency(1))
	f.tenant(t, "tenant-1", "Nach Barbershop")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	writeMember(t, f, "tenant-1", "m-1", "Lean", base)
	writeMember(t, f, "tenant-1", "m-2", "Juan", base.Add(time.Minute))
	writeMember(t, f, "tenant-1", "m-3", "Ana", base.Add(2*time.Minute))

	f.provider.Fail(memory.OpCreateAccount, errors.New("provider timeout"))

	report, err := f.provisioner.ProvisionRoster(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m-2", "m-3"}, report.Provisioned, "successful members are kept")
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "m-1", report.Failures[0].MemberID)
	assert.False(t, report.Failures[0].Conflict)
	assert.True(t, tenancy.IsProvisioningFailed(report.Failures[0].Err))
	assert.NotEmpty(t, report.Failures[0].Reason)

	report, err = f.provisioner.ProvisionRoster(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m-1", "m-2", "m-3"}, report.Provisioned, "rerunning the roster is safe")
	assert.False(t, report.HasFailures())
	assert.Equal(t, 3, f.provider.Accounts())
}

func TestProvisionRosterRequiresSecret(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.tenants.SaveTenant(ctx, "tenant-1", tenancy.SaveTenantRequest{DisplayName: "Nach Barbershop"})
	require.NoError(t, err)

	_, err = f.provisioner.ProvisionRoster(ctx, "tenant-1")
	assert.True(t, tenancy.IsInvalidInput(err))

	_, err = f.provisioner.ProvisionRoster(ctx, "missing")
	assert.True(t, tenancy.IsRecordNotFound(err))
}

func TestProvisionRosterConcurrentCallsCreateOneAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.tenant(t, "tenant-1", "Nach Barbershop")
	f.member(t, "tenant-1", "Lean")

	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := f.provisioner.ProvisionRoster(ctx, "tenant-1")
			done <- err
		}()
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, <-done)
	}
	assert.Equal(t, 1, f.provider.Accounts())
}

func TestStaleMembersAfterRotation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.tenant(t, "tenant-1", "Nach Barbershop")
	lean := f.member(t, "tenant-1", "Lean")

	_, err := f.provisioner.ProvisionRoster(ctx, "tenant-1")
	require.NoError(t, err)

	stale, err := f.provisioner.StaleMembers(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Empty(t, stale)

	record, err := f.tenants.RotateSharedSecret(ctx, "tenant-1", "rotated-secret")
	require.NoError(t, err)
	assert.Equal(t, 2, record.SecretVersion)

	juan := f.member(t, "tenant-1", "Juan")
	require.NoError(t, f.provisioner.ProvisionMember(ctx, "tenant-1", record.TenantSlug, record.SharedSecret, juan))

	stale, err = f.provisioner.StaleMembers(ctx, "tenant-1")
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, lean.MemberID, stale[0].MemberID)

	_, err = f.provider.Authenticate(ctx, lean.SyntheticIdentifier, testSecret)
	assert.NoError(t, err, "existing accounts keep the secret they were created with")
	_, err = f.provider.Authenticate(ctx, juan.SyntheticIdentifier, "rotated-secret")
	assert.NoError(t, err)
}
