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

type bindRecorder struct {
	tenants  []string
	released []string
	err      error
}

func (b *bindRecorder) BindTenant(_ context.Context, tenantID string) error {
	if b.err != nil {
		return b.err
	}
	b.tenants = append(b.tenants, tenantID)
	return nil
}

func (b *bindRecorder) ReleaseTenant(_ context.Context, tenantID string) error {
	b.released = append(b.released, tenantID)
	return nil
}

func TestLoginRequestValidation(t *testing.T) {
	tests := []struct {
		name string
		req  tenancy.LoginRequest
		ok   bool
	}{
		{name: "owner", req: tenancy.LoginRequest{Mode: tenancy.LoginModeOwner, IdentifierInput: "a@b.co", Secret: "x"}, ok: true},
		{name: "staff", req: tenancy.LoginRequest{Mode: tenancy.LoginModeStaff, IdentifierInput: "nach-lean", Secret: "x"}, ok: true},
		{name: "owner needs email", req: tenancy.LoginRequest{Mode: tenancy.LoginModeOwner, IdentifierInput: "nach-lean", Secret: "x"}},
		{name: "unknown mode", req: tenancy.LoginRequest{Mode: "admin", IdentifierInput: "a@b.co", Secret: "x"}},
		{name: "missing secret", req: tenancy.LoginRequest{Mode: tenancy.LoginModeStaff, IdentifierInput: "nach-lean"}},
		{name: "missing identifier", req: tenancy.LoginRequest{Mode: tenancy.LoginModeStaff, Secret: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoginRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	login := tenancy.NewLoginService(f.provider, f.registry, &bindRecorder{})

	_, err := login.Login(context.Background(), tenancy.LoginRequest{
		Mode:            tenancy.LoginModeOwner,
		IdentifierInput: "not-an-email",
		Secret:          testSecret,
	})
	require.Error(t, err)
	assert.True(t, tenancy.IsInvalidInput(err))
}

func TestStaffLoginUnknownUsername(t *testing.T) {
	f := newFixture(t)
	provisionedStaff(t, f)
	binder := &bindRecorder{}
	login := tenancy.NewLoginService(f.provider, f.registry, binder)

	_, err := login.Login(context.Background(), tenancy.LoginRequest{
		Mode:            tenancy.LoginModeStaff,
		IdentifierInput: "other-shop-lean",
		Secret:          testSecret,
	})
	require.Error(t, err)
	assert.True(t, tenancy.IsTenantNotFound(err))
	assert.Empty(t, binder.tenants, "the pointer is not touched for unknown tenants")
}

func TestStaffLoginBindFailure(t *testing.T) {
	f := newFixture(t)
	provisionedStaff(t, f)
	boom := errors.New("pointer unavailable")
	login := tenancy.NewLoginService(f.provider, f.registry, &bindRecorder{err: boom})

	_, err := login.Login(context.Background(), tenancy.LoginRequest{
		Mode:            tenancy.LoginModeStaff,
		IdentifierInput: "nach-barbershop-lean",
		Secret:          testSecret,
	})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, f.provider.Current(), "authenticate is skipped when the bind fails")
}

func TestStaffLoginWrongSecret(t *testing.T) {
	f := newFixture(t)
	provisionedStaff(t, f)
	binder := &bindRecorder{}
	sink := &recordingSink{}
	login := tenancy.NewLoginService(f.provider, f.registry, binder, tenancy.WithLoginActivitySink(sink))

	_, err := login.Login(context.Background(), tenancy.LoginRequest{
		Mode:            tenancy.LoginModeStaff,
		IdentifierInput: "nach-barbershop-lean",
		Secret:          "wrong-secret",
	})
	require.Error(t, err)
	assert.True(t, tenancy.IsInvalidCredential(err))
	assert.Equal(t, []string{"tenant-1"}, binder.tenants)
	assert.Equal(t, []string{"tenant-1"}, binder.released, "a failed login gives the bind back")
	assert.Equal(t, []string{string(tenancy.ActivityEventLoginFailure)}, sink.types())
}

func TestLoginProviderOutage(t *testing.T) {
	f := newFixture(t)
	f.owner(t, ownerEmail)
	login := tenancy.NewLoginService(f.provider, f.registry, &bindRecorder{})

	f.provider.Fail(memory.OpAuthenticate, errors.New("connection reset"))

	_, err := login.Login(context.Background(), tenancy.LoginRequest{
		Mode:            tenancy.LoginModeOwner,
		IdentifierInput: ownerEmail,
		Secret:          testSecret,
	})
	require.Error(t, err)
	assert.True(t, tenancy.IsProviderUnavailable(err))

	result, err := login.Login(context.Background(), tenancy.LoginRequest{
		Mode:            tenancy.LoginModeOwner,
		IdentifierInput: ownerEmail,
		Secret:          testSecret,
	})
	require.NoError(t, err, "the user can retry once the provider recovers")
	assert.NotNil(t, result.Principal)
}

func TestOwnerLoginFailureReleasesNothing(t *testing.T) {
	f := newFixture(t)
	f.owner(t, ownerEmail)
	binder := &bindRecorder{}
	login := tenancy.NewLoginService(f.provider, f.registry, binder)

	_, err := login.Login(context.Background(), tenancy.LoginRequest{
		Mode:            tenancy.LoginModeOwner,
		IdentifierInput: ownerEmail,
		Secret:          "wrong-secret",
	})
	assert.True(t, tenancy.IsInvalidCredential(err))
	assert.Empty(t, binder.tenants)
	assert.Empty(t, binder.released)
}

func TestLoginTimeout(t *testing.T) {
	f := newFixture(t)
	provider := memory.New(memory.WithAuthenticateDelay(time.Second))
	_, err := provider.CreateAccount(context.Background(), ownerEmail, testSecret)
	require.NoError(t, err)

	login := tenancy.NewLoginService(provider, f.registry, &bindRecorder{},
		tenancy.WithAuthenticateTimeout(20*time.Millisecond),
	)

	_, err = login.Login(context.Background(), tenancy.LoginRequest{
		Mode:            tenancy.LoginModeOwner,
		IdentifierInput: ownerEmail,
		Secret:          testSecret,
	})
	require.Error(t, err)
	assert.True(t, tenancy.IsProviderUnavailable(err))
}

func TestLoginSurvivesCallerCancellation(t *testing.T) {
	f := newFixture(t)
	f.owner(t, ownerEmail)
	login := tenancy.NewLoginService(f.provider, f.registry, &bindRecorder{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := login.Login(ctx, tenancy.LoginRequest{
		Mode:            tenancy.LoginModeOwner,
		IdentifierInput: ownerEmail,
		Secret:          testSecret,
	})
	require.NoError(t, err)
	assert.Equal(t, ownerEmail, f.provider.Current().Identifier)
	assert.Equal(t, result.Principal.ID, f.provider.Current().ID)
}

func TestSendPasswordReset(t *testing.T) {
	f := newFixture(t)
	login := tenancy.NewLoginService(f.provider, f.registry, &bindRecorder{})

	require.NoError(t, login.SendPasswordReset(context.Background(), " Owner@Nach.test "))
	assert.Equal(t, []string{ownerEmail}, f.provider.PasswordResets())

	err := login.SendPasswordReset(context.Background(), "nach-barbershop-lean@tenant-1.internal")
	assert.True(t, tenancy.IsInvalidInput(err), "staff identifiers are not mailboxes")

	err = login.SendPasswordReset(context.Background(), "nope")
	assert.True(t, tenancy.IsInvalidInput(err))

	assert.Len(t, f.provider.PasswordResets(), 1)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	f.owner(t, ownerEmail)
	login := tenancy.NewLoginService(f.provider, f.registry, &bindRecorder{})

	_, err := login.Login(context.Background(), tenancy.LoginRequest{
		Mode:            tenancy.LoginModeOwner,
		IdentifierInput: ownerEmail,
		Secret:          testSecret,
	})
	require.NoError(t, err)
	require.NotNil(t, f.provider.Current())

	require.NoError(t, login.Logout(context.Background()))
	assert.Nil(t, f.provider.Current())

	boom := errors.New("provider offline")
	f.provider.Fail(memory.OpSignOut, boom)
	assert.ErrorIs(t, login.Logout(context.Background()), boom)
}

func TestStaffLoginAfterSlugChangeNeedsReprovisioning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	lean := provisionedStaff(t, f)
	login := tenancy.NewLoginService(f.provider, f.registry, &bindRecorder{})

	// a second slug registered outside Rename resolves to the same tenant
	_, err := f.registry.RegisterSlug(ctx, "tenant-1", "nach-cuts")
	require.NoError(t, err)

	_, err = login.Login(ctx, tenancy.LoginRequest{
		Mode:            tenancy.LoginModeStaff,
		IdentifierInput: "nach-cuts-lean",
		Secret:          testSecret,
	})
	require.Error(t, err)
	assert.True(t, tenancy.IsInvalidCredential(err), "no account exists for the new identifier yet")

	_, err = login.Login(ctx, tenancy.LoginRequest{
		Mode:            tenancy.LoginModeStaff,
		IdentifierInput: "nach-barbershop-lean",
		Secret:          testSecret,
	})
	require.NoError(t, err, "the provisioned identifier keeps working")

	current, err := f.store.ReadMember(ctx, "tenant-1", lean.MemberID)
	require.NoError(t, err)
	require.NoError(t, f.provisioner.ProvisionMember(ctx, "tenant-1", "nach-cuts", testSecret, current))

	result, err := login.Login(ctx, tenancy.LoginRequest{
		Mode:            tenancy.LoginModeStaff,
		IdentifierInput: "nach-cuts-lean",
		Secret:          testSecret,
	})
	require.NoError(t, err)
	assert.Equal(t, "nach-cuts-lean@tenant-1.internal", result.Identifier)
}

func TestStaffLoginForOwnerKeyedTenant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ownerID := f.owner(t, ownerEmail)
	f.tenant(t, ownerID, "Nach Barbershop")
	lean := f.member(t, ownerID, "Lean")
	require.NoError(t, f.provisioner.ProvisionMember(ctx, ownerID, "nach-barbershop", testSecret, lean))

	binder := &bindRecorder{}
	login := tenancy.NewLoginService(f.provider, f.registry, binder)

	result, err := login.Login(ctx, tenancy.LoginRequest{
		Mode:            tenancy.LoginModeStaff,
		IdentifierInput: "nach-barbershop-lean",
		Secret:          testSecret,
	})
	require.NoError(t, err)
	assert.Equal(t, ownerID, result.TenantID)
	assert.Equal(t, "nach-barbershop-lean@"+tenancy.TenantLabel(ownerID)+".internal", result.Identifier)
	assert.NotContains(t, result.Identifier, "|")
	assert.Equal(t, []string{ownerID}, binder.tenants)
}
