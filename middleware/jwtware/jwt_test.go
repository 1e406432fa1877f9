package jwtware_test

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-tenancy/middleware/jwtware"
)

var signingKey = []byte("test-secret")

func hsConfig() jwtware.Config {
	return jwtware.Config{
		SigningKey: jwtware.SigningKey{
			Key:    signingKey,
			JWTAlg: jwt.SigningMethodHS256.Alg(),
		},
		ErrorHandler: func(ctx router.Context, err error) error {
			return err
		},
	}
}

func bearerContext(token string) *router.MockContext {
	ctx := router.NewMockContext()
	ctx.HeadersM["Authorization"] = "Bearer " + token
	ctx.On("GetString", "Authorization", "").Return("Bearer " + token)
	ctx.On("Locals", jwtware.DefaultContextKey, mock.AnythingOfType("*jwtware.OwnerClaims")).Return(nil).Maybe()
	return ctx
}

func TestOwnerTokenAccepted(t *testing.T) {
	token, err := jwtware.NewOwnerToken(signingKey, "tenant-1", time.Hour)
	require.NoError(t, err)

	var called bool
	handler := jwtware.New(hsConfig())(func(c router.Context) error {
		called = true
		return nil
	})

	require.NoError(t, handler(bearerContext(token)))
	assert.True(t, called)
}

func TestMissingToken(t *testing.T) {
	handler := jwtware.New(hsConfig())(func(c router.Context) error {
		t.Fatal("handler must not run")
		return nil
	})

	ctx := router.NewMockContext()
	ctx.On("GetString", "Authorization", "").Return("")

	err := handler(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, jwtware.ErrJWTMissingOrMalformed))
}

func TestExpiredToken(t *testing.T) {
	token, err := jwtware.NewOwnerToken(signingKey, "tenant-1", -time.Hour)
	require.NoError(t, err)

	handler := jwtware.New(hsConfig())(func(c router.Context) error {
		t.Fatal("handler must not run")
		return nil
	})

	err = handler(bearerContext(token))
	require.Error(t, err)
	assert.True(t, errors.Is(err, jwt.ErrTokenExpired))
}

func TestTokenSignedWithAnotherKey(t *testing.T) {
	token, err := jwtware.NewOwnerToken([]byte("other-secret"), "tenant-1", time.Hour)
	require.NoError(t, err)

	handler := jwtware.New(hsConfig())(func(c router.Context) error {
		t.Fatal("handler must not run")
		return nil
	})

	err = handler(bearerContext(token))
	require.Error(t, err)
	assert.True(t, errors.Is(err, jwt.ErrTokenSignatureInvalid))
}

func TestTokenWithoutTenant(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(signingKey)
	require.NoError(t, err)

	handler := jwtware.New(hsConfig())(func(c router.Context) error {
		t.Fatal("handler must not run")
		return nil
	})

	err = handler(bearerContext(token))
	assert.ErrorIs(t, err, jwtware.ErrTenantMissing)
}

func TestValidationListenerRejects(t *testing.T) {
	token, err := jwtware.NewOwnerToken(signingKey, "tenant-1", time.Hour)
	require.NoError(t, err)

	denied := errors.New("denied")
	cfg := hsConfig()
	cfg.ValidationListeners = []jwtware.ValidationListener{
		func(ctx router.Context, claims *jwtware.OwnerClaims) error {
			assert.Equal(t, "tenant-1", claims.Tenant())
			return denied
		},
	}

	handler := jwtware.New(cfg)(func(c router.Context) error {
		t.Fatal("handler must not run")
		return nil
	})

	assert.ErrorIs(t, handler(bearerContext(token)), denied)
}

func TestOwnerClaimsTenant(t *testing.T) {
	claims := &jwtware.OwnerClaims{TenantID: "tenant-2"}
	claims.Subject = "tenant-1"
	assert.Equal(t, "tenant-2", claims.Tenant())

	claims.TenantID = ""
	assert.Equal(t, "tenant-1", claims.Tenant())

	var empty *jwtware.OwnerClaims
	assert.Equal(t, "", empty.Tenant())
}

func TestGetExtractors(t *testing.T) {
	extractors := jwtware.GetExtractors("header:Authorization, query:token, cookie:jwt, bogus")
	assert.Len(t, extractors, 3)
}

func TestMissingKeySourcePanics(t *testing.T) {
	assert.Panics(t, func() {
		jwtware.New(jwtware.Config{})
	})
}
