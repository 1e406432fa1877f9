package pointer_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-tenancy"
	"github.com/goliatone/go-tenancy/pointer"
)

func TestOpenMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device", "pointer.yaml")

	store, err := pointer.Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, store.Path())

	_, ok := store.Get(tenancy.ActiveTenantKey)
	assert.False(t, ok)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "opening does not create the file")
}

func TestSetSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device", "pointer.yaml")

	store, err := pointer.Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Set(tenancy.ActiveTenantKey, "tenant-1"))
	require.NoError(t, store.Set(tenancy.ActiveTenantKey, "tenant-2"))

	reopened, err := pointer.Open(path)
	require.NoError(t, err)
	value, ok := reopened.Get(tenancy.ActiveTenantKey)
	require.True(t, ok)
	assert.Equal(t, "tenant-2", value)

	require.NoError(t, reopened.Delete(tenancy.ActiveTenantKey))
	require.NoError(t, reopened.Delete("never-set"))

	again, err := pointer.Open(path)
	require.NoError(t, err)
	_, ok = again.Get(tenancy.ActiveTenantKey)
	assert.False(t, ok)
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pointer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("values: [not, a, map"), 0o600))

	_, err := pointer.Open(path)
	require.Error(t, err)
	assert.True(t, goerrors.IsCategory(err, goerrors.CategoryBadInput))

	var rich *goerrors.Error
	require.True(t, errors.As(err, &rich))
	assert.Equal(t, path, rich.Metadata["path"])
}

func TestSetReportsUnwritableDirectory(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(parent, []byte("not a dir"), 0o600))

	store, err := pointer.Open(filepath.Join(parent, "pointer.yaml"))
	require.NoError(t, err)

	err = store.Set(tenancy.ActiveTenantKey, "tenant-1")
	require.Error(t, err)
	assert.True(t, goerrors.IsCategory(err, goerrors.CategoryInternal))

	_, ok := store.Get(tenancy.ActiveTenantKey)
	assert.False(t, ok, "a failed write leaves the store unchanged")
}
