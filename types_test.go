package tenancy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/goliatone/go-tenancy"
)

func TestFromZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := tenancy.FromZap(zap.New(core))

	logger.Info("slug registered", "tenant_id", "tenant-1", "slug", "nach")
	logger.Warn("activity sink failed")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "slug registered", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, map[string]any{"tenant_id": "tenant-1", "slug": "nach"}, entries[0].ContextMap())
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestFromZapNil(t *testing.T) {
	assert.NotPanics(t, func() {
		tenancy.FromZap(nil).Error("dropped")
		tenancy.NopLogger().Info("dropped", "k", "v")
	})
}
