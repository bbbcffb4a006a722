package logger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/oceanbase/conceptgraph-go/pkg/logger"
)

func TestRedactsSecrets(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := logger.FromCore(core).With("component", "test")

	log.Info("connecting", "api_key", "sk-123", "POSTGRES_PASSWORD", "hunter2", "addr", "localhost:7687", "token", "")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "[REDACTED]", fields["api_key"])
	assert.Equal(t, "[REDACTED]", fields["POSTGRES_PASSWORD"])
	assert.Equal(t, "", fields["token"])
	assert.Equal(t, "localhost:7687", fields["addr"])
	assert.Equal(t, "test", fields["component"])
}

func TestNew(t *testing.T) {
	for _, mode := range []string{"prod", "debug", "dev"} {
		log, err := logger.New(mode)
		require.NoError(t, err)
		log.Debug("hello", "mode", mode)
	}
	logger.Nop().Error("discarded", "k", 1)
}
