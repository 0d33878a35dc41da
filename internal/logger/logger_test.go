package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestComponentAddsField(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.Component("Scheduler").Info("flushed", "batch_size", 3)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "flushed", entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "Scheduler", ctx["component"])
	assert.EqualValues(t, 3, ctx["batch_size"])
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"dev", "prod"} {
		l, err := New(mode)
		require.NoError(t, err)
		l.Debug("hello")
	}
	Nop().Info("discarded")
}
