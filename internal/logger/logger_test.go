package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestComponentLoggers(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	previous := Get()
	SetLogger(New(zap.New(core)))
	defer SetLogger(previous)

	t.Run("component field is attached", func(t *testing.T) {
		Relations().Debug("matched", "parents", 2)

		entries := logs.TakeAll()
		require.Len(t, entries, 1)
		assert.Equal(t, "matched", entries[0].Message)
		ctx := entries[0].ContextMap()
		assert.Equal(t, "relations", ctx["component"])
		assert.Equal(t, int64(2), ctx["parents"])
	})

	t.Run("WithFields merges fields", func(t *testing.T) {
		SQL().WithFields(map[string]interface{}{"table": "tasks"}).Info("query")

		entries := logs.TakeAll()
		require.Len(t, entries, 1)
		ctx := entries[0].ContextMap()
		assert.Equal(t, "sql", ctx["component"])
		assert.Equal(t, "tasks", ctx["table"])
	})
}

func TestConfigure(t *testing.T) {
	previous := Get()
	defer SetLogger(previous)

	require.NoError(t, Configure(LevelSilent))
	require.NoError(t, Configure(LevelDebug))
	assert.NotNil(t, Get())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{" INFO ", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"", LevelWarn, false},
		{"error", LevelError, false},
		{"off", LevelSilent, false},
		{"trace", LevelWarn, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
