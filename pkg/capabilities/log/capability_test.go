package log

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/engageflow/flows/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute(t *testing.T) {
	tests := []struct {
		name      string
		config    map[string]any
		wantLevel string
	}{
		{
			name:      "default level",
			config:    map[string]any{"message": "hello"},
			wantLevel: "info",
		},
		{
			name:      "warn level",
			config:    map[string]any{"message": "careful", "level": "warn"},
			wantLevel: "warn",
		},
		{
			name:      "error level",
			config:    map[string]any{"message": "broken", "level": "error"},
			wantLevel: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			capability := NewCapability(tt.config)
			scope := protocol.ExecutionScope{RunID: "r1", NodeID: "n1"}

			output, err := capability.Execute(context.Background(), scope, logger)
			require.NoError(t, err)

			assert.Equal(t, tt.config["message"], output["message"])
			assert.Equal(t, tt.wantLevel, output["level"])
			assert.Contains(t, buf.String(), tt.config["message"].(string))
			assert.Contains(t, buf.String(), "run_id=r1")
		})
	}
}

func TestFactory(t *testing.T) {
	factory := NewFactory()
	assert.Equal(t, "log", factory.ID())
	require.NotNil(t, factory.Schema())

	capability, err := factory.Create(map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.NotNil(t, capability)
}
