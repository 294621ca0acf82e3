// Package log implements the log capability, which writes a templated
// message to the service log.
package log

import (
	"context"
	"log/slog"

	"github.com/engageflow/flows/pkg/protocol"
)

type Capability struct {
	message string
	level   string
}

func NewCapability(config map[string]any) *Capability {
	message, _ := config["message"].(string)

	level, _ := config["level"].(string)
	if level == "" {
		level = "info"
	}

	return &Capability{message: message, level: level}
}

func (c *Capability) Execute(ctx context.Context, scope protocol.ExecutionScope, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("run_id", scope.RunID, "node_id", scope.NodeID)

	switch c.level {
	case "debug":
		logger.DebugContext(ctx, c.message)
	case "warn", "warning":
		logger.WarnContext(ctx, c.message)
	case "error":
		logger.ErrorContext(ctx, c.message)
	default:
		logger.InfoContext(ctx, c.message)
	}

	return map[string]any{
		"message": c.message,
		"level":   c.level,
	}, nil
}
