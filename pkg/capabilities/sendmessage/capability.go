// Package sendmessage implements the send.message capability. Actual
// delivery channels live outside this service; the capability records the
// rendered message as node output so downstream nodes and the audit trail
// can see exactly what was requested.
package sendmessage

import (
	"context"
	"log/slog"
	"time"

	"github.com/engageflow/flows/pkg/protocol"
)

type Capability struct {
	channel string
	to      string
	message string
}

func NewCapability(config map[string]any) *Capability {
	channel, _ := config["channel"].(string)
	if channel == "" {
		channel = "default"
	}

	to, _ := config["to"].(string)
	message, _ := config["message"].(string)

	return &Capability{channel: channel, to: to, message: message}
}

func (c *Capability) Execute(ctx context.Context, scope protocol.ExecutionScope, logger *slog.Logger) (map[string]any, error) {
	logger.InfoContext(ctx, "Sending message", "channel", c.channel, "to", c.to)

	return map[string]any{
		"channel": c.channel,
		"to":      c.to,
		"message": c.message,
		"sent_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}
