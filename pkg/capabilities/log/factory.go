package log

import "github.com/engageflow/flows/pkg/protocol"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (*Factory) ID() string {
	return "log"
}

func (f *Factory) Create(config map[string]any) (protocol.Capability, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewCapability(config), nil
}

// Schema returns the JSON schema for the capability configuration.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "The message to log. Supports templating against the run's bindings.",
				"examples": []string{
					"Order {{.input.order_id}} accepted",
					"Fetched {{.fetch.count}} records at {{now}}",
				},
			},
			"level": map[string]any{
				"type":        "string",
				"description": "Log level for the message",
				"default":     "info",
				"enum":        []string{"debug", "info", "warn", "warning", "error"},
			},
		},
		"required": []string{"message"},
	}
}
