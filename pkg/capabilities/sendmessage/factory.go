package sendmessage

import "github.com/engageflow/flows/pkg/protocol"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (*Factory) ID() string {
	return "send.message"
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
			"channel": map[string]any{
				"type":        "string",
				"description": "Delivery channel identifier",
				"default":     "default",
			},
			"to": map[string]any{
				"type":        "string",
				"description": "Recipient. Supports templating against the run's bindings.",
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Message body. Supports templating.",
			},
		},
		"required": []string{"message"},
	}
}
