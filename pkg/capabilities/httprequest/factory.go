package httprequest

import "github.com/engageflow/flows/pkg/protocol"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (*Factory) ID() string {
	return "http.request"
}

func (f *Factory) Create(config map[string]any) (protocol.Capability, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewCapability(config)
}

// Schema returns the JSON schema for the capability configuration.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Endpoint to call. Supports templating against the run's bindings.",
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method",
				"default":     "GET",
				"enum":        []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"},
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "Request headers",
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Request body. Supports templating.",
			},
			"timeout": map[string]any{
				"type":        "string",
				"description": "Request timeout as a Go duration string",
				"default":     "30s",
			},
			"retry": map[string]any{
				"type":        "object",
				"description": "Retry policy",
				"properties": map[string]any{
					"attempts": map[string]any{"type": "number", "default": 1},
					"delay":    map[string]any{"type": "number", "description": "Delay between attempts in seconds"},
				},
			},
		},
		"required": []string{"url"},
	}
}
