// Package template renders node config values against a run's bindings.
package template

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// Render evaluates a Go text/template string against the provided bindings.
// Results that look like JSON documents are decoded so capabilities receive
// structured values rather than strings.
func Render(templateStr string, bindings map[string]any) (any, error) {
	if !strings.Contains(templateStr, "{{") {
		return templateStr, nil
	}

	tmpl, err := template.
		New("config").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %q: %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, bindings)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template %q: %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any
		if err := json.Unmarshal([]byte(result), &jsonResult); err == nil {
			return jsonResult, nil
		}
	}

	return result, nil
}

// RenderConfig renders every string value of a node config, leaving other
// value types untouched.
func RenderConfig(config map[string]any, bindings map[string]any) (map[string]any, error) {
	rendered := make(map[string]any, len(config))

	for key, value := range config {
		str, ok := value.(string)
		if !ok {
			rendered[key] = value

			continue
		}

		out, err := Render(str, bindings)
		if err != nil {
			return nil, fmt.Errorf("config key %q: %w", key, err)
		}

		rendered[key] = out
	}

	return rendered, nil
}
