// Package models provides boolean interpretation of rendered condition expressions.
package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ConditionInterpreter coerces a rendered condition expression into a boolean.
// Condition node expressions are templated against the run's bindings first;
// the rendered value is then interpreted here.
type ConditionInterpreter struct{}

func (ConditionInterpreter) Evaluate(exp any) (bool, error) {
	if exp == nil {
		return false, nil
	}

	switch v := exp.(type) {
	case bool:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return false, nil
		}

		result, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("cannot convert string %q to boolean: %w", v, err)
		}

		return result, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	default:
		return false, fmt.Errorf("cannot convert %T to boolean", exp)
	}
}
