package executor

import (
	"fmt"

	language "github.com/graphrelay/graphrelay/internal/language"
)

// coerceArguments evaluates a field's argument values against the field
// definition, applying variables and definition defaults. Variables
// themselves are already coerced by the engine before execution begins.
func coerceArguments(def *language.FieldDefinition, field *language.Field, variables map[string]any) (map[string]any, error) {
	args := make(map[string]any, len(def.Arguments))
	for _, argDef := range def.Arguments {
		if arg := field.Arguments.ForName(argDef.Name); arg != nil && arg.Value != nil {
			v, err := arg.Value.Value(variables)
			if err != nil {
				return nil, fmt.Errorf("argument %q: %w", argDef.Name, err)
			}
			args[argDef.Name] = v
			continue
		}
		if argDef.DefaultValue != nil {
			v, err := argDef.DefaultValue.Value(nil)
			if err != nil {
				return nil, fmt.Errorf("argument %q default: %w", argDef.Name, err)
			}
			args[argDef.Name] = v
		}
	}
	return args, nil
}
