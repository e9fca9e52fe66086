package actions

import (
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateSchema derives a flat JSON Schema from an action's argument
// struct. Schemas are rendered into the model prompt and drive argument
// validation, so they stay unreferenced and closed.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// ValidateArgs checks extracted arguments against a capability's schema:
// every required property must be present and every present property must
// be a declared one with a matching primitive type.
func ValidateArgs(schema *jsonschema.Schema, args map[string]any) error {
	if schema == nil || schema.Properties == nil {
		if len(args) > 0 {
			return fmt.Errorf("action takes no arguments, got %d", len(args))
		}
		return nil
	}
	for _, name := range schema.Required {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("missing required argument %q", name)
		}
	}
	for name, value := range args {
		prop, ok := schema.Properties.Get(name)
		if !ok {
			return fmt.Errorf("unknown argument %q", name)
		}
		if err := checkPrimitive(name, prop.Type, value); err != nil {
			return err
		}
	}
	return nil
}

func checkPrimitive(name, typ string, value any) error {
	switch typ {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("argument %q must be a string", name)
		}
	case "integer":
		switch v := value.(type) {
		case int, int64:
		case float64:
			if v != float64(int64(v)) {
				return fmt.Errorf("argument %q must be an integer", name)
			}
		default:
			return fmt.Errorf("argument %q must be an integer", name)
		}
	case "number":
		switch value.(type) {
		case int, int64, float64:
		default:
			return fmt.Errorf("argument %q must be a number", name)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("argument %q must be a boolean", name)
		}
	default:
		// Nested objects and arrays are out of the action grammar.
		return fmt.Errorf("argument %q has unsupported schema type %q", name, typ)
	}
	return nil
}
