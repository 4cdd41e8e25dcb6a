package verify

import "fmt"

// validateSchema walks a decoded JSON value (as produced by
// encoding/json.Unmarshal into any: map[string]any, []any, string,
// float64, bool, nil) against a minimal draft-07 subset: type, required,
// properties, items, enum. There is no general-purpose JSON Schema
// validator in the dependency set available here, so this hand-rolled
// subset covers the checks the pipeline actually needs.
func validateSchema(path string, schema Schema, value any) []SchemaError {
	var errs []SchemaError

	if schema.Type != "" && !matchesType(schema.Type, value) {
		errs = append(errs, SchemaError{
			Path:    path,
			Keyword: "type",
			Message: fmt.Sprintf("expected type %q, got %s", schema.Type, jsonTypeOf(value)),
		})
		return errs
	}

	if len(schema.Enum) > 0 && !inEnum(schema.Enum, value) {
		errs = append(errs, SchemaError{Path: path, Keyword: "enum", Message: "value not in enum"})
	}

	switch v := value.(type) {
	case map[string]any:
		for _, req := range schema.Required {
			if _, ok := v[req]; !ok {
				errs = append(errs, SchemaError{
					Path:    path + "." + req,
					Keyword: "required",
					Message: fmt.Sprintf("missing required property %q", req),
				})
			}
		}
		for name, propSchema := range schema.Properties {
			child, ok := v[name]
			if !ok {
				continue
			}
			errs = append(errs, validateSchema(path+"."+name, propSchema, child)...)
		}
	case []any:
		if schema.Items != nil {
			for i, item := range v {
				errs = append(errs, validateSchema(fmt.Sprintf("%s[%d]", path, i), *schema.Items, item)...)
			}
		}
	}

	return errs
}

func matchesType(t string, value any) bool {
	switch t {
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		f, ok := value.(float64)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "null":
		return value == nil
	default:
		return true
	}
}

func jsonTypeOf(value any) string {
	switch value.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return "unknown"
	}
}

func inEnum(enum []any, value any) bool {
	for _, e := range enum {
		if e == value {
			return true
		}
	}
	return false
}
