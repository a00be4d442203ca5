package util

import (
	"fmt"
	"reflect"
	"strings"
)

// ValidationError reports the first argument that does not satisfy a tool's
// parameter schema.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateParameters checks tool arguments against the subset of JSON schema
// the builtin tools declare: required, per-property type, enum, minimum and
// array item type. Unknown properties are allowed and a nil value satisfies
// any type, so a missing operand can travel as null.
func ValidateParameters(params map[string]any, schema map[string]any) error {
	for _, name := range stringList(schema["required"]) {
		if _, ok := params[name]; !ok {
			return &ValidationError{Field: name, Message: "required field is missing"}
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	for name, value := range params {
		prop, ok := properties[name].(map[string]any)
		if !ok || value == nil {
			continue
		}
		if err := validateValue(name, value, prop); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(field string, value any, prop map[string]any) error {
	typ, _ := prop["type"].(string)
	if !isType(value, typ) {
		return &ValidationError{Field: field, Value: value, Message: fmt.Sprintf("expected type %s, got %T", typ, value)}
	}

	if allowed := stringList(prop["enum"]); len(allowed) > 0 {
		s := fmt.Sprint(value)
		found := false
		for _, a := range allowed {
			if a == s {
				found = true
				break
			}
		}
		if !found {
			return &ValidationError{Field: field, Value: value, Message: fmt.Sprintf("must be one of %s", strings.Join(allowed, ", "))}
		}
	}

	if min, ok := number(prop["minimum"]); ok {
		if n, ok := number(value); ok && n < min {
			return &ValidationError{Field: field, Value: value, Message: fmt.Sprintf("must be >= %v", min)}
		}
	}

	if items, ok := prop["items"].(map[string]any); ok && typ == "array" {
		rv := reflect.ValueOf(value)
		for i := 0; i < rv.Len(); i++ {
			item := rv.Index(i).Interface()
			if item == nil || (rv.Index(i).Kind() == reflect.Ptr && rv.Index(i).IsNil()) {
				continue
			}
			if err := validateValue(fmt.Sprintf("%s[%d]", field, i), item, items); err != nil {
				return err
			}
		}
	}
	return nil
}

// stringList accepts both []string (Go literals) and []any (decoded JSON).
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case *float64:
		if n != nil {
			return *n, true
		}
	}
	return 0, false
}

func isType(value any, typ string) bool {
	switch typ {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			// Decoded JSON numbers arrive as float64.
			return v == float64(int64(v))
		}
		return false
	case "number":
		_, ok := number(value)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		kind := reflect.TypeOf(value).Kind()
		return kind == reflect.Slice || kind == reflect.Array
	case "object":
		kind := reflect.TypeOf(value).Kind()
		return kind == reflect.Map || kind == reflect.Struct || kind == reflect.Ptr
	}
	return true
}
