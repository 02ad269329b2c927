package elicit

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Field is one input the operator must supply, extracted from the
// requesting backend's schema.
type Field struct {
	Name        string
	Type        string
	Required    bool
	Description string
	// Default is used when an optional field is submitted empty. Nil means
	// the field is skipped instead.
	Default any
	// Enum restricts the accepted values when non-empty.
	Enum []any
	// Const pins the field to exactly one value.
	Const any
}

// SchemaFrom coerces the wire representation of a requested schema into
// the SDK's schema type. In-process handlers receive *jsonschema.Schema
// directly; schemas decoded from the wire arrive as generic JSON values and
// are round-tripped. Anything that cannot be coerced yields nil, which puts
// the session into free-form mode.
func SchemaFrom(v any) *jsonschema.Schema {
	switch s := v.(type) {
	case nil:
		return nil
	case *jsonschema.Schema:
		return s
	case jsonschema.Schema:
		return &s
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var schema jsonschema.Schema
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil
		}
		return &schema
	}
}

// FieldsFromSchema flattens an object schema's properties into an ordered
// field list. A nil schema or one without properties yields no fields,
// which puts the session into free-form mode.
func FieldsFromSchema(schema *jsonschema.Schema) []Field {
	if schema == nil || len(schema.Properties) == 0 {
		return nil
	}

	required := make(map[string]struct{}, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = struct{}{}
	}

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]Field, 0, len(names))
	for _, name := range names {
		prop := schema.Properties[name]
		if prop == nil {
			continue
		}
		f := Field{
			Name:        name,
			Type:        prop.Type,
			Description: prop.Description,
			Enum:        prop.Enum,
		}
		if f.Type == "" {
			f.Type = "string"
		}
		if _, ok := required[name]; ok {
			f.Required = true
		}
		if len(prop.Default) > 0 {
			var def any
			if err := json.Unmarshal(prop.Default, &def); err == nil {
				f.Default = def
			}
		}
		if prop.Const != nil {
			f.Const = *prop.Const
		}
		fields = append(fields, f)
	}
	return fields
}

// parseValue converts the operator's raw input into the field's declared
// type. A value that cannot be parsed, or that fails the enum or const
// restriction, returns an error so the same field can be prompted again.
func parseValue(f Field, input string) (any, error) {
	var value any
	switch f.Type {
	case "string":
		value = input
	case "integer":
		n, err := strconv.ParseInt(strings.TrimSpace(input), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", input)
		}
		value = n
	case "number":
		n, err := strconv.ParseFloat(strings.TrimSpace(input), 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", input)
		}
		value = n
	case "boolean":
		b, err := parseBool(input)
		if err != nil {
			return nil, err
		}
		value = b
	case "object":
		var obj map[string]any
		if err := json.Unmarshal([]byte(input), &obj); err != nil {
			return nil, fmt.Errorf("%q is not a JSON object", input)
		}
		value = obj
	case "array":
		var arr []any
		if err := json.Unmarshal([]byte(input), &arr); err != nil {
			return nil, fmt.Errorf("%q is not a JSON array", input)
		}
		value = arr
	default:
		value = input
	}

	if f.Const != nil && !looselyEqual(value, f.Const) {
		return nil, fmt.Errorf("value must be %v", f.Const)
	}
	if len(f.Enum) > 0 {
		ok := false
		for _, allowed := range f.Enum {
			if looselyEqual(value, allowed) {
				ok = true
				break
			}
		}
		if !ok {
			return nil, fmt.Errorf("value must be one of %v", f.Enum)
		}
	}
	return value, nil
}

func parseBool(input string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "true", "1", "yes", "y":
		return true, nil
	case "false", "0", "no", "n":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a boolean", input)
}

// looselyEqual compares a parsed value with a schema-declared one,
// tolerating the numeric type differences between Go literals and decoded
// JSON.
func looselyEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
