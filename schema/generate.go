package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Generate builds a JSON schema for the given Go type using reflection.
// Struct tags refine the result: json names and omitempty, description,
// enum (comma-separated), required, and the usual string/number/array
// constraint tags.
//
// Example:
//
//	type Scene struct {
//	  Title string `json:"title" description:"Short scene title"`
//	  Mood  string `json:"mood" enum:"tense,calm,eerie"`
//	  Beats []string `json:"beats,omitempty"`
//	}
//	schema, err := Generate(Scene{})
func Generate(v any) (*Schema, error) {
	t := reflect.TypeOf(v)
	if t == nil {
		return nil, fmt.Errorf("cannot generate schema for nil value")
	}

	if t.Kind() != reflect.Struct && (t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct) {
		prop, err := reflectType(t)
		if err != nil {
			return nil, err
		}
		return &Schema{Type: prop.Type}, nil
	}

	prop, err := reflectType(t)
	if err != nil {
		return nil, err
	}

	additionalProps := false
	return &Schema{
		Type:                 prop.Type,
		Properties:           prop.Properties,
		Required:             prop.Required,
		AdditionalProperties: &additionalProps,
	}, nil
}

func reflectType(t reflect.Type) (*Property, error) {
	switch t.Kind() {
	case reflect.String:
		return &Property{Type: String}, nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &Property{Type: Integer}, nil

	case reflect.Float32, reflect.Float64:
		return &Property{Type: Number}, nil

	case reflect.Bool:
		return &Property{Type: Boolean}, nil

	case reflect.Slice, reflect.Array:
		items, err := reflectType(t.Elem())
		if err != nil {
			return nil, fmt.Errorf("failed to reflect array element type: %w", err)
		}
		return &Property{Type: Array, Items: items}, nil

	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type: %s", t.Key().Kind())
		}
		return &Property{Type: Object}, nil

	case reflect.Struct:
		return reflectStruct(t)

	case reflect.Ptr:
		underlying, err := reflectType(t.Elem())
		if err != nil {
			return nil, fmt.Errorf("failed to reflect pointer underlying type: %w", err)
		}
		nullable := true
		underlying.Nullable = &nullable
		return underlying, nil

	case reflect.Interface:
		// interface{} fields accept any JSON value
		return &Property{}, nil

	default:
		return nil, fmt.Errorf("unsupported type: %s", t.Kind().String())
	}
}

func reflectStruct(t reflect.Type) (*Property, error) {
	properties := make(map[string]*Property)
	var required []string

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonName, isRequired := parseJSONTag(field)
		if jsonName == "-" {
			continue
		}

		prop, err := reflectType(field.Type)
		if err != nil {
			return nil, fmt.Errorf("failed to reflect field %s: %w", field.Name, err)
		}
		applyFieldTags(prop, field)

		if checkRequired(field, isRequired) {
			required = append(required, jsonName)
		}
		properties[jsonName] = prop
	}

	additionalProps := false
	return &Property{
		Type:                 Object,
		Properties:           properties,
		Required:             required,
		AdditionalProperties: &additionalProps,
	}, nil
}

// parseJSONTag extracts the JSON field name and omitempty flag. Fields
// without omitempty are required by default.
func parseJSONTag(field reflect.StructField) (name string, required bool) {
	jsonTag := field.Tag.Get("json")
	if jsonTag == "" {
		return field.Name, true
	}

	parts := strings.Split(jsonTag, ",")
	name = parts[0]
	if name == "" {
		name = field.Name
	}

	required = true
	for _, part := range parts[1:] {
		if part == "omitempty" {
			required = false
			break
		}
	}
	return name, required
}

func applyFieldTags(prop *Property, field reflect.StructField) {
	if desc := field.Tag.Get("description"); desc != "" {
		prop.Description = desc
	}
	if enum := field.Tag.Get("enum"); enum != "" {
		prop.Enum = strings.Split(enum, ",")
	}
	if nullable := field.Tag.Get("nullable"); nullable != "" {
		if val, err := strconv.ParseBool(nullable); err == nil {
			prop.Nullable = &val
		}
	}
	if pattern := field.Tag.Get("pattern"); pattern != "" {
		prop.Pattern = &pattern
	}
	if format := field.Tag.Get("format"); format != "" {
		prop.Format = &format
	}
	if minLen := field.Tag.Get("minLength"); minLen != "" {
		if val, err := strconv.Atoi(minLen); err == nil {
			prop.MinLength = &val
		}
	}
	if maxLen := field.Tag.Get("maxLength"); maxLen != "" {
		if val, err := strconv.Atoi(maxLen); err == nil {
			prop.MaxLength = &val
		}
	}
	if min := field.Tag.Get("minimum"); min != "" {
		if val, err := strconv.ParseFloat(min, 64); err == nil {
			prop.Minimum = &val
		}
	}
	if max := field.Tag.Get("maximum"); max != "" {
		if val, err := strconv.ParseFloat(max, 64); err == nil {
			prop.Maximum = &val
		}
	}
	if minItems := field.Tag.Get("minItems"); minItems != "" {
		if val, err := strconv.Atoi(minItems); err == nil {
			prop.MinItems = &val
		}
	}
	if maxItems := field.Tag.Get("maxItems"); maxItems != "" {
		if val, err := strconv.Atoi(maxItems); err == nil {
			prop.MaxItems = &val
		}
	}
}

func checkRequired(field reflect.StructField, jsonRequired bool) bool {
	if req := field.Tag.Get("required"); req != "" {
		if val, err := strconv.ParseBool(req); err == nil {
			return val
		}
	}
	return jsonRequired
}
