package schema

import (
	"fmt"
	"math"
	"strings"
)

// Diagnostic kinds reported by Validate.
const (
	KindMissingRequired = "missing_required"
	KindWrongType       = "wrong_type"
	KindUnexpectedField = "unexpected_field"
	KindInvalidEnum     = "invalid_enum"
)

// Diagnostic is one validation finding, addressed by JSON path.
type Diagnostic struct {
	Path       string `json:"path"`
	Kind       string `json:"kind"`
	Expected   string `json:"expected,omitempty"`
	Got        string `json:"got,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (d Diagnostic) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s at %s", d.Kind, d.Path)
	if d.Expected != "" {
		fmt.Fprintf(&b, ": expected %s", d.Expected)
		if d.Got != "" {
			fmt.Fprintf(&b, ", got %s", d.Got)
		}
	}
	if d.Suggestion != "" {
		fmt.Fprintf(&b, " (%s)", d.Suggestion)
	}
	return b.String()
}

// ValidationError carries the full set of diagnostics from a failed
// validation.
type ValidationError struct {
	Diagnostics []Diagnostic
}

func (e *ValidationError) Error() string {
	lines := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		lines[i] = d.String()
	}
	return fmt.Sprintf("validation failed with %d issue(s): %s",
		len(e.Diagnostics), strings.Join(lines, "; "))
}

// Validate checks a decoded JSON payload against the schema and returns
// every finding. An empty result means the payload conforms.
func Validate(data map[string]any, s *Schema) []Diagnostic {
	return validateValue(data, s.AsProperty(), "$")
}

func validateValue(value any, prop *Property, path string) []Diagnostic {
	if prop.Nullable != nil && *prop.Nullable && value == nil {
		return nil
	}

	// Untyped properties accept anything.
	if prop.Type == "" && len(prop.Properties) == 0 && prop.Items == nil {
		return validateEnum(value, prop, path)
	}

	switch prop.Type {
	case Object:
		obj, ok := value.(map[string]any)
		if !ok {
			return []Diagnostic{wrongType(path, Object, value)}
		}
		return validateObject(obj, prop, path)

	case Array:
		arr, ok := value.([]any)
		if !ok {
			return []Diagnostic{wrongType(path, Array, value)}
		}
		var diags []Diagnostic
		if prop.Items != nil {
			for i, item := range arr {
				diags = append(diags, validateValue(item, prop.Items, fmt.Sprintf("%s[%d]", path, i))...)
			}
		}
		return diags

	case String:
		if _, ok := value.(string); !ok {
			return []Diagnostic{wrongType(path, String, value)}
		}
		return validateEnum(value, prop, path)

	case Integer:
		f, ok := value.(float64)
		if !ok || f != math.Trunc(f) {
			return []Diagnostic{wrongType(path, Integer, value)}
		}
		return nil

	case Number:
		if _, ok := value.(float64); !ok {
			return []Diagnostic{wrongType(path, Number, value)}
		}
		return nil

	case Boolean:
		if _, ok := value.(bool); !ok {
			return []Diagnostic{wrongType(path, Boolean, value)}
		}
		return nil

	case Null:
		if value != nil {
			return []Diagnostic{wrongType(path, Null, value)}
		}
		return nil

	default:
		return nil
	}
}

func validateObject(obj map[string]any, prop *Property, path string) []Diagnostic {
	var diags []Diagnostic

	for _, name := range prop.Required {
		if _, ok := obj[name]; !ok {
			diags = append(diags, Diagnostic{
				Path:     joinPath(path, name),
				Kind:     KindMissingRequired,
				Expected: expectedTypeOf(prop.Properties[name]),
			})
		}
	}

	strict := prop.AdditionalProperties != nil && !*prop.AdditionalProperties
	for name, value := range obj {
		child, known := prop.Properties[name]
		if !known {
			if strict {
				diags = append(diags, Diagnostic{
					Path:       joinPath(path, name),
					Kind:       KindUnexpectedField,
					Got:        jsonTypeName(value),
					Suggestion: suggestField(name, prop.Properties),
				})
			}
			continue
		}
		diags = append(diags, validateValue(value, child, joinPath(path, name))...)
	}
	return diags
}

func validateEnum(value any, prop *Property, path string) []Diagnostic {
	if len(prop.Enum) == 0 {
		return nil
	}
	s, ok := value.(string)
	if !ok {
		return []Diagnostic{wrongType(path, String, value)}
	}
	for _, allowed := range prop.Enum {
		if s == allowed {
			return nil
		}
	}
	return []Diagnostic{{
		Path:     path,
		Kind:     KindInvalidEnum,
		Expected: "one of [" + strings.Join(prop.Enum, ", ") + "]",
		Got:      fmt.Sprintf("%q", s),
	}}
}

func wrongType(path, expected string, value any) Diagnostic {
	d := Diagnostic{
		Path:     path,
		Kind:     KindWrongType,
		Expected: expected,
		Got:      jsonTypeName(value),
	}
	// A common model mistake is wrapping a plain string in an object
	// carrying a single naming field.
	if expected == String {
		if obj, ok := value.(map[string]any); ok {
			for _, key := range []string{"name", "title", "value", "text"} {
				if inner, ok := obj[key].(string); ok {
					d.Suggestion = fmt.Sprintf("replace the object with its %q value: %q", key, inner)
					break
				}
			}
		}
	}
	return d
}

// suggestField proposes a known property whose name nearly matches an
// unexpected one, catching casing and pluralization slips.
func suggestField(name string, known map[string]*Property) string {
	lower := strings.ToLower(name)
	for candidate := range known {
		cl := strings.ToLower(candidate)
		if cl == lower || cl == lower+"s" || cl+"s" == lower {
			return fmt.Sprintf("did you mean %q", candidate)
		}
	}
	return ""
}

func expectedTypeOf(prop *Property) string {
	if prop == nil || prop.Type == "" {
		return "value"
	}
	return prop.Type
}

func jsonTypeName(value any) string {
	switch value.(type) {
	case nil:
		return Null
	case bool:
		return Boolean
	case float64:
		return Number
	case string:
		return String
	case []any:
		return Array
	case map[string]any:
		return Object
	default:
		return fmt.Sprintf("%T", value)
	}
}

func joinPath(path, name string) string {
	return path + "." + name
}
