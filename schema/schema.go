// Package schema describes the JSON shape a generation stage must
// produce, validates candidate payloads against it, and drives the
// correction loop that feeds validation failures back to the model.
package schema

// JSON schema type names.
const (
	Object  = "object"
	Array   = "array"
	String  = "string"
	Integer = "integer"
	Number  = "number"
	Boolean = "boolean"
	Null    = "null"
)

// Schema describes the structure of a JSON object.
type Schema struct {
	Type                 string               `json:"type"`
	Description          string               `json:"description,omitempty"`
	Properties           map[string]*Property `json:"properties,omitempty"`
	Required             []string             `json:"required,omitempty"`
	AdditionalProperties *bool                `json:"additionalProperties,omitempty"`
}

// Property of a schema.
type Property struct {
	Type                 string               `json:"type,omitempty"`
	Description          string               `json:"description,omitempty"`
	Enum                 []string             `json:"enum,omitempty"`
	Items                *Property            `json:"items,omitempty"`
	Properties           map[string]*Property `json:"properties,omitempty"`
	Required             []string             `json:"required,omitempty"`
	AdditionalProperties *bool                `json:"additionalProperties,omitempty"`
	Nullable             *bool                `json:"nullable,omitempty"`
	Pattern              *string              `json:"pattern,omitempty"`
	Format               *string              `json:"format,omitempty"`
	MinLength            *int                 `json:"minLength,omitempty"`
	MaxLength            *int                 `json:"maxLength,omitempty"`
	Minimum              *float64             `json:"minimum,omitempty"`
	Maximum              *float64             `json:"maximum,omitempty"`
	MinItems             *int                 `json:"minItems,omitempty"`
	MaxItems             *int                 `json:"maxItems,omitempty"`
}

// AsProperty views the schema root as a property so that validation can
// recurse uniformly.
func (s *Schema) AsProperty() *Property {
	return &Property{
		Type:                 s.Type,
		Description:          s.Description,
		Properties:           s.Properties,
		Required:             s.Required,
		AdditionalProperties: s.AdditionalProperties,
	}
}
