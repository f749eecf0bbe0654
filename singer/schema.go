package singer

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Schema is the subset of JSON schema the tap emits. Properties keep their
// insertion order so discovery output is deterministic.
type Schema struct {
	Type                 []string                                `json:"type,omitempty"`
	Format               string                                  `json:"format,omitempty"`
	Properties           *orderedmap.OrderedMap[string, *Schema] `json:"properties,omitempty"`
	Items                *Schema                                 `json:"items,omitempty"`
	AdditionalProperties *bool                                   `json:"additionalProperties,omitempty"`
}

func NewSchema(types ...string) *Schema {
	return &Schema{Type: types}
}

// NewObjectSchema returns a nullable open object schema.
func NewObjectSchema() *Schema {
	open := true
	return &Schema{
		Type:                 []string{"null", "object"},
		AdditionalProperties: &open,
	}
}

// NewRecordSchema returns an empty closed record schema ready for Prop calls.
func NewRecordSchema() *Schema {
	return &Schema{
		Type:       []string{"object"},
		Properties: orderedmap.New[string, *Schema](),
	}
}

// Prop adds a named property, keeping insertion order.
func (s *Schema) Prop(name string, prop *Schema) *Schema {
	if s.Properties == nil {
		s.Properties = orderedmap.New[string, *Schema]()
	}
	s.Properties.Set(name, prop)
	return s
}

// HasProp reports whether a property was declared.
func (s *Schema) HasProp(name string) bool {
	if s.Properties == nil {
		return false
	}
	_, ok := s.Properties.Get(name)
	return ok
}
