package domain

// FieldType represents the declared semantic type of a schema field.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeInteger FieldType = "integer"
	FieldTypeFloat   FieldType = "float"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeDate    FieldType = "date"
)

// FieldDefinition declares one field of an entity schema: its type, whether a
// record may omit it, numeric bounds, an identifier pattern, an optional
// foreign-key target entity, and an optional cleaning rule applied before
// validation.
type FieldDefinition struct {
	Name       string    `mapstructure:"name" json:"name"`
	Type       FieldType `mapstructure:"type" json:"type"`
	Required   bool      `mapstructure:"required" json:"required"`
	Min        *float64  `mapstructure:"min" json:"min,omitempty"`
	Max        *float64  `mapstructure:"max" json:"max,omitempty"`
	Pattern    string    `mapstructure:"pattern" json:"pattern,omitempty"`
	ForeignKey string    `mapstructure:"foreign_key" json:"foreign_key,omitempty"`
	CleanRule  string    `mapstructure:"clean" json:"clean,omitempty"`
}

// EntitySchema is the declared shape of one entity type. Fields keep their
// declaration order; that order drives output column order.
type EntitySchema struct {
	Name       string            `mapstructure:"-" json:"name"`
	PrimaryKey string            `mapstructure:"primary_key" json:"primary_key"`
	Fields     []FieldDefinition `mapstructure:"fields" json:"fields"`
}

// Field returns the definition of the named field.
func (es EntitySchema) Field(name string) (FieldDefinition, bool) {
	for _, f := range es.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// FieldNames returns the declared field names in order.
func (es EntitySchema) FieldNames() []string {
	names := make([]string, 0, len(es.Fields))
	for _, f := range es.Fields {
		names = append(names, f.Name)
	}
	return names
}

// ForeignKeys returns the fields that declare a foreign-key target, in
// declaration order.
func (es EntitySchema) ForeignKeys() []FieldDefinition {
	var fks []FieldDefinition
	for _, f := range es.Fields {
		if f.ForeignKey != "" {
			fks = append(fks, f)
		}
	}
	return fks
}
