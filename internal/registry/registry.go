// Package registry maps entity names to validation schemas. Declarative
// constraints come from configuration. Business-exception overrides, where
// an anomalous value is laundered to null instead of rejecting the whole
// record, are composed in here per entity.
package registry

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/rkerno/dqflow/internal/domain"
	"github.com/rkerno/dqflow/pkg/validator"
)

// ErrUnknownSchema is returned when no schema is registered for an entity.
// The orchestrator treats it as "skip validation, pass all rows through",
// not as a fatal error.
var ErrUnknownSchema = errors.New("unknown schema")

// Registry holds the parsed entity schemas and their composed validators.
type Registry struct {
	schemas    map[string]domain.EntitySchema
	validators map[string]*validator.RecordValidator
	now        func() time.Time
}

// Option customizes registry construction.
type Option func(*Registry)

// WithNow fixes the clock used by date-based checks; tests pin it.
func WithNow(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New builds validators for every schema. Patterns are compiled here so a
// malformed pattern fails configuration load, not a mid-run record.
func New(schemas map[string]domain.EntitySchema, opts ...Option) (*Registry, error) {
	r := &Registry{
		schemas:    schemas,
		validators: make(map[string]*validator.RecordValidator, len(schemas)),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	for name, schema := range schemas {
		rv, err := r.buildValidator(name, schema)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		r.validators[name] = rv
	}
	return r, nil
}

// Schema returns the declared schema for an entity.
func (r *Registry) Schema(name string) (domain.EntitySchema, error) {
	schema, ok := r.schemas[name]
	if !ok {
		return domain.EntitySchema{}, fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}
	return schema, nil
}

// Validator returns the composed record validator for an entity.
func (r *Registry) Validator(name string) (*validator.RecordValidator, error) {
	rv, ok := r.validators[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}
	return rv, nil
}

func (r *Registry) buildValidator(schemaName string, schema domain.EntitySchema) (*validator.RecordValidator, error) {
	rv := validator.NewRecordValidator()
	exceptions := businessExceptions(schemaName, r.now)

	for _, field := range schema.Fields {
		// Required runs first, then the field's business exceptions: a
		// soft-invalidating exception must win over a declarative bound on
		// the same field (an out-of-range tax rate is nulled, not rejected).
		if field.Required {
			rv.AddChecks(field.Name, validator.Required(field.Name))
		}
		if checks, ok := exceptions[field.Name]; ok {
			rv.AddChecks(field.Name, checks...)
		}
		if field.Pattern != "" {
			re, err := regexp.Compile(field.Pattern)
			if err != nil {
				return nil, fmt.Errorf("field %s: invalid pattern %q: %w", field.Name, field.Pattern, err)
			}
			rv.AddChecks(field.Name, validator.Pattern(field.Name, re))
		}
		switch field.Type {
		case domain.FieldTypeInteger:
			rv.AddChecks(field.Name, validator.IsInteger(field.Name))
		case domain.FieldTypeFloat:
			rv.AddChecks(field.Name, validator.IsFloat(field.Name))
		case domain.FieldTypeBoolean:
			rv.AddChecks(field.Name, validator.IsBoolean(field.Name))
		case domain.FieldTypeDate:
			rv.AddChecks(field.Name, validator.IsDate(field.Name))
		}
		if field.Min != nil {
			rv.AddChecks(field.Name, validator.Min(field.Name, *field.Min))
		}
		if field.Max != nil {
			rv.AddChecks(field.Name, validator.Max(field.Name, *field.Max))
		}
	}
	return rv, nil
}

// businessExceptions returns the per-field override checks for a schema.
// These encode contractual edge cases: a malformed email or future
// registration date nulls that one field while the record is kept; a tax
// rate outside [0, 1] is nulled likewise; payment methods are normalized to
// snake_case tokens. Negative transaction quantities, customer net spend,
// and invoice amounts carry no exception here because their schemas simply
// declare no minimum; a return or a credit note is valid data.
func businessExceptions(schemaName string, now func() time.Time) map[string][]validator.Check {
	switch schemaName {
	case "customer":
		return map[string][]validator.Check{
			"email":              {validator.EmailOrNull()},
			"registration_date":  {validator.NotFutureOrNull(now)},
			"last_purchase_date": {validator.NotFutureOrNull(now)},
		}
	case "invoice":
		return map[string][]validator.Check{
			"tax_rate":       {validator.RangeOrNull(0, 1)},
			"payment_method": {validator.NormalizeToken()},
		}
	default:
		return nil
	}
}
