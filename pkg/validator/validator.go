// Package validator evaluates records against ordered per-field check lists.
// Each check yields one of three outcomes: pass, reject the whole record, or
// soft-invalidate (null or rewrite) the single field while keeping the record.
// Keeping the two failure modes distinct is what lets a malformed email be
// laundered to null while a negative price rejects the row.
package validator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Outcome classifies the result of a single check.
type Outcome int

const (
	// Pass leaves the field as is.
	Pass Outcome = iota
	// RejectRecord quarantines the whole record.
	RejectRecord
	// NullField nulls the field's value and keeps the record.
	NullField
	// ReplaceValue rewrites the field's value and keeps the record.
	ReplaceValue
)

// CheckResult is the outcome of one check on one value. Kind and Message are
// set for RejectRecord; Value is set for ReplaceValue.
type CheckResult struct {
	Outcome Outcome
	Kind    string
	Message string
	Value   *string
}

// Check inspects a field value. A nil value means the field is null/absent.
type Check func(value *string) CheckResult

// Violation is a record-rejecting constraint failure.
type Violation struct {
	Field   string
	Kind    string
	Message string
}

// Error kinds produced by the built-in checks.
const (
	KindMissingRequired = "missing_required"
	KindPatternMismatch = "pattern_mismatch"
	KindOutOfRange      = "out_of_range"
	KindInvalidType     = "invalid_type"
)

type fieldChecks struct {
	field  string
	checks []Check
}

// RecordValidator validates one entity type's records. Fields are evaluated
// in registration order; within a field the first non-pass check wins.
type RecordValidator struct {
	fields []fieldChecks
}

// NewRecordValidator creates an empty validator.
func NewRecordValidator() *RecordValidator {
	return &RecordValidator{}
}

// AddChecks appends checks for a field. Repeated calls for the same field
// extend its check list in order.
func (rv *RecordValidator) AddChecks(field string, checks ...Check) {
	for i := range rv.fields {
		if rv.fields[i].field == field {
			rv.fields[i].checks = append(rv.fields[i].checks, checks...)
			return
		}
	}
	rv.fields = append(rv.fields, fieldChecks{field: field, checks: checks})
}

// Validate runs every field's checks against the record. Soft invalidations
// mutate the record in place (nulling or rewriting the field); rejecting
// violations are collected, one per violated constraint. The record is valid
// when no violations were collected.
func (rv *RecordValidator) Validate(record map[string]*string) []Violation {
	var violations []Violation
	for _, fc := range rv.fields {
		value := record[fc.field]
		for _, check := range fc.checks {
			result := check(value)
			switch result.Outcome {
			case Pass:
				continue
			case NullField:
				record[fc.field] = nil
			case ReplaceValue:
				record[fc.field] = result.Value
				value = result.Value
				continue
			case RejectRecord:
				violations = append(violations, Violation{
					Field:   fc.field,
					Kind:    result.Kind,
					Message: result.Message,
				})
			}
			break
		}
	}
	return violations
}

func pass() CheckResult {
	return CheckResult{Outcome: Pass}
}

func reject(kind, message string) CheckResult {
	return CheckResult{Outcome: RejectRecord, Kind: kind, Message: message}
}

func nullField() CheckResult {
	return CheckResult{Outcome: NullField}
}

func isNull(value *string) bool {
	return value == nil || strings.TrimSpace(*value) == ""
}

// Required rejects when the value is null, empty, or whitespace.
func Required(field string) Check {
	return func(value *string) CheckResult {
		if isNull(value) {
			return reject(KindMissingRequired, fmt.Sprintf("required field '%s' is missing", field))
		}
		return pass()
	}
}

// Pattern rejects non-null values that do not match the expression.
func Pattern(field string, re *regexp.Regexp) Check {
	return func(value *string) CheckResult {
		if isNull(value) {
			return pass()
		}
		if !re.MatchString(*value) {
			return reject(KindPatternMismatch, fmt.Sprintf("field '%s' value %q does not match %s", field, *value, re.String()))
		}
		return pass()
	}
}

// IsInteger rejects non-null values that do not parse as an integer. Float
// representations with no fractional part are accepted, matching how tabular
// sources serialize whole numbers.
func IsInteger(field string) Check {
	return func(value *string) CheckResult {
		if isNull(value) {
			return pass()
		}
		if _, err := strconv.ParseInt(strings.TrimSpace(*value), 10, 64); err == nil {
			return pass()
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(*value), 64); err == nil && f == float64(int64(f)) {
			return pass()
		}
		return reject(KindInvalidType, fmt.Sprintf("field '%s' value %q is not an integer", field, *value))
	}
}

// IsFloat rejects non-null values that do not parse as a number.
func IsFloat(field string) Check {
	return func(value *string) CheckResult {
		if isNull(value) {
			return pass()
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(*value), 64); err != nil {
			return reject(KindInvalidType, fmt.Sprintf("field '%s' value %q is not a number", field, *value))
		}
		return pass()
	}
}

// IsBoolean rejects non-null values that are not a boolean literal.
func IsBoolean(field string) Check {
	return func(value *string) CheckResult {
		if isNull(value) {
			return pass()
		}
		if _, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(*value))); err != nil {
			return reject(KindInvalidType, fmt.Sprintf("field '%s' value %q is not a boolean", field, *value))
		}
		return pass()
	}
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"02/01/2006",
}

// IsDate rejects non-null values that parse under none of the accepted
// layouts.
func IsDate(field string) Check {
	return func(value *string) CheckResult {
		if isNull(value) {
			return pass()
		}
		raw := strings.TrimSpace(*value)
		for _, layout := range dateLayouts {
			if _, err := time.Parse(layout, raw); err == nil {
				return pass()
			}
		}
		return reject(KindInvalidType, fmt.Sprintf("field '%s' value %q is not a date", field, *value))
	}
}

// Min rejects parsable numeric values below the bound. Null and unparsable
// values pass; the type check reports those.
func Min(field string, min float64) Check {
	return func(value *string) CheckResult {
		if isNull(value) {
			return pass()
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(*value), 64)
		if err != nil {
			return pass()
		}
		if f < min {
			return reject(KindOutOfRange, fmt.Sprintf("field '%s' value %v is less than minimum %v", field, f, min))
		}
		return pass()
	}
}

// Max rejects parsable numeric values above the bound.
func Max(field string, max float64) Check {
	return func(value *string) CheckResult {
		if isNull(value) {
			return pass()
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(*value), 64)
		if err != nil {
			return pass()
		}
		if f > max {
			return reject(KindOutOfRange, fmt.Sprintf("field '%s' value %v is greater than maximum %v", field, f, max))
		}
		return pass()
	}
}

var (
	emailPattern  = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	missingTokens = map[string]struct{}{"n/a": {}, "null": {}, "none": {}, "nan": {}}
)

// EmailOrNull nulls values that are placeholder tokens or not a plausible
// email address. The record is kept either way.
func EmailOrNull() Check {
	return func(value *string) CheckResult {
		if isNull(value) {
			return pass()
		}
		raw := strings.TrimSpace(*value)
		if _, ok := missingTokens[strings.ToLower(raw)]; ok {
			return nullField()
		}
		if !emailPattern.MatchString(raw) {
			return nullField()
		}
		return pass()
	}
}

// NotFutureOrNull nulls date values after today. Unparsable values pass
// through untouched for the field's own type check to judge.
func NotFutureOrNull(now func() time.Time) Check {
	if now == nil {
		now = time.Now
	}
	return func(value *string) CheckResult {
		if isNull(value) {
			return pass()
		}
		raw := strings.TrimSpace(*value)
		for _, layout := range dateLayouts {
			parsed, err := time.Parse(layout, raw)
			if err != nil {
				continue
			}
			if parsed.After(now()) {
				return nullField()
			}
			return pass()
		}
		return pass()
	}
}

// RangeOrNull nulls parsable numeric values outside [min, max].
func RangeOrNull(min, max float64) Check {
	return func(value *string) CheckResult {
		if isNull(value) {
			return pass()
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(*value), 64)
		if err != nil {
			return pass()
		}
		if f < min || f > max {
			return nullField()
		}
		return pass()
	}
}

// NormalizeToken trims the value, lowercases it, and replaces interior spaces
// with underscores. Values reduced to nothing become null.
func NormalizeToken() Check {
	return func(value *string) CheckResult {
		if value == nil {
			return pass()
		}
		normalized := strings.ToLower(strings.TrimSpace(*value))
		normalized = strings.ReplaceAll(normalized, " ", "_")
		if normalized == "" {
			return nullField()
		}
		if normalized == *value {
			return pass()
		}
		return CheckResult{Outcome: ReplaceValue, Value: &normalized}
	}
}
