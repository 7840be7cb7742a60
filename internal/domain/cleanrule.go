package domain

import "fmt"

// RuleKind is the closed set of cleaning-rule kinds. Rule documents are
// parsed into CleanRule values at configuration-load time so an unknown kind
// is caught before a run starts.
type RuleKind string

const (
	RuleCase    RuleKind = "case"
	RulePhone   RuleKind = "phone"
	RuleBoolean RuleKind = "boolean"
	RuleDate    RuleKind = "date"
	RuleString  RuleKind = "string"
)

// CleanRule is one named cleaning rule with its kind-specific parameters.
type CleanRule struct {
	Kind RuleKind `mapstructure:"kind"`
	// Case is "lower", "upper", or "title" for case rules.
	Case string `mapstructure:"case"`
	// TrueValues and FalseValues are the declared value sets for boolean
	// rules; anything outside both maps to null.
	TrueValues  []string `mapstructure:"true_values"`
	FalseValues []string `mapstructure:"false_values"`
	// Operations lists string-rule steps: "trim", "normalize_whitespace".
	Operations []string `mapstructure:"operations"`
}

// Validate checks the rule's kind and kind-specific parameters.
func (r CleanRule) Validate() error {
	switch r.Kind {
	case RuleCase:
		switch r.Case {
		case "lower", "upper", "title":
		default:
			return fmt.Errorf("case rule requires case lower, upper, or title; got %q", r.Case)
		}
	case RulePhone, RuleDate:
	case RuleBoolean:
		if len(r.TrueValues) == 0 || len(r.FalseValues) == 0 {
			return fmt.Errorf("boolean rule requires true_values and false_values")
		}
	case RuleString:
		if len(r.Operations) == 0 {
			return fmt.Errorf("string rule requires at least one operation")
		}
		for _, op := range r.Operations {
			if op != "trim" && op != "normalize_whitespace" {
				return fmt.Errorf("unknown string operation %q", op)
			}
		}
	default:
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}
	return nil
}
