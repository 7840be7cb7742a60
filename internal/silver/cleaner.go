// Package silver is the data-quality engine: column cleaning, deduplication,
// referential-integrity checks, schema validation, and the valid/quarantine
// split between the bronze and gold stages.
package silver

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rkerno/dqflow/internal/domain"
)

// maxEpochSeconds bounds the plausible Unix-seconds window for date rules
// (2100-01-01). Numeric values inside it are read as epoch timestamps.
const maxEpochSeconds = 4102444800

var (
	phoneStripPattern = regexp.MustCompile(`[()\-\s.+]`)
	whitespaceRuns    = regexp.MustCompile(`\s+`)

	// Date layouts tried in order; the month-first layout precedes day-first
	// so ambiguous numeric dates resolve month-before-day.
	dateLayouts = []string{
		"2006-01-02",
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006/01/02",
		"01/02/2006",
		"02/01/2006",
		"Jan 2, 2006",
		"January 2, 2006",
		"2 Jan 2006",
		"02-01-2006",
	}
)

// Cleaner applies named cleaning rules to whole table columns.
type Cleaner struct {
	rules map[string]domain.CleanRule
	log   *slog.Logger
}

// NewCleaner creates a cleaner over a validated rule registry.
func NewCleaner(rules map[string]domain.CleanRule, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{rules: rules, log: logger.With("component", "Cleaner")}
}

// HasRule reports whether the named rule is registered.
func (c *Cleaner) HasRule(name string) bool {
	_, ok := c.rules[name]
	return ok
}

// CleanColumn applies the named rule to one column and returns the new table
// and the number of rows whose value changed. A missing column or unknown
// rule leaves the table untouched; a failure inside a rule is caught, logged,
// and leaves the column unmodified. Cleaning never aborts a run.
func (c *Cleaner) CleanColumn(tbl domain.Table, field, ruleName string) (out domain.Table, changed int) {
	out = tbl
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("clean rule failed", "field", field, "rule", ruleName, "error", r)
			out = tbl
			changed = 0
		}
	}()

	rule, ok := c.rules[ruleName]
	if !ok {
		c.log.Warn("unknown cleaning rule", "rule", ruleName, "field", field)
		return tbl, 0
	}
	if !tbl.HasColumn(field) {
		return tbl, 0
	}

	col := tbl.Column(field)
	var cleanCell func(value string) *string
	switch rule.Kind {
	case domain.RuleCase:
		cleanCell = caseCell(rule.Case)
	case domain.RulePhone:
		cleanCell = phoneCell
	case domain.RuleBoolean:
		cleanCell = booleanCell(rule)
	case domain.RuleDate:
		cleanCell = dateCell
	case domain.RuleString:
		cleanCell = stringCell(rule.Operations)
	default:
		c.log.Warn("unsupported rule kind", "rule", ruleName, "kind", string(rule.Kind))
		return tbl, 0
	}

	for i, cell := range col {
		if cell == nil {
			continue
		}
		next := cleanCell(*cell)
		if next == nil {
			col[i] = nil
			changed++
		} else if *next != *cell {
			col[i] = next
			changed++
		}
	}
	if changed == 0 {
		return tbl, 0
	}
	return tbl.WithColumn(field, col), changed
}

func caseCell(mode string) func(string) *string {
	return func(value string) *string {
		var next string
		switch mode {
		case "lower":
			next = strings.ToLower(value)
		case "upper":
			next = strings.ToUpper(value)
		case "title":
			next = titleCase(value)
		default:
			next = value
		}
		return &next
	}
}

func titleCase(value string) string {
	words := strings.Fields(strings.ToLower(value))
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

func phoneCell(value string) *string {
	next := phoneStripPattern.ReplaceAllString(value, "")
	return &next
}

func booleanCell(rule domain.CleanRule) func(string) *string {
	trueSet := make(map[string]struct{}, len(rule.TrueValues))
	for _, v := range rule.TrueValues {
		trueSet[strings.ToLower(v)] = struct{}{}
	}
	falseSet := make(map[string]struct{}, len(rule.FalseValues))
	for _, v := range rule.FalseValues {
		falseSet[strings.ToLower(v)] = struct{}{}
	}
	return func(value string) *string {
		normalized := strings.ToLower(strings.TrimSpace(value))
		if _, ok := trueSet[normalized]; ok {
			v := "true"
			return &v
		}
		if _, ok := falseSet[normalized]; ok {
			v := "false"
			return &v
		}
		// Anything outside both declared value sets maps to null.
		return nil
	}
}

// dateCell normalizes a value to ISO yyyy-mm-dd. Numeric values in the
// plausible epoch-seconds window become dates; everything else runs through
// the tolerant layout list. Values that fail to parse are left unchanged so
// the validator downstream can flag them explicitly.
func dateCell(value string) *string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return &value
	}

	if ts, err := strconv.ParseFloat(raw, 64); err == nil {
		if ts >= 0 && ts <= maxEpochSeconds {
			next := time.Unix(int64(ts), 0).UTC().Format("2006-01-02")
			return &next
		}
		return &value
	}

	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			next := parsed.Format("2006-01-02")
			return &next
		}
	}
	return &value
}

func stringCell(operations []string) func(string) *string {
	return func(value string) *string {
		next := value
		for _, op := range operations {
			switch op {
			case "trim":
				next = strings.TrimSpace(next)
			case "normalize_whitespace":
				next = whitespaceRuns.ReplaceAllString(next, " ")
			}
		}
		return &next
	}
}
