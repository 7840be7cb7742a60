package validator

import (
	"regexp"
	"testing"
	"time"
)

func strp(s string) *string { return &s }

func TestRequiredRejectsMissingValues(t *testing.T) {
	check := Required("customer_id")

	for _, value := range []*string{nil, strp(""), strp("   ")} {
		result := check(value)
		if result.Outcome != RejectRecord {
			t.Fatalf("expected RejectRecord for %v, got %v", value, result.Outcome)
		}
		if result.Kind != KindMissingRequired {
			t.Fatalf("expected kind %s, got %s", KindMissingRequired, result.Kind)
		}
	}

	if result := check(strp("CUS-001")); result.Outcome != Pass {
		t.Fatalf("expected Pass for present value, got %v", result.Outcome)
	}
}

func TestPatternSkipsNulls(t *testing.T) {
	check := Pattern("customer_id", regexp.MustCompile(`^CUS-\d+$`))

	if result := check(nil); result.Outcome != Pass {
		t.Fatalf("null should pass the pattern check, got %v", result.Outcome)
	}
	if result := check(strp("CUS-042")); result.Outcome != Pass {
		t.Fatalf("matching value should pass, got %v", result.Outcome)
	}
	result := check(strp("VND-042"))
	if result.Outcome != RejectRecord || result.Kind != KindPatternMismatch {
		t.Fatalf("mismatching value should reject with pattern_mismatch, got %+v", result)
	}
}

func TestIsIntegerAcceptsWholeFloats(t *testing.T) {
	check := IsInteger("quantity")

	cases := []struct {
		value string
		want  Outcome
	}{
		{"3", Pass},
		{"-2", Pass},
		{"3.0", Pass},
		{"3.5", RejectRecord},
		{"abc", RejectRecord},
	}
	for _, tc := range cases {
		if result := check(strp(tc.value)); result.Outcome != tc.want {
			t.Fatalf("IsInteger(%q): expected %v, got %v", tc.value, tc.want, result.Outcome)
		}
	}
}

func TestMinMaxBounds(t *testing.T) {
	min := Min("price", 0)
	max := Max("rating", 5)

	if result := min(strp("-5")); result.Outcome != RejectRecord || result.Kind != KindOutOfRange {
		t.Fatalf("negative price should reject out_of_range, got %+v", result)
	}
	if result := min(strp("0")); result.Outcome != Pass {
		t.Fatalf("boundary value should pass, got %v", result.Outcome)
	}
	if result := max(strp("7")); result.Outcome != RejectRecord {
		t.Fatalf("rating above max should reject, got %v", result.Outcome)
	}
	// Unparsable values are the type check's problem, not the bound's.
	if result := min(strp("cheap")); result.Outcome != Pass {
		t.Fatalf("unparsable value should pass the bound check, got %v", result.Outcome)
	}
}

func TestEmailOrNullLaunders(t *testing.T) {
	check := EmailOrNull()

	for _, value := range []string{"n/a", "NULL", "none", "nan", "not-an-email", "a@b"} {
		if result := check(strp(value)); result.Outcome != NullField {
			t.Fatalf("EmailOrNull(%q): expected NullField, got %v", value, result.Outcome)
		}
	}
	if result := check(strp("o'brien@example.co.uk")); result.Outcome != Pass {
		t.Fatalf("valid email should pass, got %v", result.Outcome)
	}
}

func TestNotFutureOrNull(t *testing.T) {
	now := func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }
	check := NotFutureOrNull(now)

	if result := check(strp("2030-01-01")); result.Outcome != NullField {
		t.Fatalf("future date should null the field, got %v", result.Outcome)
	}
	if result := check(strp("2024-06-15")); result.Outcome != Pass {
		t.Fatalf("past date should pass, got %v", result.Outcome)
	}
	if result := check(strp("garbage")); result.Outcome != Pass {
		t.Fatalf("unparsable date passes through to the type check, got %v", result.Outcome)
	}
}

func TestRangeOrNull(t *testing.T) {
	check := RangeOrNull(0, 1)

	if result := check(strp("1.5")); result.Outcome != NullField {
		t.Fatalf("out-of-range value should null, got %v", result.Outcome)
	}
	if result := check(strp("0.08")); result.Outcome != Pass {
		t.Fatalf("in-range value should pass, got %v", result.Outcome)
	}
}

func TestNormalizeToken(t *testing.T) {
	check := NormalizeToken()

	result := check(strp("  Bank Transfer "))
	if result.Outcome != ReplaceValue {
		t.Fatalf("expected ReplaceValue, got %v", result.Outcome)
	}
	if result.Value == nil || *result.Value != "bank_transfer" {
		t.Fatalf("expected bank_transfer, got %v", result.Value)
	}
	if result := check(strp("credit_card")); result.Outcome != Pass {
		t.Fatalf("already-normalized value should pass, got %v", result.Outcome)
	}
	if result := check(strp("   ")); result.Outcome != NullField {
		t.Fatalf("whitespace-only value should null, got %v", result.Outcome)
	}
}

func TestValidateMutatesSoftInvalidations(t *testing.T) {
	rv := NewRecordValidator()
	rv.AddChecks("email", EmailOrNull())
	rv.AddChecks("payment_method", NormalizeToken())
	rv.AddChecks("price", Min("price", 0))

	record := map[string]*string{
		"email":          strp("broken-email"),
		"payment_method": strp("Wire Transfer"),
		"price":          strp("19.99"),
	}
	violations := rv.Validate(record)
	if len(violations) != 0 {
		t.Fatalf("expected no violations, got %+v", violations)
	}
	if record["email"] != nil {
		t.Fatalf("malformed email should have been nulled, got %q", *record["email"])
	}
	if record["payment_method"] == nil || *record["payment_method"] != "wire_transfer" {
		t.Fatalf("payment method should have been normalized, got %v", record["payment_method"])
	}
}

func TestValidateCollectsOneViolationPerField(t *testing.T) {
	rv := NewRecordValidator()
	rv.AddChecks("product_id", Required("product_id"), Pattern("product_id", regexp.MustCompile(`^PRD-\d+$`)))
	rv.AddChecks("price", IsFloat("price"), Min("price", 0))

	record := map[string]*string{
		"product_id": nil,
		"price":      strp("-5"),
	}
	violations := rv.Validate(record)
	if len(violations) != 2 {
		t.Fatalf("expected 2 violations, got %d: %+v", len(violations), violations)
	}
	if violations[0].Kind != KindMissingRequired || violations[0].Field != "product_id" {
		t.Fatalf("unexpected first violation: %+v", violations[0])
	}
	if violations[1].Kind != KindOutOfRange || violations[1].Field != "price" {
		t.Fatalf("unexpected second violation: %+v", violations[1])
	}
}

func TestSoftCheckWinsOverLaterBound(t *testing.T) {
	// A soft-invalidating check registered before a bound nulls the field;
	// the bound then sees null and passes, so the record survives.
	rv := NewRecordValidator()
	rv.AddChecks("tax_rate", RangeOrNull(0, 1), Min("tax_rate", 0))

	record := map[string]*string{"tax_rate": strp("-0.3")}
	violations := rv.Validate(record)
	if len(violations) != 0 {
		t.Fatalf("expected no violations, got %+v", violations)
	}
	if record["tax_rate"] != nil {
		t.Fatalf("tax_rate should have been nulled, got %q", *record["tax_rate"])
	}
}
