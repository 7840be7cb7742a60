package silver

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rkerno/dqflow/internal/config"
	"github.com/rkerno/dqflow/internal/domain"
	"github.com/rkerno/dqflow/internal/registry"
)

func fl(v float64) *float64 { return &v }

func testSchemas() map[string]domain.EntitySchema {
	return map[string]domain.EntitySchema{
		"vendor": {
			Name:       "vendor",
			PrimaryKey: "vendor_id",
			Fields: []domain.FieldDefinition{
				{Name: "vendor_id", Type: domain.FieldTypeString, Required: true, Pattern: `^VND-\d+$`},
				{Name: "vendor_name", Type: domain.FieldTypeString, Required: true},
			},
		},
		"product": {
			Name:       "product",
			PrimaryKey: "product_id",
			Fields: []domain.FieldDefinition{
				{Name: "product_id", Type: domain.FieldTypeString, Required: true, Pattern: `^PRD-\d+$`},
				{Name: "vendor_id", Type: domain.FieldTypeString, Required: true, ForeignKey: "vendor"},
				{Name: "price", Type: domain.FieldTypeFloat, Min: fl(0)},
			},
		},
		"customer": {
			Name:       "customer",
			PrimaryKey: "customer_id",
			Fields: []domain.FieldDefinition{
				{Name: "customer_id", Type: domain.FieldTypeString, Required: true, Pattern: `^CUS-\d+$`},
				{Name: "full_name", Type: domain.FieldTypeString, Required: true},
				{Name: "email", Type: domain.FieldTypeString, CleanRule: "lowercase"},
				{Name: "registration_date", Type: domain.FieldTypeDate},
				{Name: "total_spend", Type: domain.FieldTypeFloat},
			},
		},
	}
}

func testConfig(outDir string) config.Config {
	return config.Config{
		Pipeline: config.PipelineConfig{OutputDir: outDir},
		Sources: map[string]config.SourceConfig{
			"vendors":   {File: "vendors.csv", Format: "csv", Schema: "vendor"},
			"products":  {File: "products.csv", Format: "csv", Schema: "product"},
			"customers": {File: "customers.csv", Format: "csv", Schema: "customer"},
		},
		Order:   []string{"vendors", "products", "customers"},
		Schemas: testSchemas(),
		Rules:   testRules(),
	}
}

func newTestProcessor(t *testing.T, cfg config.Config, opts ...ProcessorOption) *Processor {
	t.Helper()
	reg, err := registry.New(cfg.Schemas,
		registry.WithNow(func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }))
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	return NewProcessor(cfg, reg, testLogger(), opts...)
}

func writeBronze(t *testing.T, outDir, entity string, headers []string, rows [][]string) {
	t.Helper()
	dir := filepath.Join(outDir, "bronze")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create bronze dir: %v", err)
	}
	f, err := os.Create(filepath.Join(dir, entity+".csv"))
	if err != nil {
		t.Fatalf("failed to create bronze file: %v", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(headers); err != nil {
		t.Fatalf("failed to write header: %v", err)
	}
	if err := w.WriteAll(rows); err != nil {
		t.Fatalf("failed to write rows: %v", err)
	}
}

func readSilver(t *testing.T, outDir, entity string) ([]string, [][]string) {
	t.Helper()
	f, err := os.Open(filepath.Join(outDir, "silver", entity+".csv"))
	if err != nil {
		t.Fatalf("failed to open silver output: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse silver output: %v", err)
	}
	if len(records) == 0 {
		t.Fatalf("silver output is empty")
	}
	return records[0], records[1:]
}

func readQuarantine(t *testing.T, outDir, entity string) []domain.QuarantineRecord {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(outDir, "quarantine", entity+"_quarantine.json"))
	if err != nil {
		t.Fatalf("failed to read quarantine file: %v", err)
	}
	var records []domain.QuarantineRecord
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("failed to parse quarantine file: %v", err)
	}
	return records
}

func TestProcessDeduplicatesKeepFirst(t *testing.T) {
	outDir := t.TempDir()
	writeBronze(t, outDir, "customers",
		[]string{"customer_id", "full_name", "email", "registration_date", "total_spend"},
		[][]string{
			{"CUS-001", "Alice", "alice@example.com", "2024-01-15", "5000"},
			{"CUS-002", "Bob", "bob@example.com", "2024-06-01", "200"},
			{"CUS-001", "Alice Again", "alice.again@example.com", "2024-02-02", "100"},
		})

	p := newTestProcessor(t, testConfig(outDir))
	result, err := p.Process("customers")
	if err != nil {
		t.Fatalf("process returned error: %v", err)
	}

	if result.TotalRecords != 3 || result.DuplicatesRemoved != 1 || result.ValidRecords != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}

	_, rows := readSilver(t, outDir, "customers")
	if len(rows) != 2 {
		t.Fatalf("expected 2 silver rows, got %d", len(rows))
	}
	// Keep-first: the earliest CUS-001 occurrence survives.
	if rows[0][1] != "Alice" {
		t.Fatalf("expected first occurrence to win, got %q", rows[0][1])
	}
}

func TestProcessQuarantinesOrphans(t *testing.T) {
	outDir := t.TempDir()
	writeBronze(t, outDir, "products",
		[]string{"product_id", "vendor_id", "price"},
		[][]string{
			{"PRD-001", "VND-001", "49.99"},
			{"PRD-002", "VND-999", "-5"},
		})

	keys := domain.NewKeyCache()
	keys.Publish("vendor", []string{"VND-001"})

	p := newTestProcessor(t, testConfig(outDir), WithKeyCache(keys))
	result, err := p.Process("products")
	if err != nil {
		t.Fatalf("process returned error: %v", err)
	}

	if result.OrphanedRecords != 1 || result.QuarantinedRecords != 1 || result.ValidRecords != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.ErrorCounts[domain.ErrorReferentialIntegrity] != 1 {
		t.Fatalf("expected 1 referential_integrity error, got %+v", result.ErrorCounts)
	}

	records := readQuarantine(t, outDir, "products")
	if len(records) != 1 {
		t.Fatalf("expected 1 quarantine record, got %d", len(records))
	}
	// The orphan short-circuits: its negative price is never inspected, so
	// the only error carried is the referential one.
	if len(records[0].Errors) != 1 || records[0].Errors[0].Type != domain.ErrorReferentialIntegrity {
		t.Fatalf("orphan should carry only the referential error, got %+v", records[0].Errors)
	}
}

func TestProcessOrphanCountedOncePerRow(t *testing.T) {
	outDir := t.TempDir()
	cfg := testConfig(outDir)
	cfg.Schemas["order"] = domain.EntitySchema{
		Name:       "order",
		PrimaryKey: "order_id",
		Fields: []domain.FieldDefinition{
			{Name: "order_id", Type: domain.FieldTypeString, Required: true},
			{Name: "customer_id", Type: domain.FieldTypeString, ForeignKey: "customer"},
			{Name: "product_id", Type: domain.FieldTypeString, ForeignKey: "product"},
		},
	}
	cfg.Sources["orders"] = config.SourceConfig{File: "orders.csv", Format: "csv", Schema: "order"}
	writeBronze(t, outDir, "orders",
		[]string{"order_id", "customer_id", "product_id"},
		[][]string{
			{"ORD-001", "CUS-404", "PRD-404"},
			{"ORD-002", "CUS-001", "PRD-001"},
		})

	keys := domain.NewKeyCache()
	keys.Publish("customer", []string{"CUS-001"})
	keys.Publish("product", []string{"PRD-001"})

	p := newTestProcessor(t, cfg, WithKeyCache(keys))
	result, err := p.Process("orders")
	if err != nil {
		t.Fatalf("process returned error: %v", err)
	}
	if result.OrphanedRecords != 1 || result.QuarantinedRecords != 1 || result.ValidRecords != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	// Both references are broken, but the row counts once.
	if result.ErrorCounts[domain.ErrorReferentialIntegrity] != 1 {
		t.Fatalf("expected 1 referential_integrity error for the row, got %+v", result.ErrorCounts)
	}
	records := readQuarantine(t, outDir, "orders")
	if len(records) != 1 || len(records[0].Errors) != 2 {
		t.Fatalf("quarantine should list every broken reference, got %+v", records)
	}
}

func TestProcessRoundTripIsStable(t *testing.T) {
	firstOut := t.TempDir()
	writeBronze(t, firstOut, "customers",
		[]string{"customer_id", "full_name", "email", "registration_date", "total_spend"},
		[][]string{
			{"CUS-001", "Alice", "ALICE@Example.COM", "2024-01-15", "5000"},
			{"CUS-001", "Alice Dup", "alice.dup@example.com", "2024-02-02", "1"},
			{"CUS-002", "Bob", "Not-An-Email", "2030-01-01", "-250"},
		})

	p := newTestProcessor(t, testConfig(firstOut))
	first, err := p.Process("customers")
	if err != nil {
		t.Fatalf("first pass returned error: %v", err)
	}
	if first.DuplicatesRemoved != 1 || first.ValidRecords != 2 {
		t.Fatalf("unexpected first pass: %+v", first)
	}

	// Feed the silver output back through as a fresh run's bronze input.
	data, err := os.ReadFile(filepath.Join(firstOut, "silver", "customers.csv"))
	if err != nil {
		t.Fatalf("failed to read silver output: %v", err)
	}
	secondOut := t.TempDir()
	if err := os.MkdirAll(filepath.Join(secondOut, "bronze"), 0o755); err != nil {
		t.Fatalf("failed to create bronze dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(secondOut, "bronze", "customers.csv"), data, 0o644); err != nil {
		t.Fatalf("failed to seed second run: %v", err)
	}

	second, err := newTestProcessor(t, testConfig(secondOut)).Process("customers")
	if err != nil {
		t.Fatalf("second pass returned error: %v", err)
	}
	// Already-clean data passes untouched: nothing left to dedup or reject.
	if second.DuplicatesRemoved != 0 || second.QuarantinedRecords != 0 {
		t.Fatalf("reprocessing valid output must be a no-op: %+v", second)
	}
	if second.ValidRecords != first.ValidRecords {
		t.Fatalf("valid count drifted: first %d, second %d", first.ValidRecords, second.ValidRecords)
	}
}

func TestProcessSkipsForeignKeyWhenTargetCacheEmpty(t *testing.T) {
	outDir := t.TempDir()
	writeBronze(t, outDir, "products",
		[]string{"product_id", "vendor_id", "price"},
		[][]string{
			{"PRD-001", "VND-999", "49.99"},
		})

	// No vendor keys were published, so the vendor reference goes unchecked
	// rather than orphaning every product.
	p := newTestProcessor(t, testConfig(outDir))
	result, err := p.Process("products")
	if err != nil {
		t.Fatalf("process returned error: %v", err)
	}
	if result.OrphanedRecords != 0 || result.ValidRecords != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestProcessRejectsNegativePrice(t *testing.T) {
	outDir := t.TempDir()
	writeBronze(t, outDir, "products",
		[]string{"product_id", "vendor_id", "price"},
		[][]string{
			{"PRD-001", "VND-001", "-5"},
		})

	keys := domain.NewKeyCache()
	keys.Publish("vendor", []string{"VND-001"})

	p := newTestProcessor(t, testConfig(outDir), WithKeyCache(keys))
	result, err := p.Process("products")
	if err != nil {
		t.Fatalf("process returned error: %v", err)
	}
	if result.QuarantinedRecords != 1 || result.ValidRecords != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.ErrorCounts[domain.ErrorOutOfRange] != 1 {
		t.Fatalf("expected out_of_range error, got %+v", result.ErrorCounts)
	}
}

func TestProcessSoftInvalidationsKeepRecord(t *testing.T) {
	outDir := t.TempDir()
	writeBronze(t, outDir, "customers",
		[]string{"customer_id", "full_name", "email", "registration_date", "total_spend"},
		[][]string{
			{"CUS-001", "Alice", "Not-An-Email", "2030-01-01", "-250"},
		})

	p := newTestProcessor(t, testConfig(outDir))
	result, err := p.Process("customers")
	if err != nil {
		t.Fatalf("process returned error: %v", err)
	}
	if result.ValidRecords != 1 || result.QuarantinedRecords != 0 {
		t.Fatalf("soft invalidations must keep the record: %+v", result)
	}

	headers, rows := readSilver(t, outDir, "customers")
	row := map[string]string{}
	for i, h := range headers {
		row[h] = rows[0][i]
	}
	if row["email"] != "" {
		t.Fatalf("malformed email should be nulled, got %q", row["email"])
	}
	if row["registration_date"] != "" {
		t.Fatalf("future date should be nulled, got %q", row["registration_date"])
	}
	// Negative net spend is a refund balance, not bad data.
	if row["total_spend"] != "-250" {
		t.Fatalf("negative spend should survive, got %q", row["total_spend"])
	}
}

func TestProcessCountInvariant(t *testing.T) {
	outDir := t.TempDir()
	writeBronze(t, outDir, "customers",
		[]string{"customer_id", "full_name", "email", "registration_date", "total_spend"},
		[][]string{
			{"CUS-001", "Alice", "", "", ""},
			{"CUS-001", "Alice Dup", "", "", ""},
			{"CUS-002", "", "", "", ""},
			{"BAD-ID", "Carol", "", "", ""},
			{"CUS-003", "Dave", "", "", ""},
		})

	p := newTestProcessor(t, testConfig(outDir))
	result, err := p.Process("customers")
	if err != nil {
		t.Fatalf("process returned error: %v", err)
	}
	sum := result.DuplicatesRemoved + result.ValidRecords + result.QuarantinedRecords
	if sum != result.TotalRecords {
		t.Fatalf("invariant broken: %d + %d + %d != %d",
			result.DuplicatesRemoved, result.ValidRecords, result.QuarantinedRecords, result.TotalRecords)
	}
	if result.ErrorCounts[domain.ErrorMissingRequired] != 1 {
		t.Fatalf("expected missing_required for empty full_name, got %+v", result.ErrorCounts)
	}
	if result.ErrorCounts[domain.ErrorPatternMismatch] != 1 {
		t.Fatalf("expected pattern_mismatch for BAD-ID, got %+v", result.ErrorCounts)
	}
}

func TestProcessPublishesValidKeysOnly(t *testing.T) {
	outDir := t.TempDir()
	writeBronze(t, outDir, "vendors",
		[]string{"vendor_id", "vendor_name"},
		[][]string{
			{"VND-001", "Acme"},
			{"VND-002", ""},
		})

	p := newTestProcessor(t, testConfig(outDir))
	if _, err := p.Process("vendors"); err != nil {
		t.Fatalf("process returned error: %v", err)
	}
	if !p.KeyCache().Contains("vendor", "VND-001") {
		t.Fatalf("valid vendor key should be published")
	}
	if p.KeyCache().Contains("vendor", "VND-002") {
		t.Fatalf("quarantined vendor key must not be published")
	}
}

func TestProcessMissingBronzeFile(t *testing.T) {
	outDir := t.TempDir()

	p := newTestProcessor(t, testConfig(outDir))
	result, err := p.Process("vendors")
	if err != nil {
		t.Fatalf("a missing upstream file must not abort the run: %v", err)
	}
	if result.TotalRecords != 0 || result.ValidRecords != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestProcessUnknownSchemaPassesThrough(t *testing.T) {
	outDir := t.TempDir()
	cfg := testConfig(outDir)
	cfg.Sources["mystery"] = config.SourceConfig{File: "mystery.csv", Format: "csv", Schema: "mystery"}
	writeBronze(t, outDir, "mystery",
		[]string{"anything"},
		[][]string{{"at all"}})

	p := newTestProcessor(t, cfg)
	result, err := p.Process("mystery")
	if err != nil {
		t.Fatalf("process returned error: %v", err)
	}
	if result.ValidRecords != 1 || result.QuarantinedRecords != 0 {
		t.Fatalf("unknown schema should pass rows through, got %+v", result)
	}
	if _, rows := readSilver(t, outDir, "mystery"); len(rows) != 1 {
		t.Fatalf("pass-through rows should still be persisted")
	}
}

func TestProcessCountsCleanWarnings(t *testing.T) {
	outDir := t.TempDir()
	cfg := testConfig(outDir)
	schema := cfg.Schemas["customer"]
	schema.Fields[2].CleanRule = "rule_nobody_defined"
	cfg.Schemas["customer"] = schema

	writeBronze(t, outDir, "customers",
		[]string{"customer_id", "full_name", "email", "registration_date", "total_spend"},
		[][]string{
			{"CUS-001", "Alice", "ALICE@EXAMPLE.COM", "", ""},
		})

	p := newTestProcessor(t, cfg)
	result, err := p.Process("customers")
	if err != nil {
		t.Fatalf("process returned error: %v", err)
	}
	if result.CleanWarnings != 1 {
		t.Fatalf("expected 1 clean warning, got %d", result.CleanWarnings)
	}
	if result.ValidRecords != 1 {
		t.Fatalf("an unknown rule must not drop records, got %+v", result)
	}
}

func TestProcessAllRunsInConfiguredOrder(t *testing.T) {
	outDir := t.TempDir()
	writeBronze(t, outDir, "vendors",
		[]string{"vendor_id", "vendor_name"},
		[][]string{{"VND-001", "Acme"}})
	writeBronze(t, outDir, "products",
		[]string{"product_id", "vendor_id", "price"},
		[][]string{
			{"PRD-001", "VND-001", "49.99"},
			{"PRD-002", "VND-404", "9.99"},
		})
	writeBronze(t, outDir, "customers",
		[]string{"customer_id", "full_name", "email", "registration_date", "total_spend"},
		[][]string{{"CUS-001", "Alice", "alice@example.com", "2024-01-15", "100"}})

	p := newTestProcessor(t, testConfig(outDir))
	results, err := p.ProcessAll()
	if err != nil {
		t.Fatalf("process all returned error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	// Vendors ran before products, so the stale vendor reference was caught.
	if results["products"].OrphanedRecords != 1 {
		t.Fatalf("expected the VND-404 product to be orphaned, got %+v", results["products"])
	}
	if results["vendors"].ValidRecords != 1 || results["customers"].ValidRecords != 1 {
		t.Fatalf("unexpected results: %+v", results)
	}
}
