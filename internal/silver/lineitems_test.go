package silver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rkerno/dqflow/internal/config"
	"github.com/rkerno/dqflow/internal/domain"
)

func lineItemConfig(outDir string) config.Config {
	cfg := testConfig(outDir)
	cfg.Sources["invoices"] = config.SourceConfig{File: "invoices.json", Format: "json", Schema: "invoice"}
	cfg.Order = append(cfg.Order, "invoices")
	cfg.Schemas["invoice"] = domain.EntitySchema{
		Name:       "invoice",
		PrimaryKey: "invoice_id",
		Fields: []domain.FieldDefinition{
			{Name: "invoice_id", Type: domain.FieldTypeString, Required: true, Pattern: `^INV-[A-F0-9]+$`},
			{Name: "vendor_id", Type: domain.FieldTypeString, Required: true, ForeignKey: "vendor"},
			{Name: "total_amount", Type: domain.FieldTypeFloat},
		},
	}
	cfg.Schemas["invoice_line_item"] = domain.EntitySchema{
		Name: "invoice_line_item",
		Fields: []domain.FieldDefinition{
			{Name: "invoice_id", Type: domain.FieldTypeString, Required: true},
			{Name: "line_number", Type: domain.FieldTypeInteger, Required: true},
			{Name: "product_id", Type: domain.FieldTypeString},
			{Name: "quantity", Type: domain.FieldTypeInteger},
			{Name: "unit_cost", Type: domain.FieldTypeFloat},
			{Name: "line_total", Type: domain.FieldTypeFloat},
		},
	}
	return cfg
}

func TestExtractLineItems(t *testing.T) {
	outDir := t.TempDir()
	writeBronze(t, outDir, "invoices",
		[]string{"invoice_id", "vendor_id", "total_amount", "line_items_json"},
		[][]string{
			{
				"INV-AA01", "VND-001", "26.0",
				`[{"product_id":"PRD-001","quantity":2,"unit_cost":10.5,"line_total":21.0},` +
					`{"product_id":"PRD-002","quantity":"several","line_total":5.0}]`,
			},
			{
				"INV-lowercase", "VND-001", "10.0",
				`[{"product_id":"PRD-003","quantity":1,"line_total":10.0}]`,
			},
		})

	keys := domain.NewKeyCache()
	keys.Publish("vendor", []string{"VND-001"})

	p := newTestProcessor(t, lineItemConfig(outDir), WithKeyCache(keys))
	invResult, err := p.Process("invoices")
	if err != nil {
		t.Fatalf("invoice processing returned error: %v", err)
	}
	// The second invoice fails its identifier pattern and is quarantined.
	if invResult.ValidRecords != 1 || invResult.QuarantinedRecords != 1 {
		t.Fatalf("unexpected invoice result: %+v", invResult)
	}

	result, err := p.ExtractLineItems()
	if err != nil {
		t.Fatalf("extraction returned error: %v", err)
	}

	if result.Entity != "invoice_line_items" {
		t.Fatalf("unexpected entity name %q", result.Entity)
	}
	// Two children from the valid invoice: one valid, one with a non-integer
	// quantity. The rejected invoice's child is silently dropped.
	if result.TotalRecords != 2 || result.ValidRecords != 1 || result.QuarantinedRecords != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.ErrorCounts[domain.ErrorInvalidType] != 1 {
		t.Fatalf("expected invalid_type error, got %+v", result.ErrorCounts)
	}

	headers, rows := readSilver(t, outDir, "invoice_line_items")
	if len(rows) != 1 {
		t.Fatalf("expected 1 silver line item, got %d", len(rows))
	}
	row := map[string]string{}
	for i, h := range headers {
		row[h] = rows[0][i]
	}
	if row["invoice_id"] != "INV-AA01" {
		t.Fatalf("child should be stamped with the parent key, got %q", row["invoice_id"])
	}
	if row["line_number"] != "1" {
		t.Fatalf("expected line_number 1, got %q", row["line_number"])
	}
	if row["quantity"] != "2" || row["line_total"] != "21" {
		t.Fatalf("unexpected child values: %+v", row)
	}

	quarantined := readQuarantine(t, outDir, "invoice_line_items")
	if len(quarantined) != 1 {
		t.Fatalf("expected 1 quarantined line item, got %d", len(quarantined))
	}
	// The index points at the item's slot in its invoice's array, so two
	// bad items of one invoice stay distinguishable.
	if quarantined[0].RowIndex != 1 {
		t.Fatalf("expected array index 1, got %d", quarantined[0].RowIndex)
	}
	for _, rec := range quarantined {
		if pid := rec.Record["product_id"]; pid != nil && *pid == "PRD-003" {
			t.Fatalf("children of a rejected invoice must not be quarantined")
		}
	}
}

func TestExtractLineItemsSkipsMalformedJSON(t *testing.T) {
	outDir := t.TempDir()
	writeBronze(t, outDir, "invoices",
		[]string{"invoice_id", "vendor_id", "total_amount", "line_items_json"},
		[][]string{
			{"INV-AA01", "VND-001", "26.0", `{not json`},
			{"INV-AA02", "VND-001", "10.0", ""},
		})

	keys := domain.NewKeyCache()
	keys.Publish("vendor", []string{"VND-001"})

	p := newTestProcessor(t, lineItemConfig(outDir), WithKeyCache(keys))
	if _, err := p.Process("invoices"); err != nil {
		t.Fatalf("invoice processing returned error: %v", err)
	}

	result, err := p.ExtractLineItems()
	if err != nil {
		t.Fatalf("extraction returned error: %v", err)
	}
	if result.TotalRecords != 0 {
		t.Fatalf("malformed or empty arrays should produce no children, got %+v", result)
	}
	if _, err := os.Stat(filepath.Join(outDir, "silver", "invoice_line_items.csv")); !os.IsNotExist(err) {
		t.Fatalf("no silver file should be written when nothing was extracted")
	}
}
