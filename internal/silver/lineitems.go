package silver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rkerno/dqflow/internal/bronze"
	"github.com/rkerno/dqflow/internal/domain"
)

const (
	invoiceSchemaName  = "invoice"
	lineItemSchemaName = "invoice_line_item"
	lineItemEntityName = "invoice_line_items"
	lineItemsColumn    = "line_items_json"
	lineNumberField    = "line_number"
)

// ExtractLineItems unnests the embedded line-item arrays of invoices into
// their own entity. Only invoices whose primary key survived validation
// contribute items, so every extracted row already has a valid parent.
// Rows with malformed JSON are skipped rather than quarantined: the parent
// invoice was judged on its own fields and has already been persisted.
func (p *Processor) ExtractLineItems() (domain.ProcessingResult, error) {
	result := domain.ProcessingResult{
		Entity:        lineItemEntityName,
		FieldsCleaned: map[string]int{},
		ErrorCounts:   map[string]int{},
	}

	invoiceEntity, ok := p.sourceForSchema(invoiceSchemaName)
	if !ok {
		return result, nil
	}
	invoiceSchema, err := p.registry.Schema(invoiceSchemaName)
	if err != nil {
		return result, nil
	}
	itemSchema, err := p.registry.Schema(lineItemSchemaName)
	if err != nil {
		p.log.Warn("line item schema not registered, extraction skipped")
		return result, nil
	}
	rv, err := p.registry.Validator(lineItemSchemaName)
	if err != nil {
		return result, nil
	}

	tbl, err := bronze.ReadTable(filepath.Join(p.bronzeDir, invoiceEntity+".csv"))
	if err != nil || !tbl.HasColumn(lineItemsColumn) || !tbl.HasColumn(invoiceSchema.PrimaryKey) {
		return result, nil
	}

	pkField := invoiceSchema.PrimaryKey
	var validRecords []map[string]*string
	var quarantined []domain.QuarantineRecord

	for i := 0; i < tbl.NumRows(); i++ {
		row := tbl.Row(i)
		pk := row[pkField]
		if pk == nil || !p.keys.Contains(invoiceSchemaName, *pk) {
			continue
		}
		raw := row[lineItemsColumn]
		if raw == nil || *raw == "" {
			continue
		}
		var items []map[string]any
		if err := json.Unmarshal([]byte(*raw), &items); err != nil {
			p.log.Debug("unparsable line items", "invoice", *pk, "error", err)
			continue
		}

		for idx, item := range items {
			record := make(map[string]*string, len(itemSchema.Fields))
			for _, field := range itemSchema.Fields {
				if value, ok := item[field.Name]; ok {
					record[field.Name] = scalarString(value)
				} else {
					record[field.Name] = nil
				}
			}
			record[pkField] = domain.Value(*pk)
			if record[lineNumberField] == nil {
				record[lineNumberField] = domain.Value(strconv.Itoa(idx + 1))
			}
			record[bronze.SourceFileColumn] = row[bronze.SourceFileColumn]
			record[bronze.LoadedAtColumn] = row[bronze.LoadedAtColumn]

			violations := rv.Validate(record)
			if len(violations) == 0 {
				validRecords = append(validRecords, record)
				continue
			}
			errs := make([]domain.FieldError, 0, len(violations))
			for _, v := range violations {
				result.ErrorCounts[v.Kind]++
				errs = append(errs, domain.FieldError{Field: v.Field, Type: v.Kind, Msg: v.Message})
			}
			// RowIndex is the item's position inside its invoice's array;
			// the record's invoice_id names the parent.
			quarantined = append(quarantined, domain.QuarantineRecord{
				RowIndex: idx,
				Record:   record,
				Errors:   errs,
			})
		}
	}

	result.ValidRecords = len(validRecords)
	result.QuarantinedRecords = len(quarantined)
	result.TotalRecords = result.ValidRecords + result.QuarantinedRecords

	if len(validRecords) > 0 {
		out := domain.TableFromRecords(itemSchema.FieldNames(), validRecords)
		if err := os.MkdirAll(p.silverDir, 0o755); err != nil {
			return result, fmt.Errorf("failed to create silver directory: %w", err)
		}
		if err := writeTable(filepath.Join(p.silverDir, lineItemEntityName+".csv"), out); err != nil {
			return result, err
		}
	}
	if len(quarantined) > 0 {
		if err := p.sink.Append(lineItemEntityName, quarantined); err != nil {
			return result, err
		}
	}
	p.log.Info("line items extracted",
		"valid", result.ValidRecords,
		"quarantined", result.QuarantinedRecords,
	)
	return result, nil
}

// scalarString renders a decoded JSON value as the cell representation the
// rest of the pipeline expects. Whole floats print without a fraction so
// integer-typed fields validate.
func scalarString(value any) *string {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return domain.Value(v)
	case bool:
		return domain.Value(strconv.FormatBool(v))
	case float64:
		return domain.Value(strconv.FormatFloat(v, 'f', -1, 64))
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return domain.Value(string(b))
	}
}
