// Package gold computes feature tables from the silver layer with SQL
// aggregations over an embedded sqlite database.
package gold

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rkerno/dqflow/internal/bronze"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// FeatureResult describes one computed feature table.
type FeatureResult struct {
	Table    string   `json:"table"`
	RowCount int      `json:"row_count"`
	Columns  []string `json:"columns"`
}

// Processor loads silver CSVs into sqlite and derives the four feature
// tables: customer_features, product_features, vendor_features and
// invoice_features.
type Processor struct {
	silverDir     string
	outDir        string
	referenceDate time.Time
	db            *sql.DB
	log           *slog.Logger
}

var tableNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// requiredColumns lists, per silver table, the columns the feature queries
// reference. Missing tables are created empty and missing columns are added
// as nulls so a partial silver layer never breaks the aggregation SQL.
var requiredColumns = map[string][]string{
	"customers":          {"customer_id", "full_name", "segment"},
	"vendors":            {"vendor_id", "vendor_name", "country", "reliability_score"},
	"products":           {"product_id", "vendor_id", "product_name", "category", "price", "stock_quantity", "rating"},
	"transactions":       {"transaction_id", "customer_id", "product_id", "transaction_date", "quantity", "total_amount", "order_status"},
	"reviews":            {"review_id", "product_id", "rating"},
	"invoices":           {"invoice_id", "vendor_id", "invoice_date", "due_date", "payment_date", "subtotal", "tax_amount", "shipping_handling", "total_amount", "payment_status"},
	"invoice_line_items": {"invoice_id", "product_id", "line_total"},
}

// NewProcessor opens an in-memory database when dbPath is empty, a
// file-backed one otherwise.
func NewProcessor(silverDir, outputDir, dbPath string, referenceDate time.Time, logger *slog.Logger) (*Processor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := ":memory:"
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = dbPath
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return &Processor{
		silverDir:     silverDir,
		outDir:        filepath.Join(outputDir, "gold"),
		referenceDate: referenceDate,
		db:            db,
		log:           logger.With("component", "GoldProcessor"),
	}, nil
}

// Close releases the underlying database.
func (p *Processor) Close() error {
	return p.db.Close()
}

// ProcessAll loads the silver layer and computes every feature table.
func (p *Processor) ProcessAll() (map[string]FeatureResult, error) {
	if err := os.MkdirAll(p.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create gold directory: %w", err)
	}
	if err := p.loadSilver(); err != nil {
		return nil, err
	}

	results := make(map[string]FeatureResult, 4)
	for _, step := range []struct {
		table string
		query string
		args  []any
	}{
		{"customer_features", customerFeaturesSQL, []any{p.refDate()}},
		{"product_features", productFeaturesSQL, nil},
		{"vendor_features", vendorFeaturesSQL, nil},
		{"invoice_features", invoiceFeaturesSQL, []any{p.refDate()}},
	} {
		if _, err := p.db.Exec(step.query, step.args...); err != nil {
			return results, fmt.Errorf("failed to compute %s: %w", step.table, err)
		}
		result, err := p.export(step.table)
		if err != nil {
			return results, err
		}
		results[step.table] = result
		p.log.Info("feature table computed",
			"table", step.table, "rows", result.RowCount, "columns", len(result.Columns))
	}
	return results, nil
}

func (p *Processor) refDate() string {
	return p.referenceDate.Format("2006-01-02")
}

// loadSilver imports every silver CSV into a sqlite table of the same name,
// then patches in empty stand-ins for whatever the feature queries need that
// this run did not produce.
func (p *Processor) loadSilver() error {
	entries, err := os.ReadDir(p.silverDir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read silver directory: %w", err)
	}
	loaded := make(map[string]bool)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".csv") {
			continue
		}
		table := strings.TrimSuffix(name, ".csv")
		if !tableNamePattern.MatchString(table) {
			continue
		}
		if err := p.importCSV(table, filepath.Join(p.silverDir, name)); err != nil {
			return err
		}
		loaded[table] = true
	}

	for table, columns := range requiredColumns {
		if !loaded[table] {
			if _, err := p.db.Exec(createTableSQL(table, columns)); err != nil {
				return fmt.Errorf("failed to create stand-in table %s: %w", table, err)
			}
			continue
		}
		if err := p.ensureColumns(table, columns); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) importCSV(table, path string) error {
	tbl, err := bronze.ReadTable(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	headers := tbl.Headers()
	if len(headers) == 0 {
		return nil
	}
	if _, err := p.db.Exec(createTableSQL(table, headers)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(headers)), ",")
	quoted := make([]string, len(headers))
	for i, h := range headers {
		quoted[i] = quoteIdent(h)
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), placeholders)

	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(insert)
	if err != nil {
		tx.Rollback()
		return err
	}
	for i := 0; i < tbl.NumRows(); i++ {
		row := tbl.Row(i)
		args := make([]any, len(headers))
		for j, h := range headers {
			if cell := row[h]; cell != nil {
				args[j] = *cell
			}
		}
		if _, err := stmt.Exec(args...); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("failed to load row into %s: %w", table, err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		return err
	}
	p.log.Debug("silver table loaded", "table", table, "rows", tbl.NumRows())
	return nil
}

func (p *Processor) ensureColumns(table string, columns []string) error {
	rows, err := p.db.Query(fmt.Sprintf("SELECT name FROM pragma_table_info(%s)", quoteLiteral(table)))
	if err != nil {
		return err
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, col := range columns {
		if existing[col] {
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", quoteIdent(table), quoteIdent(col))
		if _, err := p.db.Exec(alter); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", table, col, err)
		}
	}
	return nil
}

// export writes a feature table to gold/<table>.csv and returns its shape.
func (p *Processor) export(table string) (FeatureResult, error) {
	result := FeatureResult{Table: table}

	rows, err := p.db.Query(fmt.Sprintf("SELECT * FROM %s", quoteIdent(table)))
	if err != nil {
		return result, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return result, err
	}
	result.Columns = columns

	f, err := os.Create(filepath.Join(p.outDir, table+".csv"))
	if err != nil {
		return result, fmt.Errorf("failed to create %s.csv: %w", table, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return result, err
	}
	values := make([]sql.NullString, len(columns))
	scan := make([]any, len(columns))
	for i := range values {
		scan[i] = &values[i]
	}
	record := make([]string, len(columns))
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return result, err
		}
		for i, v := range values {
			if v.Valid {
				record[i] = v.String
			} else {
				record[i] = ""
			}
		}
		if err := w.Write(record); err != nil {
			return result, err
		}
		result.RowCount++
	}
	if err := rows.Err(); err != nil {
		return result, err
	}
	w.Flush()
	return result, w.Error()
}

func createTableSQL(table string, columns []string) string {
	defs := make([]string, len(columns))
	for i, col := range columns {
		defs[i] = quoteIdent(col) + " TEXT"
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(table), strings.Join(defs, ", "))
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
