// Package bronze loads raw source files (CSV, JSON, XLSX), flattens nested
// structures, stamps provenance columns, and lands one CSV per entity for the
// quality engine to consume.
package bronze

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rkerno/dqflow/internal/config"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupportedFormat is returned when a source declares a format the
	// ingester cannot read.
	ErrUnsupportedFormat = errors.New("unsupported source format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// Provenance columns stamped onto every bronze row.
const (
	SourceFileColumn = "_source_file"
	LoadedAtColumn   = "_loaded_at"
)

// Result reports one source's ingestion outcome.
type Result struct {
	RowCount   int      `json:"row_count"`
	Format     string   `json:"format"`
	SourceFile string   `json:"source_file"`
	Columns    []string `json:"columns,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Ingester lands configured sources into the bronze directory.
type Ingester struct {
	sources  map[string]config.SourceConfig
	inputDir string
	outDir   string
	log      *slog.Logger
	now      func() time.Time
}

// NewIngester creates an ingester writing to <outputDir>/bronze.
func NewIngester(sources map[string]config.SourceConfig, inputDir, outputDir string, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{
		sources:  sources,
		inputDir: inputDir,
		outDir:   filepath.Join(outputDir, "bronze"),
		log:      logger.With("component", "BronzeIngester"),
		now:      time.Now,
	}
}

// IngestAll loads every configured source. A failing source is reported in
// its Result and does not stop the others.
func (ing *Ingester) IngestAll() (map[string]Result, error) {
	if err := os.MkdirAll(ing.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bronze directory: %w", err)
	}

	loadedAt := ing.now().Format(time.RFC3339)
	results := make(map[string]Result, len(ing.sources))
	for name, source := range ing.sources {
		result, err := ing.ingestSource(name, source, loadedAt)
		if err != nil {
			ing.log.Error("source ingestion failed", "source", name, "error", err)
			result.Error = err.Error()
		} else {
			ing.log.Info("source ingested", "source", name, "rows", result.RowCount, "format", result.Format)
		}
		results[name] = result
	}
	return results, nil
}

func (ing *Ingester) ingestSource(name string, source config.SourceConfig, loadedAt string) (Result, error) {
	result := Result{Format: source.Format, SourceFile: source.File}

	path := filepath.Join(ing.inputDir, source.File)
	payload, err := os.ReadFile(path)
	if err != nil {
		return result, fmt.Errorf("source file not found: %w", err)
	}

	var headers []string
	var rows [][]string
	switch source.Format {
	case "csv":
		headers, rows, err = parseCSV(payload)
	case "json":
		headers, rows, err = parseJSON(payload, source.DataKey)
	case "xlsx":
		headers, rows, err = parseXLSX(payload)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedFormat, source.Format)
	}
	if err != nil {
		return result, err
	}

	headers = append(headers, SourceFileColumn, LoadedAtColumn)
	for i := range rows {
		rows[i] = append(rows[i], source.File, loadedAt)
	}

	outPath := filepath.Join(ing.outDir, name+".csv")
	if err := writeCSV(outPath, headers, rows); err != nil {
		return result, err
	}

	result.RowCount = len(rows)
	result.Columns = headers
	return result, nil
}

func parseCSV(payload []byte) ([]string, [][]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, errors.New("no rows found in file")
	}

	headers := sanitizeHeaders(records[0])
	rows := make([][]string, 0, len(records)-1)
	for _, row := range records[1:] {
		if isEmptyRow(row) {
			continue
		}
		rows = append(rows, padRow(row, len(headers)))
	}
	return headers, rows, nil
}

func parseXLSX(payload []byte) ([]string, [][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, errors.New("excel file has no sheets")
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, errors.New("no rows found in file")
	}

	headers := sanitizeHeaders(records[0])
	rows := make([][]string, 0, len(records)-1)
	for _, row := range records[1:] {
		if isEmptyRow(row) {
			continue
		}
		rows = append(rows, padRow(row, len(headers)))
	}
	return headers, rows, nil
}

func parseJSON(payload []byte, dataKey string) ([]string, [][]string, error) {
	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, nil, fmt.Errorf("failed to parse json: %w", err)
	}

	records := extractRecords(raw, dataKey)
	if len(records) == 0 {
		return nil, nil, nil
	}

	flattened := make([]map[string]string, 0, len(records))
	var headers []string
	seen := make(map[string]struct{})
	for _, record := range records {
		flat := flattenRecord(record, "")
		flattened = append(flattened, flat)
		for _, key := range sortedKeysOf(flat) {
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				headers = append(headers, key)
			}
		}
	}

	rows := make([][]string, len(flattened))
	for i, flat := range flattened {
		row := make([]string, len(headers))
		for j, h := range headers {
			row[j] = flat[h]
		}
		rows[i] = row
	}
	return sanitizeHeaders(headers), rows, nil
}

func extractRecords(raw any, dataKey string) []map[string]any {
	collect := func(value any) []map[string]any {
		list, ok := value.([]any)
		if !ok {
			return nil
		}
		records := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if record, ok := item.(map[string]any); ok {
				records = append(records, record)
			}
		}
		return records
	}

	switch v := raw.(type) {
	case []any:
		return collect(v)
	case map[string]any:
		if dataKey != "" {
			return collect(v[dataKey])
		}
		// No data key declared: take the first array-valued entry.
		for _, value := range v {
			if records := collect(value); records != nil {
				return records
			}
		}
	}
	return nil
}

// flattenRecord flattens simple nested objects into prefixed keys (address →
// address_city) and serializes arrays and deeper objects as JSON strings, so
// every bronze cell is a scalar.
func flattenRecord(record map[string]any, prefix string) map[string]string {
	out := make(map[string]string, len(record))
	for key, value := range record {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + key
		}
		switch v := value.(type) {
		case map[string]any:
			if isSimpleObject(v) {
				for k, nested := range flattenRecord(v, fullKey+"_") {
					out[k] = nested
				}
			} else {
				out[fullKey] = marshalJSONString(v)
			}
		case []any:
			out[fullKey] = marshalJSONString(v)
		case nil:
			out[fullKey] = ""
		default:
			out[fullKey] = formatScalar(v)
		}
	}
	return out
}

// sortedKeysOf returns the flattened keys in a stable order. JSON objects
// decode into unordered maps, so bronze output order would otherwise vary
// between runs.
func sortedKeysOf(flat map[string]string) []string {
	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func isSimpleObject(record map[string]any) bool {
	for _, value := range record {
		switch value.(type) {
		case map[string]any, []any:
			return false
		}
	}
	return true
}

func marshalJSONString(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(data)
}

func formatScalar(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)
	for idx, value := range raw {
		name := strings.TrimSpace(value)
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, ".", "_")
		name = strings.ReplaceAll(name, "-", "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1
		headers[idx] = name
	}
	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func writeCSV(path string, headers []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if err := w.Write(headers); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
