package silver

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/rkerno/dqflow/internal/domain"
)

// writeTable persists a table as CSV. Null cells serialize as empty fields.
// This is the only place a silver artifact is written, so a failure here
// propagates to the caller rather than being swallowed like row-level errors.
func writeTable(path string, tbl domain.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	headers := tbl.Headers()
	if err := w.Write(headers); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	columns := make([][]*string, len(headers))
	for i, h := range headers {
		columns[i] = tbl.Column(h)
	}
	row := make([]string, len(headers))
	for i := 0; i < tbl.NumRows(); i++ {
		for j := range headers {
			if cell := columns[j][i]; cell != nil {
				row[j] = *cell
			} else {
				row[j] = ""
			}
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
