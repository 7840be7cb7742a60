package bronze

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"

	"github.com/rkerno/dqflow/internal/domain"
)

// ReadTable loads a landed bronze CSV into a column-oriented table. Empty
// cells become nulls.
func ReadTable(path string) (domain.Table, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return domain.Table{}, err
	}

	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1
	records, err := csvReader.ReadAll()
	if err != nil {
		return domain.Table{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(records) == 0 {
		return domain.Table{}, errors.New("empty csv file")
	}
	return domain.TableFromRows(records[0], records[1:]), nil
}
