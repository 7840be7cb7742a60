package domain

// Table is a column-oriented batch of records. Cells are *string so a null
// (absent or nulled-out) value is distinguishable from an empty string that
// survived cleaning. Tables are value types: mutating operations return a new
// Table sharing unchanged columns.
type Table struct {
	headers []string
	columns map[string][]*string
	length  int
}

// Value wraps a literal string as a non-null cell.
func Value(s string) *string {
	return &s
}

// NewTable creates an empty table with the given column order.
func NewTable(headers []string) Table {
	cols := make(map[string][]*string, len(headers))
	for _, h := range headers {
		cols[h] = nil
	}
	return Table{headers: copyHeaders(headers), columns: cols}
}

// TableFromRows builds a table from row-major string data, as produced by CSV
// parsing. Empty cells become null. Short rows are padded with nulls.
func TableFromRows(headers []string, rows [][]string) Table {
	cols := make(map[string][]*string, len(headers))
	for i, h := range headers {
		col := make([]*string, len(rows))
		for j, row := range rows {
			if i < len(row) && row[i] != "" {
				v := row[i]
				col[j] = &v
			}
		}
		cols[h] = col
	}
	return Table{headers: copyHeaders(headers), columns: cols, length: len(rows)}
}

// TableFromRecords builds a table from materialized row maps, keeping the
// given column order. Missing keys become nulls.
func TableFromRecords(headers []string, records []map[string]*string) Table {
	cols := make(map[string][]*string, len(headers))
	for _, h := range headers {
		col := make([]*string, len(records))
		for i, record := range records {
			col[i] = record[h]
		}
		cols[h] = col
	}
	return Table{headers: copyHeaders(headers), columns: cols, length: len(records)}
}

// NumRows returns the number of records in the table.
func (t Table) NumRows() int {
	return t.length
}

// Headers returns the column names in declaration order.
func (t Table) Headers() []string {
	return copyHeaders(t.headers)
}

// HasColumn reports whether the named column exists.
func (t Table) HasColumn(name string) bool {
	_, ok := t.columns[name]
	return ok
}

// Column returns a defensive copy of the named column, or nil when absent.
func (t Table) Column(name string) []*string {
	col, ok := t.columns[name]
	if !ok {
		return nil
	}
	out := make([]*string, len(col))
	copy(out, col)
	return out
}

// WithColumn returns a new table with the named column replaced (or appended
// when new). The replacement must have exactly NumRows values; a mismatched
// column leaves the table unchanged.
func (t Table) WithColumn(name string, values []*string) Table {
	if len(values) != t.length {
		return t
	}
	cols := make(map[string][]*string, len(t.columns)+1)
	for k, v := range t.columns {
		cols[k] = v
	}
	col := make([]*string, len(values))
	copy(col, values)
	cols[name] = col

	headers := copyHeaders(t.headers)
	if !t.HasColumn(name) {
		headers = append(headers, name)
	}
	return Table{headers: headers, columns: cols, length: t.length}
}

// Row materializes record i as a field → value map.
func (t Table) Row(i int) map[string]*string {
	row := make(map[string]*string, len(t.headers))
	for _, h := range t.headers {
		col := t.columns[h]
		if i < len(col) {
			row[h] = col[i]
		} else {
			row[h] = nil
		}
	}
	return row
}

// Select returns a new table containing only the rows at the given indices,
// in the given order.
func (t Table) Select(indices []int) Table {
	cols := make(map[string][]*string, len(t.columns))
	for _, h := range t.headers {
		src := t.columns[h]
		col := make([]*string, 0, len(indices))
		for _, idx := range indices {
			if idx >= 0 && idx < len(src) {
				col = append(col, src[idx])
			} else {
				col = append(col, nil)
			}
		}
		cols[h] = col
	}
	return Table{headers: copyHeaders(t.headers), columns: cols, length: len(indices)}
}

// Project returns a new table restricted to the named columns, in the given
// order. Requested columns missing from the table are filled with nulls so the
// projection always matches the declared field list.
func (t Table) Project(fields []string) Table {
	cols := make(map[string][]*string, len(fields))
	for _, f := range fields {
		if src, ok := t.columns[f]; ok {
			col := make([]*string, len(src))
			copy(col, src)
			cols[f] = col
		} else {
			cols[f] = make([]*string, t.length)
		}
	}
	return Table{headers: copyHeaders(fields), columns: cols, length: t.length}
}

func copyHeaders(headers []string) []string {
	out := make([]string, len(headers))
	copy(out, headers)
	return out
}
