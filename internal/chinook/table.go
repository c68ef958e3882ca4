package chinook

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// CoreTables are the tables loaded for analysis, in load order.
var CoreTables = []string{
	"Artist",
	"Album",
	"Track",
	"Customer",
	"Invoice",
	"InvoiceLine",
	"Genre",
	"MediaType",
}

// DefaultLoadLimit caps the rows loaded per table.
const DefaultLoadLimit = 1000

// Table is an in-memory copy of a table's rows. A nil cell is SQL NULL.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// Column returns the index of the named column, or -1.
func (t *Table) Column(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Float returns the numeric value of a cell and whether it was numeric.
func (t *Table) Float(row, col int) (float64, bool) {
	return toFloat(t.Rows[row][col])
}

// LoadTable reads up to limit rows of one table.
func (d *DB) LoadTable(ctx context.Context, name string, limit int) (*Table, error) {
	if limit <= 0 {
		limit = DefaultLoadLimit
	}

	// Table names come from CoreTables or sqlite_master, never from user input.
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM "%s" LIMIT %d`, name, limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	t := &Table{Name: name, Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		t.Rows = append(t.Rows, vals)
	}
	return t, rows.Err()
}

// LoadTables loads the core tables. A table that fails to load is reported
// in the error map and skipped.
func (d *DB) LoadTables(ctx context.Context, limit int) ([]*Table, map[string]error) {
	var tables []*Table
	failed := make(map[string]error)

	for _, name := range CoreTables {
		t, err := d.LoadTable(ctx, name, limit)
		if err != nil {
			failed[name] = err
			continue
		}
		tables = append(tables, t)
	}
	return tables, failed
}

// Find returns the loaded table with the given name, or nil.
func Find(tables []*Table, name string) *Table {
	for _, t := range tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// formatCell renders a cell the way the CSV export and reports print it.
func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.DateTime)
	default:
		return fmt.Sprint(x)
	}
}
