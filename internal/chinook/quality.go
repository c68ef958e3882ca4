package chinook

import "strings"

// MissingCount is the number of NULL cells in one column.
type MissingCount struct {
	Column string
	Count  int
}

// Quality is the data-quality report for one loaded table.
type Quality struct {
	Table      string
	Missing    []MissingCount
	Duplicates int
}

// Clean reports whether the table has neither missing values nor duplicates.
func (q Quality) Clean() bool {
	return len(q.Missing) == 0 && q.Duplicates == 0
}

// CheckQuality counts missing values per column and fully duplicated rows
// (every occurrence after the first) for each table.
func CheckQuality(tables []*Table) []Quality {
	out := make([]Quality, 0, len(tables))
	for _, t := range tables {
		out = append(out, checkTable(t))
	}
	return out
}

func checkTable(t *Table) Quality {
	q := Quality{Table: t.Name}

	missing := make([]int, len(t.Columns))
	seen := make(map[string]bool, len(t.Rows))
	for _, row := range t.Rows {
		for i, v := range row {
			if v == nil {
				missing[i]++
			}
		}
		key := rowKey(row)
		if seen[key] {
			q.Duplicates++
		}
		seen[key] = true
	}

	for i, n := range missing {
		if n > 0 {
			q.Missing = append(q.Missing, MissingCount{Column: t.Columns[i], Count: n})
		}
	}
	return q
}

// rowKey distinguishes NULL from the empty string.
func rowKey(row []any) string {
	var b strings.Builder
	for _, v := range row {
		if v == nil {
			b.WriteString("\x00N")
		} else {
			b.WriteString("\x00V")
			b.WriteString(formatCell(v))
		}
		b.WriteByte('\x1f')
	}
	return b.String()
}
