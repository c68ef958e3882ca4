package chinook

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SampleRows is the number of rows written per table by ExportSamples.
const SampleRows = 100

// SamplePath returns the export file for a table: <dir>/<table>_sample.csv.
func SamplePath(dir, table string) string {
	return filepath.Join(dir, strings.ToLower(table)+"_sample.csv")
}

// ExportSamples writes the first rows of each table as CSV with a header row
// and returns the written paths. NULL cells are written empty.
func ExportSamples(tables []*Table, dir string, rows int) ([]string, error) {
	if rows <= 0 {
		rows = SampleRows
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export dir: %w", err)
	}

	var paths []string
	for _, t := range tables {
		path := SamplePath(dir, t.Name)
		if err := writeCSV(path, t, rows); err != nil {
			return paths, fmt.Errorf("failed to export %s: %w", t.Name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeCSV(path string, t *Table, limit int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write(t.Columns); err != nil {
		_ = f.Close()
		return err
	}

	record := make([]string, len(t.Columns))
	for i, row := range t.Rows {
		if i >= limit {
			break
		}
		for j, v := range row {
			record[j] = formatCell(v)
		}
		if err := w.Write(record); err != nil {
			_ = f.Close()
			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
