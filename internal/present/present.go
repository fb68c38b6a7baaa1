// Package present renders result rows for people: terminal tables, plain
// text tables for summaries, and CSV or Excel exports.
package present

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/xuri/excelize/v2"

	"github.com/canonica-labs/groundsql/internal/errors"
)

// NullText is how a NULL value is shown.
const NullText = "NULL"

// Columns returns columns, or the sorted keys of the first row when columns
// is empty.
func Columns(columns []string, rows []map[string]any) []string {
	if len(columns) > 0 || len(rows) == 0 {
		return columns
	}
	keys := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Cell formats one value.
func Cell(v any) string {
	switch t := v.(type) {
	case nil:
		return NullText
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}

func tableData(columns []string, rows []map[string]any) pterm.TableData {
	columns = Columns(columns, rows)
	data := make(pterm.TableData, 0, len(rows)+1)
	data = append(data, columns)
	for _, r := range rows {
		line := make([]string, len(columns))
		for i, c := range columns {
			line[i] = Cell(r[c])
		}
		data = append(data, line)
	}
	return data
}

// Table renders rows as a styled terminal table.
func Table(columns []string, rows []map[string]any) (string, error) {
	out, err := pterm.DefaultTable.
		WithHasHeader().
		WithData(tableData(columns, rows)).
		Srender()
	if err != nil {
		return "", errors.Wrap(err, "present: render table")
	}
	return out, nil
}

// Plain renders rows as a table without terminal styling, for text that is
// stored or sent over the wire.
func Plain(columns []string, rows []map[string]any) string {
	plain := pterm.NewStyle()
	out, err := pterm.DefaultTable.
		WithHasHeader().
		WithStyle(plain).
		WithHeaderStyle(plain).
		WithSeparatorStyle(plain).
		WithData(tableData(columns, rows)).
		Srender()
	if err != nil {
		// Srender only fails on writer errors; fall back to one row per line.
		var b strings.Builder
		for _, line := range tableData(columns, rows) {
			b.WriteString(strings.Join(line, " | "))
			b.WriteByte('\n')
		}
		return b.String()
	}
	return out
}

// Sample renders up to n rows as "{col: value, ...}" lines for prompts.
func Sample(columns []string, rows []map[string]any, n int) string {
	columns = Columns(columns, rows)
	if n > len(rows) {
		n = len(rows)
	}
	var b strings.Builder
	for _, r := range rows[:n] {
		b.WriteByte('{')
		for i, c := range columns {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s: %s", c, Cell(r[c]))
		}
		b.WriteString("}\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// WriteCSV writes a header row and one record per row.
func WriteCSV(w io.Writer, columns []string, rows []map[string]any) error {
	cw := csv.NewWriter(w)
	for _, line := range tableData(columns, rows) {
		if err := cw.Write(line); err != nil {
			return errors.Wrap(err, "present: write csv")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "present: write csv")
}

// SheetName is the worksheet results are exported to.
const SheetName = "Results"

// WriteWorkbook saves rows to an .xlsx file at path.
func WriteWorkbook(path string, columns []string, rows []map[string]any) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return errors.Wrap(err, "present: name sheet")
	}
	for i, line := range tableData(columns, rows) {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return errors.Wrap(err, "present: cell name")
		}
		values := make([]any, len(line))
		for j, v := range line {
			values[j] = v
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return errors.Wrap(err, "present: write row")
		}
	}
	return errors.Wrap(f.SaveAs(path), "present: save workbook")
}

// Export writes rows to path, as a workbook for .xlsx and CSV otherwise.
func Export(path string, columns []string, rows []map[string]any) error {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return WriteWorkbook(path, columns, rows)
	}
	w, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "present: create %s", path)
	}
	if err := WriteCSV(w, columns, rows); err != nil {
		_ = w.Close()
		return err
	}
	return errors.Wrap(w.Close(), "present: close csv")
}
