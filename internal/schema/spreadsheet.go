package schema

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/canonica-labs/groundsql/internal/errors"
)

// SpreadsheetSource imports a schema from an .xlsx workbook or a .csv file
// with one row per column and a header row naming at least table_name and
// column_name. data_type and is_nullable are optional. Header matching is
// case-insensitive and also accepts table, column, type and nullable.
type SpreadsheetSource struct {
	path  string
	sheet string
}

// NewSpreadsheetSource creates a spreadsheet source. sheet selects a
// workbook sheet; empty means the first one. It is ignored for CSV.
func NewSpreadsheetSource(path, sheet string) *SpreadsheetSource {
	return &SpreadsheetSource{path: path, sheet: sheet}
}

// Name implements Source.
func (s *SpreadsheetSource) Name() string { return "spreadsheet" }

// Load implements Source.
func (s *SpreadsheetSource) Load(ctx context.Context) ([]Table, error) {
	if s.path == "" {
		return nil, errors.Mark(errors.New("no spreadsheet path configured"), errors.ErrSourceUnavailable)
	}
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".csv":
		rows, err = readCSV(s.path)
	default:
		rows, err = readWorkbook(s.path, s.sheet)
	}
	if err != nil {
		return nil, errors.Mark(err, errors.ErrSourceUnavailable)
	}
	tables, err := TablesFromRows(rows)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "import %s", s.path), errors.ErrSourceUnavailable)
	}
	return tables, nil
}

func readWorkbook(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open workbook %s", path)
	}
	defer func() { _ = f.Close() }()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.Wrapf(err, "read sheet %q", sheet)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return rows, nil
}

var headerAliases = map[string]string{
	"table_name":  "table",
	"table":       "table",
	"column_name": "column",
	"column":      "column",
	"data_type":   "type",
	"type":        "type",
	"is_nullable": "nullable",
	"nullable":    "nullable",
}

// TablesFromRows converts header-led rows into tables. Tables appear in
// the order of their first row; blank rows are skipped.
func TablesFromRows(rows [][]string) ([]Table, error) {
	if len(rows) == 0 {
		return nil, errors.New("spreadsheet is empty")
	}
	idx := map[string]int{}
	for i, h := range rows[0] {
		key := strings.ToLower(strings.TrimSpace(h))
		if canon, ok := headerAliases[key]; ok {
			if _, dup := idx[canon]; !dup {
				idx[canon] = i
			}
		}
	}
	if _, ok := idx["table"]; !ok {
		return nil, errors.New("header row has no table_name column")
	}
	if _, ok := idx["column"]; !ok {
		return nil, errors.New("header row has no column_name column")
	}

	cell := func(row []string, key string) string {
		i, ok := idx[key]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var order []string
	byName := map[string][]Column{}
	for _, row := range rows[1:] {
		table, column := cell(row, "table"), cell(row, "column")
		if table == "" || column == "" {
			continue
		}
		if _, seen := byName[table]; !seen {
			order = append(order, table)
		}
		byName[table] = append(byName[table], Column{
			Name:     column,
			DataType: cell(row, "type"),
			Nullable: ParseNullable(cell(row, "nullable")),
		})
	}
	if len(order) == 0 {
		return nil, errors.New("spreadsheet has no column rows")
	}

	tables := make([]Table, 0, len(order))
	for _, name := range order {
		tables = append(tables, Table{Name: name, Columns: byName[name]})
	}
	return tables, nil
}
