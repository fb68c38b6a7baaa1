package schema

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/canonica-labs/groundsql/internal/errors"
)

func TestSnapshot_JSONDocumentShape(t *testing.T) {
	snap := NewSnapshot(time.Unix(1_700_000_000, 500_000_000), []Table{
		{Name: "zeta", Columns: []Column{{Name: "id", DataType: "int", Nullable: false}}},
		{Name: "alpha", Columns: []Column{{Name: "city", DataType: "nvarchar", Nullable: true}}},
	})
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var generic map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &generic))
	assert.InDelta(t, 1_700_000_000.5, generic["captured_at"], 0.001)
	tables := generic["tables"].(map[string]interface{})
	cols := tables["zeta"].(map[string]interface{})["columns"].([]interface{})
	assert.Equal(t, map[string]interface{}{"column_name": "id", "data_type": "int", "is_nullable": "NO"}, cols[0])

	var back Snapshot
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, []string{"zeta", "alpha"}, back.Names(), "table order survives a round trip")
	assert.Equal(t, snap.Tables(), back.Tables())
}

// Columns arrive either as records or as bare names; both normalize the same way.
func TestSnapshot_DecodesBareColumnNames(t *testing.T) {
	doc := `{"captured_at": 100, "tables": {
		"client": {"columns": ["city", {"column_name": "name", "data_type": "nvarchar", "is_nullable": "NO"}]},
		"legacy": {"column_names": ["a", "b"]}
	}}`
	var snap Snapshot
	require.NoError(t, json.Unmarshal([]byte(doc), &snap))

	client, ok := snap.Table("client")
	require.True(t, ok)
	assert.Equal(t, []Column{
		{Name: "city", Nullable: true},
		{Name: "name", DataType: "nvarchar", Nullable: false},
	}, client.Columns)

	legacy, _ := snap.Table("legacy")
	assert.Equal(t, []Column{{Name: "a", Nullable: true}, {Name: "b", Nullable: true}}, legacy.Columns)
	assert.Equal(t, time.Unix(100, 0), snap.CapturedAt())
}

func TestSnapshot_LegacyTimestampField(t *testing.T) {
	var snap Snapshot
	require.NoError(t, json.Unmarshal([]byte(`{"timestamp": 42.0, "tables": {}}`), &snap))
	assert.Equal(t, time.Unix(42, 0), snap.CapturedAt())
	assert.Zero(t, snap.Len())
}

func TestSnapshot_RejectsMalformedColumns(t *testing.T) {
	var snap Snapshot
	assert.Error(t, json.Unmarshal([]byte(`{"captured_at": 1, "tables": {"t": {"columns": [{"data_type": "int"}]}}}`), &snap))
	assert.Error(t, json.Unmarshal([]byte(`{"captured_at": 1, "tables": []}`), &snap))
}

func TestSnapshot_Expired(t *testing.T) {
	now := time.Unix(10_000, 0)
	snap := NewSnapshot(now.Add(-time.Hour), nil)
	assert.False(t, snap.Expired(now, time.Hour))
	assert.True(t, snap.Expired(now.Add(time.Second), time.Hour))
}

func TestNewSnapshot_DuplicateNamesKeepFirstPosition(t *testing.T) {
	snap := NewSnapshot(time.Now(), []Table{
		{Name: "a", Columns: []Column{{Name: "old"}}},
		{Name: "b"},
		{Name: "a", Columns: []Column{{Name: "new"}}},
	})
	assert.Equal(t, []string{"a", "b"}, snap.Names())
	a, _ := snap.Table("a")
	assert.Equal(t, "new", a.Columns[0].Name)
}

func TestParseManual(t *testing.T) {
	tables, err := ParseManual([]byte(`
tables:
  - name: client
    columns:
      - city
      - {column_name: client_id, data_type: int, is_nullable: "NO"}
  - name: project
    columns: [title]
`))
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, []Column{{Name: "city", Nullable: true}, {Name: "client_id", DataType: "int"}}, tables[0].Columns)
	assert.Equal(t, "project", tables[1].Name)

	_, err = ParseManual(nil)
	assert.Error(t, err)

	_, err = ParseManual([]byte("tables:\n  - columns: [a]\n"))
	assert.Error(t, err)
}

func TestManualSource_MissingFileIsSourceUnavailable(t *testing.T) {
	_, err := NewManualSource(filepath.Join(t.TempDir(), "missing.yaml")).Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSourceUnavailable))
}

func TestTablesFromRows(t *testing.T) {
	rows := [][]string{
		{"Table_Name", "Column_Name", "Data_Type", "Is_Nullable"},
		{"client", "client_id", "int", "NO"},
		{"project", "title", "nvarchar", "YES"},
		{"", "", "", ""},
		{"client", "city"},
	}
	tables, err := TablesFromRows(rows)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "client", tables[0].Name)
	assert.Equal(t, []Column{{Name: "client_id", DataType: "int"}, {Name: "city", Nullable: true}}, tables[0].Columns)

	_, err = TablesFromRows([][]string{{"name", "type"}, {"a", "b"}})
	assert.Error(t, err)
}

func TestSpreadsheetSource_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.csv")
	require.NoError(t, os.WriteFile(path, []byte("table,column,type,nullable\nclient,city,nvarchar,YES\n"), 0o600))

	tables, err := NewSpreadsheetSource(path, "").Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Table{{Name: "client", Columns: []Column{{Name: "city", DataType: "nvarchar", Nullable: true}}}}, tables)
}

func TestSpreadsheetSource_Workbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{
		{"table_name", "column_name", "data_type", "is_nullable"},
		{"contacts", "email", "nvarchar", "YES"},
		{"contacts", "contact_id", "int", "NO"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	tables, err := NewSpreadsheetSource(path, "").Load(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "contacts", tables[0].Name)
	assert.Equal(t, []Column{{Name: "email", DataType: "nvarchar", Nullable: true}, {Name: "contact_id", DataType: "int"}}, tables[0].Columns)
}

func TestSpreadsheetSource_MissingFile(t *testing.T) {
	_, err := NewSpreadsheetSource(filepath.Join(t.TempDir(), "nope.xlsx"), "").Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSourceUnavailable))
}

type fakeIntrospector struct {
	tables  []string
	columns map[string][]Column
	err     error
}

func (f *fakeIntrospector) ListTables(ctx context.Context) ([]string, error) {
	return f.tables, f.err
}

func (f *fakeIntrospector) DescribeTable(ctx context.Context, table string) ([]Column, error) {
	return f.columns[table], nil
}

func TestIntrospectionSource(t *testing.T) {
	src := NewIntrospectionSource(&fakeIntrospector{
		tables:  []string{"client", "project"},
		columns: map[string][]Column{"client": {{Name: "city"}}, "project": {{Name: "title"}}},
	})
	tables, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "live", src.Name())
	assert.Equal(t, []Table{{Name: "client", Columns: []Column{{Name: "city"}}}, {Name: "project", Columns: []Column{{Name: "title"}}}}, tables)

	_, err = NewIntrospectionSource(&fakeIntrospector{err: errors.New("down")}).Load(context.Background())
	assert.True(t, errors.Is(err, errors.ErrSourceUnavailable))
}
