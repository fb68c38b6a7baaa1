package schema

import (
	"context"
	_ "embed"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/canonica-labs/groundsql/internal/errors"
)

// Source produces the tables of a fresh snapshot.
type Source interface {
	// Name identifies the source in logs and errors: live, spreadsheet or manual.
	Name() string
	Load(ctx context.Context) ([]Table, error)
}

// Introspector is the introspection half of the relational store.
type Introspector interface {
	ListTables(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, table string) ([]Column, error)
}

// IntrospectionSource reads base tables and their columns from the live store.
type IntrospectionSource struct {
	store Introspector
}

// NewIntrospectionSource creates a live source over store.
func NewIntrospectionSource(store Introspector) *IntrospectionSource {
	return &IntrospectionSource{store: store}
}

// Name implements Source.
func (s *IntrospectionSource) Name() string { return "live" }

// Load implements Source.
func (s *IntrospectionSource) Load(ctx context.Context) ([]Table, error) {
	names, err := s.store.ListTables(ctx)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "list tables"), errors.ErrSourceUnavailable)
	}
	tables := make([]Table, 0, len(names))
	for _, name := range names {
		cols, err := s.store.DescribeTable(ctx, name)
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "describe table %s", name), errors.ErrSourceUnavailable)
		}
		tables = append(tables, Table{Name: name, Columns: cols})
	}
	return tables, nil
}

//go:embed manual_default.yaml
var defaultManualSchema []byte

// ManualSource reads a hand-authored YAML definition:
//
//	tables:
//	  - name: client
//	    columns:
//	      - {column_name: id, data_type: int, is_nullable: "NO"}
//	      - city
//
// Columns may be records or bare names. Without a path the built-in
// definition is used.
type ManualSource struct {
	path string
}

// NewManualSource creates a manual source. An empty path selects the
// built-in definition.
func NewManualSource(path string) *ManualSource {
	return &ManualSource{path: path}
}

// Name implements Source.
func (s *ManualSource) Name() string { return "manual" }

type manualDoc struct {
	Tables []manualTable `yaml:"tables"`
}

type manualTable struct {
	Name    string      `yaml:"name"`
	Columns []yaml.Node `yaml:"columns"`
}

// Load implements Source.
func (s *ManualSource) Load(ctx context.Context) ([]Table, error) {
	data := defaultManualSchema
	if s.path != "" {
		var err error
		data, err = os.ReadFile(s.path)
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "read manual schema %s", s.path), errors.ErrSourceUnavailable)
		}
	}
	tables, err := ParseManual(data)
	if err != nil {
		return nil, errors.Mark(err, errors.ErrSourceUnavailable)
	}
	return tables, nil
}

// ParseManual decodes a manual YAML definition.
func ParseManual(data []byte) ([]Table, error) {
	var doc manualDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "parse manual schema")
	}
	if len(doc.Tables) == 0 {
		return nil, errors.New("parse manual schema: no tables defined")
	}
	tables := make([]Table, 0, len(doc.Tables))
	for _, mt := range doc.Tables {
		if mt.Name == "" {
			return nil, errors.New("parse manual schema: table without name")
		}
		cols := make([]Column, 0, len(mt.Columns))
		for _, node := range mt.Columns {
			col, err := decodeYAMLColumn(&node)
			if err != nil {
				return nil, errors.Wrapf(err, "parse manual schema: table %s", mt.Name)
			}
			cols = append(cols, col)
		}
		tables = append(tables, Table{Name: mt.Name, Columns: cols})
	}
	return tables, nil
}

func decodeYAMLColumn(node *yaml.Node) (Column, error) {
	if node.Kind == yaml.ScalarNode {
		return Column{Name: node.Value, Nullable: true}, nil
	}
	var rec struct {
		ColumnName string `yaml:"column_name"`
		DataType   string `yaml:"data_type"`
		IsNullable string `yaml:"is_nullable"`
	}
	if err := node.Decode(&rec); err != nil {
		return Column{}, err
	}
	if rec.ColumnName == "" {
		return Column{}, errors.New("column record without column_name")
	}
	return Column{Name: rec.ColumnName, DataType: rec.DataType, Nullable: ParseNullable(rec.IsNullable)}, nil
}
