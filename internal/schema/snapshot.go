// Package schema holds the schema snapshot the grounding matcher scores
// questions against, and the store that keeps it fresh.
//
// A Snapshot is immutable once built. The Store publishes snapshots with a
// single atomic pointer swap, so concurrent readers see either the old
// snapshot or the new one, never a mix.
package schema

import (
	"time"
)

// Column describes one column of a table.
type Column struct {
	Name     string `json:"name"`
	DataType string `json:"data_type,omitempty"`
	Nullable bool   `json:"nullable"`
}

// NullableText renders Nullable the way INFORMATION_SCHEMA does.
func (c Column) NullableText() string {
	if c.Nullable {
		return "YES"
	}
	return "NO"
}

// Table is a table name and its ordered columns.
type Table struct {
	Name    string
	Columns []Column
}

// Snapshot is a point-in-time view of the tables a question may reference.
// Table order is the order the source produced and is significant: the
// grounding matcher breaks score ties with it.
type Snapshot struct {
	capturedAt time.Time
	tables     []Table
	index      map[string]int
}

// NewSnapshot builds a snapshot. Tables and columns are copied; a repeated
// table name keeps its first position and its last column list.
func NewSnapshot(capturedAt time.Time, tables []Table) *Snapshot {
	s := &Snapshot{
		capturedAt: capturedAt,
		index:      make(map[string]int, len(tables)),
	}
	for _, t := range tables {
		cols := append([]Column(nil), t.Columns...)
		if i, ok := s.index[t.Name]; ok {
			s.tables[i].Columns = cols
			continue
		}
		s.index[t.Name] = len(s.tables)
		s.tables = append(s.tables, Table{Name: t.Name, Columns: cols})
	}
	return s
}

// CapturedAt is when the snapshot was taken from its source.
func (s *Snapshot) CapturedAt() time.Time {
	return s.capturedAt
}

// Tables returns the tables in snapshot order. The slice is a copy; column
// slices are shared and must not be modified.
func (s *Snapshot) Tables() []Table {
	return append([]Table(nil), s.tables...)
}

// Names returns the table names in snapshot order.
func (s *Snapshot) Names() []string {
	names := make([]string, len(s.tables))
	for i, t := range s.tables {
		names[i] = t.Name
	}
	return names
}

// Table looks a table up by exact name.
func (s *Snapshot) Table(name string) (Table, bool) {
	i, ok := s.index[name]
	if !ok {
		return Table{}, false
	}
	return s.tables[i], true
}

// Len is the number of tables.
func (s *Snapshot) Len() int {
	return len(s.tables)
}

// Age is how long ago the snapshot was captured.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.capturedAt)
}

// Expired reports whether now - captured_at exceeds ttl.
func (s *Snapshot) Expired(now time.Time, ttl time.Duration) bool {
	return s.Age(now) > ttl
}
