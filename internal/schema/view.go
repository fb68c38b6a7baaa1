package schema

import "github.com/canonica-labs/groundsql/pkg/models"

// Model returns the API view of the snapshot. A nil snapshot has no tables.
func (s *Snapshot) Model() models.Schema {
	out := models.Schema{Tables: []models.Table{}}
	if s == nil {
		return out
	}
	out.CapturedAt = s.CapturedAt()
	for _, t := range s.Tables() {
		mt := models.Table{Name: t.Name, Columns: make([]models.Column, 0, len(t.Columns))}
		for _, c := range t.Columns {
			mt.Columns = append(mt.Columns, models.Column{Name: c.Name, DataType: c.DataType, Nullable: c.Nullable})
		}
		out.Tables = append(out.Tables, mt)
	}
	return out
}
