package schema

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/canonica-labs/groundsql/internal/errors"
)

// Persisted document shape:
//
//	{"captured_at": 1718000000.5,
//	 "tables": {"client": {"columns": [
//	     {"column_name": "city", "data_type": "nvarchar", "is_nullable": "YES"}]}}}
//
// Column entries may also be bare names. Table order is the key order of the
// "tables" object, which MarshalJSON writes and UnmarshalJSON reads back
// verbatim.

type columnDoc struct {
	ColumnName string `json:"column_name"`
	DataType   string `json:"data_type"`
	IsNullable string `json:"is_nullable"`
}

type tableDoc struct {
	Columns     []json.RawMessage `json:"columns"`
	ColumnNames []string          `json:"column_names,omitempty"`
}

type snapshotDoc struct {
	CapturedAt *float64        `json:"captured_at"`
	Timestamp  *float64        `json:"timestamp"`
	Tables     json.RawMessage `json:"tables"`
}

// MarshalJSON writes the persisted document.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"captured_at":`)
	ts, err := json.Marshal(unixSeconds(s.capturedAt))
	if err != nil {
		return nil, err
	}
	buf.Write(ts)
	buf.WriteString(`,"tables":{`)
	for i, t := range s.tables {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(t.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteString(`:{"columns":`)
		cols := make([]columnDoc, len(t.Columns))
		for j, c := range t.Columns {
			cols[j] = columnDoc{ColumnName: c.Name, DataType: c.DataType, IsNullable: c.NullableText()}
		}
		body, err := json.Marshal(cols)
		if err != nil {
			return nil, err
		}
		buf.Write(body)
		buf.WriteByte('}')
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the persisted document. A document without
// captured_at falls back to a legacy "timestamp" field, then to the zero
// time, which is always expired.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return errors.Wrap(err, "decode schema document")
	}
	var captured time.Time
	switch {
	case doc.CapturedAt != nil:
		captured = fromUnixSeconds(*doc.CapturedAt)
	case doc.Timestamp != nil:
		captured = fromUnixSeconds(*doc.Timestamp)
	}

	tables, err := decodeTables(doc.Tables)
	if err != nil {
		return err
	}
	*s = *NewSnapshot(captured, tables)
	return nil
}

// decodeTables walks the "tables" object token by token so the key order
// survives decoding.
func decodeTables(raw json.RawMessage) ([]Table, error) {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, errors.Wrap(err, "decode tables")
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("decode tables: expected an object keyed by table name")
	}

	var tables []Table
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, errors.Wrap(err, "decode tables")
		}
		name, _ := tok.(string)
		var td tableDoc
		if err := dec.Decode(&td); err != nil {
			return nil, errors.Wrapf(err, "decode table %q", name)
		}
		cols, err := decodeColumns(td)
		if err != nil {
			return nil, errors.Wrapf(err, "decode table %q", name)
		}
		tables = append(tables, Table{Name: name, Columns: cols})
	}
	return tables, nil
}

func decodeColumns(td tableDoc) ([]Column, error) {
	if td.Columns == nil {
		cols := make([]Column, 0, len(td.ColumnNames))
		for _, n := range td.ColumnNames {
			cols = append(cols, Column{Name: n, Nullable: true})
		}
		return cols, nil
	}
	cols := make([]Column, 0, len(td.Columns))
	for _, raw := range td.Columns {
		c, err := DecodeColumn(raw)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, nil
}

// DecodeColumn accepts either a bare column name or a column record and
// normalizes both to a Column. Bare names have no data type and are nullable.
func DecodeColumn(raw json.RawMessage) (Column, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var name string
		if err := json.Unmarshal(trimmed, &name); err != nil {
			return Column{}, err
		}
		return Column{Name: name, Nullable: true}, nil
	}
	var cd columnDoc
	if err := json.Unmarshal(trimmed, &cd); err != nil {
		return Column{}, errors.Wrap(err, "column must be a name or a record")
	}
	if cd.ColumnName == "" {
		return Column{}, errors.New("column record without column_name")
	}
	return Column{Name: cd.ColumnName, DataType: cd.DataType, Nullable: ParseNullable(cd.IsNullable)}, nil
}

// ParseNullable reads "YES"/"NO" style flags. Anything but an explicit no
// counts as nullable.
func ParseNullable(v string) bool {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "NO", "N", "FALSE", "0", "NOT NULL":
		return false
	}
	return true
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(v float64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
