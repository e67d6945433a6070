package archive

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/willibrandon/tenantmove/internal/store"
)

// timeLayout carries no zone: restored timestamps keep their wall clock.
const timeLayout = "2006-01-02T15:04:05.999999999"

// EncodeTable writes a self-describing JSON snapshot of t.
func EncodeTable(w io.Writer, t *store.Table) error {
	out := store.Table{Name: t.Name, Columns: t.Columns, Rows: make([][]any, len(t.Rows))}
	for i, row := range t.Rows {
		enc := make([]any, len(row))
		for j, v := range row {
			ev, err := encodeValue(t.Columns[j].Kind, v)
			if err != nil {
				return fmt.Errorf("table %s column %s: %w", t.Name, t.Columns[j].Name, err)
			}
			enc[j] = ev
		}
		out.Rows[i] = enc
	}
	return json.NewEncoder(w).Encode(&out)
}

func encodeValue(kind store.Kind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case store.KindTime:
		ts, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("value %v is %T, want time.Time", v, v)
		}
		return ts.Format(timeLayout), nil
	case store.KindBytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("value %v is %T, want []byte", v, v)
		}
		return base64.StdEncoding.EncodeToString(b), nil
	default:
		return v, nil
	}
}

// DecodeTable reads a snapshot written by EncodeTable and restores native
// value types from the column kinds.
func DecodeTable(r io.Reader) (*store.Table, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var t store.Table
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("decode table: %w", err)
	}
	for _, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return nil, fmt.Errorf("table %s: row has %d values, want %d", t.Name, len(row), len(t.Columns))
		}
		for j, v := range row {
			dv, err := decodeValue(t.Columns[j].Kind, v)
			if err != nil {
				return nil, fmt.Errorf("table %s column %s: %w", t.Name, t.Columns[j].Name, err)
			}
			row[j] = dv
		}
	}
	return &t, nil
}

func decodeValue(kind store.Kind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case store.KindInt:
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("value %v is %T, want number", v, v)
		}
		return n.Int64()
	case store.KindFloat:
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("value %v is %T, want number", v, v)
		}
		return n.Float64()
	case store.KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("value %v is %T, want bool", v, v)
		}
		return b, nil
	case store.KindTime:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("value %v is %T, want string", v, v)
		}
		return time.Parse(timeLayout, s)
	case store.KindBytes:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("value %v is %T, want string", v, v)
		}
		return base64.StdEncoding.DecodeString(s)
	default:
		if n, ok := v.(json.Number); ok {
			return n.String(), nil
		}
		return v, nil
	}
}
