package sqlexec

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Header is the shared row descriptor of a result set: unique column names in
// first-appearance order and their positions.
type Header struct {
	names []string
	index map[string]int
}

// NewHeader collapses duplicate column names onto their first position.
func NewHeader(columns []string) *Header {
	h := &Header{index: make(map[string]int, len(columns))}

	for _, name := range columns {
		if _, seen := h.index[name]; seen {
			continue
		}

		h.index[name] = len(h.names)
		h.names = append(h.names, name)
	}

	return h
}

// Names returns the unique column names in order.
func (h *Header) Names() []string {
	out := make([]string, len(h.names))
	copy(out, h.names)

	return out
}

// Index returns the position of name.
func (h *Header) Index(name string) (int, bool) {
	i, ok := h.index[name]
	return i, ok
}

// Len is the number of unique columns.
func (h *Header) Len() int { return len(h.names) }

// Row is one normalized result row.
type Row struct {
	header *Header
	values []any
}

// NewRow places raw values under header. columns are the engine's column
// names, duplicates included; when a name repeats, the later value wins.
func NewRow(header *Header, columns []string, raw []any) Row {
	values := make([]any, header.Len())

	for i, name := range columns {
		if i >= len(raw) {
			break
		}

		pos, ok := header.index[name]
		if !ok {
			continue
		}

		values[pos] = normalizeValue(raw[i])
	}

	return Row{header: header, values: values}
}

// Get returns the value stored under column name.
func (r Row) Get(name string) (any, bool) {
	if r.header == nil {
		return nil, false
	}

	i, ok := r.header.index[name]
	if !ok {
		return nil, false
	}

	return r.values[i], true
}

// Columns returns the row's column names in order.
func (r Row) Columns() []string {
	if r.header == nil {
		return nil
	}

	return r.header.Names()
}

// Values returns the row's values in column order.
func (r Row) Values() []any {
	out := make([]any, len(r.values))
	copy(out, r.values)

	return out
}

// Map returns the row as an unordered map.
func (r Row) Map() map[string]any {
	out := make(map[string]any, len(r.values))
	for i, name := range r.Columns() {
		out[name] = r.values[i]
	}

	return out
}

// MarshalJSON encodes the row as an object whose keys keep column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	for i, name := range r.Columns() {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}

		val, err := json.Marshal(r.values[i])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}

		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

func normalizeValue(v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}

	if utf8.Valid(b) {
		return string(b)
	}

	out := make([]byte, len(b))
	copy(out, b)

	return out
}

// ScanRows drains rows into normalized Rows and returns the unique column names.
func ScanRows(rows *sql.Rows) ([]string, []Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	header := NewHeader(columns)
	result := []Row{}

	for rows.Next() {
		raw := make([]any, len(columns))
		ptrs := make([]any, len(columns))

		for i := range raw {
			ptrs[i] = &raw[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}

		result = append(result, NewRow(header, columns, raw))
	}

	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	return header.Names(), result, nil
}
