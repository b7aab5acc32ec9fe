package sqlexec

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderCollapsesDuplicates(t *testing.T) {
	h := NewHeader([]string{"id", "name", "id", "total"})

	assert.Equal(t, []string{"id", "name", "total"}, h.Names())
	assert.Equal(t, 3, h.Len())

	i, ok := h.Index("total")
	require.True(t, ok)
	assert.Equal(t, 2, i)

	_, ok = h.Index("missing")
	assert.False(t, ok)
}

func TestNewRowLastValueWins(t *testing.T) {
	columns := []string{"id", "name", "id"}
	h := NewHeader(columns)
	row := NewRow(h, columns, []any{int64(1), "Ada", int64(2)})

	v, ok := row.Get("id")
	require.True(t, ok)
	assert.Equal(t, int64(2), v)

	assert.Equal(t, []string{"id", "name"}, row.Columns())
	assert.Equal(t, []any{int64(2), "Ada"}, row.Values())
	assert.Equal(t, map[string]any{"id": int64(2), "name": "Ada"}, row.Map())
}

func TestNewRowConvertsText(t *testing.T) {
	columns := []string{"label", "blob"}
	row := NewRow(NewHeader(columns), columns, []any{[]byte("hello"), []byte{0xff, 0xfe}})

	label, _ := row.Get("label")
	assert.Equal(t, "hello", label)

	blob, _ := row.Get("blob")
	assert.Equal(t, []byte{0xff, 0xfe}, blob)
}

func TestRowMarshalJSONKeepsColumnOrder(t *testing.T) {
	columns := []string{"zeta", "alpha", "mid"}
	row := NewRow(NewHeader(columns), columns, []any{int64(3), "a", nil})

	data, err := json.Marshal(row)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":3,"alpha":"a","mid":null}`, string(data))
}

func TestRowSetJSON(t *testing.T) {
	columns := []string{"n"}
	h := NewHeader(columns)
	rs := &RowSet{
		Statement: "SELECT 1 AS n",
		Columns:   h.Names(),
		Rows:      []Row{NewRow(h, columns, []any{int64(1)})},
		RowCount:  1,
	}

	data, err := json.Marshal([]Outcome{
		rs,
		&MutationResult{Statement: "DELETE FROM t", AffectedRows: 4},
		&Denied{Statement: "DROP TABLE t", Reason: ReasonMutatingBlocked},
	})
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	want := []map[string]any{
		{
			"type": "rows", "statement": "SELECT 1 AS n", "columns": []any{"n"},
			"rows": []any{map[string]any{"n": float64(1)}}, "row_count": float64(1),
		},
		{"type": "mutation", "statement": "DELETE FROM t", "affected_rows": float64(4)},
		{"type": "denied", "statement": "DROP TABLE t", "reason": "mutating statements are blocked"},
	}
	if diff := cmp.Diff(want, decoded); diff != "" {
		t.Errorf("outcome JSON mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptyRowSetEncodesEmptyRows(t *testing.T) {
	data, err := json.Marshal(&RowSet{Statement: "SELECT 1 WHERE 0", Columns: []string{"1"}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"rows":[]`)
}
