package formatter

import (
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/askdb/internal/gateway"
	"github.com/kyleking/askdb/internal/sqlexec"
	"github.com/kyleking/askdb/internal/types"
)

func regionRows() *sqlexec.RowSet {
	columns := []string{"region", "n"}
	header := sqlexec.NewHeader(columns)

	return &sqlexec.RowSet{
		Statement: "SELECT region, COUNT(*) AS n FROM customers GROUP BY region",
		Columns:   header.Names(),
		Rows: []sqlexec.Row{
			sqlexec.NewRow(header, columns, []any{"North", int64(30)}),
			sqlexec.NewRow(header, columns, []any{"South", int64(5)}),
		},
		RowCount: 2,
	}
}

func TestTabulate(t *testing.T) {
	rs := regionRows()

	want := "region | n \n" +
		"-------+---\n" +
		"North  | 30\n" +
		"South  | 5 "

	assert.Equal(t, want, Tabulate(rs.Columns, rs.Rows))
}

func TestTabulateEmpty(t *testing.T) {
	assert.Equal(t, NoRows, Tabulate([]string{"a"}, nil))
	assert.Equal(t, NoRows, Tabulate(nil, []sqlexec.Row{}))
}

func TestTabulateWideValues(t *testing.T) {
	columns := []string{"id", "name"}
	header := sqlexec.NewHeader(columns)
	rows := []sqlexec.Row{
		sqlexec.NewRow(header, columns, []any{int64(1), "Zoë Überstraße"}),
		sqlexec.NewRow(header, columns, []any{int64(2), nil}),
	}

	want := "id | name          \n" +
		"---+---------------\n" +
		"1  | Zoë Überstraße\n" +
		"2  | NULL          "

	assert.Equal(t, want, Tabulate(columns, rows))
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "NULL"},
		{"string", "abc", "abc"},
		{"int", int64(-7), "-7"},
		{"whole float", 84.0, "84"},
		{"fraction", 12.5, "12.5"},
		{"bool", true, "true"},
		{"blob", []byte{0xff, 0x00}, "<2 bytes>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.in))
		})
	}
}

func TestFormatAnswer(t *testing.T) {
	f := NewFormatter(FormatTable)

	answer := &gateway.Answer{
		Question:  "How many customers per region?",
		SQL:       "SELECT region, COUNT(*) AS n FROM customers GROUP BY region",
		Rationale: "Group customers by region.",
		Outcomes:  []sqlexec.Outcome{regionRows()},
	}

	out := f.FormatAnswer(answer)

	assert.Contains(t, out, "--- Generated SQL ---\nSELECT region, COUNT(*) AS n FROM customers GROUP BY region")
	assert.Contains(t, out, "--- Rationale ---\nGroup customers by region.")
	assert.Contains(t, out, "--- Results (2 rows) ---\nregion | n ")
}

func TestFormatAnswerWithoutRationale(t *testing.T) {
	out := NewFormatter(FormatTable).FormatAnswer(&gateway.Answer{SQL: "SELECT 1"})

	assert.NotContains(t, out, "Rationale")
	assert.Equal(t, "--- Generated SQL ---\nSELECT 1", out)
}

func TestFormatOutcomes(t *testing.T) {
	f := NewFormatter(FormatTable)

	out := f.FormatOutcomes([]sqlexec.Outcome{
		&sqlexec.MutationResult{Statement: "DELETE FROM payments WHERE payment_id = 1", AffectedRows: 1},
		&sqlexec.Denied{Statement: "DROP TABLE customers", Reason: "mutating statements are not allowed for restricted callers"},
		&sqlexec.Failed{Statement: "SELECT nope", Err: stderrors.New("no such column: nope")},
		&sqlexec.RowSet{Statement: "SELECT * FROM empty", Columns: []string{"a"}, Rows: []sqlexec.Row{}},
	})

	assert.Contains(t, out, "--- DELETE FROM payments WHERE payment_id = 1 ---\n1 row(s) affected")
	assert.Contains(t, out, "--- Denied ---\nDROP TABLE customers: mutating statements are not allowed for restricted callers")
	assert.Contains(t, out, "Query failed: no such column: nope")
	assert.Contains(t, out, "--- Results (0 rows) ---\n"+NoRows)
}

func TestFormatJSON(t *testing.T) {
	f := NewFormatter(FormatJSON)

	out := f.FormatOutcomes([]sqlexec.Outcome{regionRows()})

	var decoded map[string][]map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded["result_sets"], 1)
	assert.InDelta(t, 2, decoded["result_sets"][0]["row_count"], 0)
}

func TestFormatSchema(t *testing.T) {
	f := NewFormatter(FormatTable)

	assert.Equal(t, "(no tables)", f.FormatSchema(types.Schema{}))

	schema := types.Schema{Tables: []types.Table{
		{Name: "customers", Columns: []types.Column{{Name: "customer_id", Type: "INTEGER"}}},
	}}
	assert.Equal(t, "customers: customer_id (INTEGER)", f.FormatSchema(schema))

	js := NewFormatter(FormatJSON).FormatSchema(schema)
	assert.Contains(t, js, `"name": "customers"`)
}

func TestNewFormatterDefaultsToTable(t *testing.T) {
	assert.Equal(t, FormatTable, NewFormatter("yaml").format)
}
