package formatter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kyleking/askdb/internal/gateway"
	"github.com/kyleking/askdb/internal/sqlexec"
	"github.com/kyleking/askdb/internal/types"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
)

// NoRows is printed in place of an empty table.
const NoRows = "(no rows returned)"

// Formatter renders answers and outcomes for the terminal
type Formatter struct {
	format OutputFormat
}

// NewFormatter creates a new formatter instance. Unknown formats fall back to
// tables.
func NewFormatter(format OutputFormat) *Formatter {
	if format != FormatJSON {
		format = FormatTable
	}

	return &Formatter{format: format}
}

// FormatAnswer renders the generated SQL, its rationale and every outcome.
func (f *Formatter) FormatAnswer(answer *gateway.Answer) string {
	if f.format == FormatJSON {
		return f.toJSON(answer)
	}

	sections := []string{"--- Generated SQL ---\n" + answer.SQL}
	if answer.Rationale != "" {
		sections = append(sections, "--- Rationale ---\n"+answer.Rationale)
	}

	for _, out := range answer.Outcomes {
		sections = append(sections, f.formatOutcome(out))
	}

	return strings.Join(sections, "\n\n")
}

// FormatOutcomes renders a batch in statement order.
func (f *Formatter) FormatOutcomes(outcomes []sqlexec.Outcome) string {
	if f.format == FormatJSON {
		return f.toJSON(map[string]any{"result_sets": outcomes})
	}

	sections := make([]string, 0, len(outcomes))
	for _, out := range outcomes {
		sections = append(sections, f.formatOutcome(out))
	}

	return strings.Join(sections, "\n\n")
}

// FormatSchema renders one table per line.
func (f *Formatter) FormatSchema(schema types.Schema) string {
	if f.format == FormatJSON {
		return f.toJSON(schema)
	}

	if len(schema.Tables) == 0 {
		return "(no tables)"
	}

	return schema.String()
}

func (f *Formatter) formatOutcome(out sqlexec.Outcome) string {
	switch o := out.(type) {
	case *sqlexec.RowSet:
		return fmt.Sprintf("--- Results (%d rows) ---\n%s", o.RowCount, Tabulate(o.Columns, o.Rows))
	case *sqlexec.MutationResult:
		return fmt.Sprintf("--- %s ---\n%d row(s) affected", o.Statement, o.AffectedRows)
	case *sqlexec.Denied:
		return fmt.Sprintf("--- Denied ---\n%s: %s", o.Statement, o.Reason)
	case *sqlexec.Failed:
		return "Query failed: " + o.Message()
	default:
		return fmt.Sprintf("%v", out)
	}
}

func (f *Formatter) toJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}

	return string(data)
}

// Tabulate lays rows out under left-aligned column headers separated by " | ",
// with a "-+-" rule under the header.
func Tabulate(columns []string, rows []sqlexec.Row) string {
	if len(rows) == 0 {
		return NoRows
	}

	widths := make([]int, len(columns))
	for i, col := range columns {
		widths[i] = utf8.RuneCountInString(col)
	}

	cells := make([][]string, len(rows))

	for r, row := range rows {
		cells[r] = make([]string, len(columns))

		for i, col := range columns {
			v, _ := row.Get(col)
			cells[r][i] = FormatValue(v)
			widths[i] = max(widths[i], utf8.RuneCountInString(cells[r][i]))
		}
	}

	lines := make([]string, 0, len(rows)+2)
	lines = append(lines, joinPadded(columns, widths))

	rule := make([]string, len(columns))
	for i, w := range widths {
		rule[i] = strings.Repeat("-", w)
	}

	lines = append(lines, strings.Join(rule, "-+-"))

	for _, row := range cells {
		lines = append(lines, joinPadded(row, widths))
	}

	return strings.Join(lines, "\n")
}

func joinPadded(values []string, widths []int) string {
	padded := make([]string, len(values))
	for i, v := range values {
		padded[i] = v + strings.Repeat(" ", widths[i]-utf8.RuneCountInString(v))
	}

	return strings.Join(padded, " | ")
}

// FormatValue renders a normalized cell value.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return val
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(val))
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
