package types

import (
	"fmt"
	"strings"
)

// Schema is a point-in-time summary of the user tables in a database. It is
// derived fresh for every request and never cached.
type Schema struct {
	Tables []Table `json:"tables"`
}

// Table represents a database table schema
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Column represents a database column and its declared type
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Table returns the table called name.
func (s Schema) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}

	return Table{}, false
}

// TableNames lists table names in summary order.
func (s Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}

	return names
}

// String renders one line per table, "name: col (type), col (type)", the form
// fed to the SQL generator.
func (s Schema) String() string {
	lines := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		lines = append(lines, t.String())
	}

	return strings.Join(lines, "\n")
}

func (t Table) String() string {
	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		cols = append(cols, fmt.Sprintf("%s (%s)", c.Name, c.Type))
	}

	return t.Name + ": " + strings.Join(cols, ", ")
}
