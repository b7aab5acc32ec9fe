package sqlexec

import "strings"

// Statement is one trimmed, terminator-stripped, non-empty unit of SQL.
type Statement string

func (s Statement) String() string { return string(s) }

// Splitter breaks a raw query into statements using an engine completeness oracle.
type Splitter struct {
	oracle Oracle
}

// NewSplitter returns a Splitter backed by oracle, or by the SQLite oracle when
// oracle is nil.
func NewSplitter(oracle Oracle) *Splitter {
	if oracle == nil {
		oracle = SQLiteOracle{}
	}

	return &Splitter{oracle: oracle}
}

// Split returns the statements of raw in source order. Whitespace-only,
// comment-only and terminator-only input yields no statements.
func (s *Splitter) Split(raw string) []Statement {
	var (
		statements []Statement
		start      int
	)

	for i := 0; i < len(raw); i++ {
		if raw[i] != ';' {
			continue
		}

		buffer := raw[start : i+1]
		if !s.oracle.Complete(buffer) {
			continue
		}

		if stmt, ok := s.normalize(buffer); ok {
			statements = append(statements, stmt)
		}

		start = i + 1
	}

	if stmt, ok := s.normalize(raw[start:]); ok {
		statements = append(statements, stmt)
	}

	return statements
}

func (s *Splitter) normalize(buffer string) (Statement, bool) {
	if !s.oracle.Significant(buffer) {
		return "", false
	}

	text := strings.TrimSpace(buffer)
	text = strings.TrimSuffix(text, ";")
	text = strings.TrimSpace(text)

	if text == "" {
		return "", false
	}

	return Statement(text), true
}

// Split is a convenience wrapper using the SQLite oracle.
func Split(raw string) []Statement {
	return NewSplitter(nil).Split(raw)
}
