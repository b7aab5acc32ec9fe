package sqlexec

import (
	"strings"

	rqlitesql "github.com/rqlite/sql"
)

// Kind is the read/write class of a statement.
type Kind int

const (
	ReadOnly Kind = iota
	Mutating
)

func (k Kind) String() string {
	switch k {
	case ReadOnly:
		return "read_only"
	case Mutating:
		return "mutating"
	default:
		return "unknown"
	}
}

// Classifier decides the Kind of a statement. Implementations must be pure and
// total.
type Classifier interface {
	Classify(stmt Statement) Kind
}

var readOnlyKeywords = map[string]bool{
	"select":  true,
	"with":    true,
	"pragma":  true,
	"explain": true,
}

// PrefixClassifier looks only at the first keyword. A CTE that wraps a write
// (WITH x AS (...) DELETE ...) is reported ReadOnly; use ParserClassifier when
// that matters.
type PrefixClassifier struct{}

// Classify implements Classifier.
func (PrefixClassifier) Classify(stmt Statement) Kind {
	kw := LeadingKeyword(string(stmt))
	if kw == "pragma" && pragmaSetsValue(string(stmt)) {
		return Mutating
	}

	if readOnlyKeywords[kw] {
		return ReadOnly
	}

	return Mutating
}

// pragmas that take an argument only to say what to inspect
var inspectionPragmas = map[string]bool{
	"table_info":        true,
	"table_xinfo":       true,
	"table_list":        true,
	"index_list":        true,
	"index_info":        true,
	"index_xinfo":       true,
	"foreign_key_list":  true,
	"foreign_key_check": true,
	"integrity_check":   true,
	"quick_check":       true,
}

// pragmaSetsValue reports whether a PRAGMA assigns a value, either as
// "PRAGMA name = value" or "PRAGMA name(value)" for a pragma that is not purely
// an inspection.
func pragmaSetsValue(sql string) bool {
	rest := skipTrivia(sql)[len("pragma"):]

	name := LeadingKeyword(rest)
	rest = skipTrivia(rest)[len(name):]

	if strings.HasPrefix(rest, ".") {
		name = LeadingKeyword(rest[1:])
		rest = skipTrivia(rest[1:])[len(name):]
	}

	rest = skipTrivia(rest)

	switch {
	case strings.HasPrefix(rest, "="):
		return true
	case strings.HasPrefix(rest, "("):
		return !inspectionPragmas[name]
	default:
		return false
	}
}

// ParserClassifier classifies by SQLite syntax tree and falls back to the
// prefix rule for text the grammar does not cover, such as PRAGMA.
type ParserClassifier struct{}

// Classify implements Classifier.
func (ParserClassifier) Classify(stmt Statement) Kind {
	if LeadingKeyword(string(stmt)) == "pragma" {
		return PrefixClassifier{}.Classify(stmt)
	}

	parsed, err := rqlitesql.NewParser(strings.NewReader(string(stmt))).ParseStatement()
	if err != nil {
		return PrefixClassifier{}.Classify(stmt)
	}

	switch parsed.(type) {
	case *rqlitesql.SelectStatement, *rqlitesql.ExplainStatement:
		return ReadOnly
	default:
		return Mutating
	}
}

// NewClassifier maps a configuration name to a Classifier.
func NewClassifier(name string) Classifier {
	if name == "parser" {
		return ParserClassifier{}
	}

	return PrefixClassifier{}
}

// LeadingKeyword returns the lowercased first word of sql after whitespace and
// comments.
func LeadingKeyword(sql string) string {
	rest := skipTrivia(sql)

	end := 0
	for end < len(rest) && isKeywordChar(rest[end]) {
		end++
	}

	return strings.ToLower(rest[:end])
}

var txControlKeywords = map[string]bool{
	"begin":     true,
	"commit":    true,
	"end":       true,
	"rollback":  true,
	"savepoint": true,
	"release":   true,
}

// IsTransactionControl reports whether stmt opens, closes or marks a
// transaction.
func IsTransactionControl(stmt Statement) bool {
	return txControlKeywords[LeadingKeyword(string(stmt))]
}

func skipTrivia(sql string) string {
	for {
		sql = strings.TrimLeft(sql, " \t\r\n\f")

		switch {
		case strings.HasPrefix(sql, "--"):
			nl := strings.IndexByte(sql, '\n')
			if nl < 0 {
				return ""
			}

			sql = sql[nl+1:]
		case strings.HasPrefix(sql, "/*"):
			end := strings.Index(sql[2:], "*/")
			if end < 0 {
				return ""
			}

			sql = sql[2+end+2:]
		default:
			return sql
		}
	}
}

func isKeywordChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
