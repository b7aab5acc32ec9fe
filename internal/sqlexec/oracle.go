package sqlexec

import "strings"

// Oracle reports whether a buffer of SQL text forms one or more complete
// statements according to an engine's lexical rules.
//
// Implementations may only flip from incomplete to complete on a ';' rune; the
// Splitter relies on this and skips consultation everywhere else.
type Oracle interface {
	Complete(sql string) bool
	// Significant reports whether sql holds anything besides whitespace,
	// comments and terminators.
	Significant(sql string) bool
}

// SQLiteOracle mirrors sqlite3_complete(): it tracks string literals, bracket and
// backquote identifiers, comments, and CREATE TRIGGER bodies whose inner ';'
// terminators do not end the statement.
type SQLiteOracle struct{}

const (
	tkSemi = iota
	tkWS
	tkOther
	tkExplain
	tkCreate
	tkTemp
	tkTrigger
	tkEnd
)

// states: invalid, start, normal, explain, create, trigger, semi, end
var completeTrans = [8][8]uint8{
	/* invalid */ {1, 0, 2, 3, 4, 2, 2, 2},
	/* start   */ {1, 1, 2, 3, 4, 2, 2, 2},
	/* normal  */ {1, 2, 2, 2, 2, 2, 2, 2},
	/* explain */ {1, 3, 3, 2, 4, 2, 2, 2},
	/* create  */ {1, 4, 2, 2, 2, 4, 5, 2},
	/* trigger */ {6, 5, 5, 5, 5, 5, 5, 5},
	/* semi    */ {6, 6, 5, 5, 5, 5, 5, 7},
	/* end     */ {1, 7, 5, 5, 5, 5, 5, 5},
}

const stateStart = 1

// Complete implements Oracle.
func (SQLiteOracle) Complete(sql string) bool {
	var state uint8

	n := len(sql)
	for i := 0; i < n; i++ {
		var token int

		switch c := sql[i]; c {
		case ';':
			token = tkSemi
		case ' ', '\r', '\t', '\n', '\f':
			token = tkWS
		case '/':
			if i+1 >= n || sql[i+1] != '*' {
				token = tkOther
				break
			}

			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return false
			}

			i += 2 + end + 1
			token = tkWS
		case '-':
			if i+1 >= n || sql[i+1] != '-' {
				token = tkOther
				break
			}

			nl := strings.IndexByte(sql[i:], '\n')
			if nl < 0 {
				return state == stateStart
			}

			i += nl
			token = tkWS
		case '[':
			end := strings.IndexByte(sql[i+1:], ']')
			if end < 0 {
				return false
			}

			i += 1 + end
			token = tkOther
		case '`', '"', '\'':
			end := strings.IndexByte(sql[i+1:], c)
			if end < 0 {
				return false
			}

			i += 1 + end
			token = tkOther
		default:
			if !isIDChar(c) {
				token = tkOther
				break
			}

			j := i + 1
			for j < n && isIDChar(sql[j]) {
				j++
			}

			token = keywordToken(sql[i:j])
			i = j - 1
		}

		state = completeTrans[state][token]
	}

	return state == stateStart
}

// Significant implements Oracle.
func (SQLiteOracle) Significant(sql string) bool {
	n := len(sql)
	for i := 0; i < n; i++ {
		switch sql[i] {
		case ';', ' ', '\r', '\t', '\n', '\f':
			continue
		case '/':
			if i+1 < n && sql[i+1] == '*' {
				end := strings.Index(sql[i+2:], "*/")
				if end < 0 {
					return true
				}

				i += 2 + end + 1

				continue
			}
		case '-':
			if i+1 < n && sql[i+1] == '-' {
				nl := strings.IndexByte(sql[i:], '\n')
				if nl < 0 {
					return false
				}

				i += nl

				continue
			}
		}

		return true
	}

	return false
}

func isIDChar(c byte) bool {
	return c >= 0x80 || c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func keywordToken(word string) int {
	switch {
	case strings.EqualFold(word, "create"):
		return tkCreate
	case strings.EqualFold(word, "trigger"):
		return tkTrigger
	case strings.EqualFold(word, "temp"), strings.EqualFold(word, "temporary"):
		return tkTemp
	case strings.EqualFold(word, "end"):
		return tkEnd
	case strings.EqualFold(word, "explain"):
		return tkExplain
	default:
		return tkOther
	}
}
