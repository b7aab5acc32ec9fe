package sqlexec

import "encoding/json"

// Outcome is the result of one executed or rejected statement. The concrete
// types are RowSet, MutationResult, Denied and Failed.
type Outcome interface {
	Stmt() Statement
	outcome()
}

// RowSet is the result of a read-only statement.
type RowSet struct {
	Statement Statement
	Columns   []string
	Rows      []Row
	RowCount  int
}

// MutationResult is the result of a committed mutating statement. Inside a
// transaction opened earlier in the batch it commits with that transaction; a
// batch that leaves it open ends with a Failed ROLLBACK outcome instead.
type MutationResult struct {
	Statement    Statement
	AffectedRows int64
}

// Denied records a statement the policy gate refused; it never reached the engine.
type Denied struct {
	Statement Statement
	Reason    string
}

// Failed records a statement the engine rejected. Err carries the engine's
// message unchanged.
type Failed struct {
	Statement Statement
	Err       error
}

func (o *RowSet) Stmt() Statement         { return o.Statement }
func (o *MutationResult) Stmt() Statement { return o.Statement }
func (o *Denied) Stmt() Statement         { return o.Statement }
func (o *Failed) Stmt() Statement         { return o.Statement }

func (*RowSet) outcome()         {}
func (*MutationResult) outcome() {}
func (*Denied) outcome()         {}
func (*Failed) outcome()         {}

// Message returns the engine's error text.
func (o *Failed) Message() string {
	if o.Err == nil {
		return ""
	}

	return o.Err.Error()
}

func (o *RowSet) MarshalJSON() ([]byte, error) {
	rows := o.Rows
	if rows == nil {
		rows = []Row{}
	}

	return json.Marshal(struct {
		Type      string    `json:"type"`
		Statement Statement `json:"statement"`
		Columns   []string  `json:"columns"`
		Rows      []Row     `json:"rows"`
		RowCount  int       `json:"row_count"`
	}{"rows", o.Statement, o.Columns, rows, o.RowCount})
}

func (o *MutationResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type         string    `json:"type"`
		Statement    Statement `json:"statement"`
		AffectedRows int64     `json:"affected_rows"`
	}{"mutation", o.Statement, o.AffectedRows})
}

func (o *Denied) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string    `json:"type"`
		Statement Statement `json:"statement"`
		Reason    string    `json:"reason"`
	}{"denied", o.Statement, o.Reason})
}

func (o *Failed) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string    `json:"type"`
		Statement Statement `json:"statement"`
		Error     string    `json:"error"`
	}{"failed", o.Statement, o.Message()})
}

// Halts reports whether an outcome ends a fail-fast batch.
func Halts(o Outcome) bool {
	switch o.(type) {
	case *Denied, *Failed:
		return true
	default:
		return false
	}
}
