package sqlexec

import "fmt"

// CallerContext is the trust level of whoever submitted the SQL.
type CallerContext int

const (
	Trusted CallerContext = iota
	Restricted
)

func (c CallerContext) String() string {
	if c == Restricted {
		return "restricted"
	}

	return "trusted"
}

// ParseCallerContext maps "trusted" / "restricted" to a CallerContext.
func ParseCallerContext(s string) (CallerContext, error) {
	switch s {
	case "trusted":
		return Trusted, nil
	case "restricted":
		return Restricted, nil
	default:
		return Restricted, fmt.Errorf("unknown caller context: %q", s)
	}
}

// Denial reasons reported to callers.
const (
	ReasonMutatingBlocked = "mutating statements are blocked"
	ReasonReadOnlyOnly    = "only read-only statements are allowed"
	ReasonSingleStatement = "only a single read-only statement is allowed"
	ReasonNotCreateTable  = "only a single CREATE TABLE statement is allowed"
)

// Decision is the gate's verdict for one statement.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow is the permitting decision.
var Allow = Decision{Allowed: true}

// Deny builds a refusing decision.
func Deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Gate is the read/write policy. It never inspects SQL text.
type Gate struct{}

// Decide returns Allow for trusted callers and for read-only statements;
// restricted mutations are denied.
func (Gate) Decide(kind Kind, caller CallerContext) Decision {
	if caller == Trusted || kind == ReadOnly {
		return Allow
	}

	return Deny(ReasonMutatingBlocked)
}
