package query

// ParsedQuery is generated SQL with the model's explanation
type ParsedQuery struct {
	Question  string `json:"question"`
	SQL       string `json:"sql"`
	Rationale string `json:"rationale"`
}
