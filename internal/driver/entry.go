package driver

// EntryRisk grades a submitted statement.
type EntryRisk string

const (
	RiskInfo        EntryRisk = "INFO"
	RiskDestructive EntryRisk = "DESTRUCTIVE"
)

// Entry is one statement in the audit log.
type Entry struct {
	SQL  string    `json:"sql"`
	Kind string    `json:"kind"`
	Risk EntryRisk `json:"risk"`

	// Reason explains why a destructive statement loses data.
	Reason string `json:"reason,omitempty"`
	// Fact names the declaration that caused the statement, when known.
	Fact string `json:"fact,omitempty"`
}

// Destructive reports whether the statement removes data.
func (e Entry) Destructive() bool {
	return e.Risk == RiskDestructive
}
