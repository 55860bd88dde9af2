package output

import (
	"encoding/json"

	"github.com/juju/errors"

	"factum/internal/driver"
)

type jsonFormatter struct{}

type reportSummary struct {
	Statements  int  `json:"statements"`
	Destructive int  `json:"destructive"`
	Facts       int  `json:"facts"`
	Committed   bool `json:"committed"`
}

type reportPayload struct {
	Format     string         `json:"format"`
	Mode       Mode           `json:"mode"`
	Summary    reportSummary  `json:"summary"`
	Statements []driver.Entry `json:"statements,omitempty"`
	Error      *Failure       `json:"error,omitempty"`
}

// FormatReport formats a report as indented JSON.
func (jsonFormatter) FormatReport(r *Report) (string, error) {
	payload := reportPayload{Format: string(FormatJSON), Mode: reportMode(r)}
	if r != nil {
		order, _ := factCounts(r.Entries)
		payload.Statements = r.Entries
		payload.Error = Describe(r.Err)
		payload.Summary = reportSummary{
			Statements:  len(r.Entries),
			Destructive: countDestructive(r.Entries),
			Facts:       len(order),
			Committed:   r.Err == nil && payload.Mode == ModeDeploy && len(r.Entries) > 0,
		}
	}
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", errors.Trace(err)
	}
	return string(b) + "\n", nil
}
