package output

import (
	"fmt"
	"strings"
)

type summaryFormatter struct{}

// FormatReport formats a report as a compact summary.
// Example output:
//
//	Deployment Summary
//	==================
//
//	Mode:        deploy
//	Statements:  7
//	Destructive: 1
//
//	By fact:
//	  table region: 6
//	  column shop.note: 1
func (summaryFormatter) FormatReport(r *Report) (string, error) {
	var sb strings.Builder
	sb.WriteString("Deployment Summary\n")
	sb.WriteString("==================\n\n")

	fmt.Fprintf(&sb, "Mode:        %s\n", reportMode(r))
	if r == nil || len(r.Entries) == 0 {
		sb.WriteString("Statements:  0\n")
		if r == nil || r.Err == nil {
			sb.WriteString("\nSchema is up to date.\n")
		}
	} else {
		fmt.Fprintf(&sb, "Statements:  %d\n", len(r.Entries))
		fmt.Fprintf(&sb, "Destructive: %d\n", countDestructive(r.Entries))

		order, counts := factCounts(r.Entries)
		sb.WriteString("\nBy fact:\n")
		for _, name := range order {
			fmt.Fprintf(&sb, "  %s: %d\n", name, counts[name])
		}
	}

	if f := Describe(reportErr(r)); f != nil {
		fmt.Fprintf(&sb, "\nFailed (%s error):\n", f.Kind)
		if f.Fact != "" {
			fmt.Fprintf(&sb, "  fact:     %s\n", f.Fact)
		}
		if !f.Location.IsZero() {
			fmt.Fprintf(&sb, "  at:       %s\n", f.Location)
		}
		if f.Expected != "" || f.Actual != "" {
			fmt.Fprintf(&sb, "  expected: %s\n", f.Expected)
			fmt.Fprintf(&sb, "  actual:   %s\n", f.Actual)
		}
		fmt.Fprintf(&sb, "  %s\n", f.Message)
	}
	return sb.String(), nil
}
