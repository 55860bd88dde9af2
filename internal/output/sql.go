package output

import (
	"io"
	"strings"

	"factum/internal/driver"
)

type sqlFormatter struct{}

// FormatReport formats the audit log as a SQL script, each group of
// statements headed by the fact that caused it.
func (sqlFormatter) FormatReport(r *Report) (string, error) {
	var sb strings.Builder
	sb.WriteString("-- factum " + string(reportMode(r)) + "\n")
	switch reportMode(r) {
	case ModeDryRun:
		sb.WriteString("-- Rolled back: nothing was committed.\n")
	case ModeCheck:
		sb.WriteString("-- Validate only: nothing was submitted.\n")
	}

	if r == nil || len(r.Entries) == 0 {
		sb.WriteString("\n-- No statements.\n")
	} else {
		writeEntries(&sb, r.Entries)
	}

	if f := Describe(reportErr(r)); f != nil {
		sb.WriteString("\n-- FAILED (rolled back)\n")
		for _, line := range splitCommentLines(f.Message) {
			if line != "" {
				sb.WriteString("-- " + line + "\n")
			}
		}
	}
	return sb.String(), nil
}

func writeEntries(sb *strings.Builder, entries []driver.Entry) {
	current := "\x00"
	for _, e := range entries {
		if e.Fact != current {
			current = e.Fact
			sb.WriteString("\n")
			if e.Fact != "" {
				sb.WriteString("-- " + e.Fact + "\n")
			}
		}
		writeRiskComment(sb, e)
		sb.WriteString(normalizeStatement(e.SQL))
		sb.WriteString("\n")
	}
}

func writeRiskComment(sb *strings.Builder, e driver.Entry) {
	if e.Risk != "" && e.Risk != driver.RiskInfo {
		sb.WriteString("-- [" + string(e.Risk) + "]")
		if e.Reason != "" {
			sb.WriteString(" " + e.Reason)
		}
		sb.WriteString("\n")
	}
}

// WriteReport writes a report in SQL format to the given writer.
func WriteReport(r *Report, w io.Writer) error {
	content, err := sqlFormatter{}.FormatReport(r)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, content)
	return err
}

func reportMode(r *Report) Mode {
	if r == nil || r.Mode == "" {
		return ModeDeploy
	}
	return r.Mode
}

func reportErr(r *Report) error {
	if r == nil {
		return nil
	}
	return r.Err
}

func splitCommentLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return lines
}
