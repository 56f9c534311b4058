// Package safety defines the core types of the medication-safety decision
// engine: interaction results, safety assessments, and remediation suggestions.
package safety

import "fmt"

// Severity classifies how dangerous an interaction or timing conflict is.
// The set is closed; consumers are expected to switch exhaustively so a new
// severity breaks compilation paths that ignore it.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeveritySevere   Severity = "severe"
)

// Rank returns the position of s in the total severity order, low first.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityModerate:
		return 1
	case SeverityHigh:
		return 2
	case SeveritySevere:
		return 3
	}
	return -1
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool { return s.Rank() >= 0 }

// ParseSeverity converts a wire string to a Severity.
func ParseSeverity(v string) (Severity, error) {
	s := Severity(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown severity %q", v)
	}
	return s, nil
}

// MaxSeverity returns the more dangerous of a and b.
func MaxSeverity(a, b Severity) Severity {
	if a.Rank() >= b.Rank() {
		return a
	}
	return b
}
