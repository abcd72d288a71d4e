// Package diag parses compiler diagnostic text into structured messages.
//
// The compiler reports problems as
//
//	path:line[:column]: warning|error: message
//
// optionally followed by context lines (the offending source and a caret),
// which are ignored. A missing column defaults to 1.
package diag

import (
	"regexp"
	"strconv"
	"strings"
)

// Severity of a diagnostic.
type Severity string

const (
	Warning Severity = "warning"
	Error   Severity = "error"
)

// Diagnostic is one located compiler message. Line and Column are 1-based.
type Diagnostic struct {
	Path     string   `json:"path"`
	Line     int      `json:"line"`
	Column   int      `json:"column"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// The path is lazy so that drive letters and colons inside it do not swallow
// the line number.
var lineRe = regexp.MustCompile(`^(.+?):(\d+)(?::(\d+))?:\s*(warning|error):\s*(.*)$`)

// Parse extracts every located diagnostic from text.
func Parse(text string) []Diagnostic {
	var out []Diagnostic
	for _, line := range strings.Split(text, "\n") {
		m := lineRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		ln, _ := strconv.Atoi(m[2])
		col := 1
		if m[3] != "" {
			col, _ = strconv.Atoi(m[3])
		}
		out = append(out, Diagnostic{
			Path:     m[1],
			Line:     ln,
			Column:   col,
			Severity: Severity(m[4]),
			Message:  strings.TrimSpace(m[5]),
		})
	}
	return out
}

// Count tallies diagnostics by severity.
func Count(ds []Diagnostic) (errors, warnings int) {
	for _, d := range ds {
		switch d.Severity {
		case Error:
			errors++
		case Warning:
			warnings++
		}
	}
	return errors, warnings
}

// Rebase replaces every occurrence of fromPath in diagnostic text with
// toPath, so messages about the staged copy point at the user's file.
func Rebase(text, fromPath, toPath string) string {
	if fromPath == "" || fromPath == toPath {
		return text
	}
	return strings.ReplaceAll(text, fromPath, toPath)
}
