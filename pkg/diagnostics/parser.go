// Package diagnostics extracts structured error locations out of raw
// build/type-checker output (C18) so a client can jump straight to the
// offending file/line instead of scrolling a build log.
package diagnostics

import (
	"regexp"
	"strconv"
)

// Severity is the reported level of a Diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one located problem extracted from build output.
type Diagnostic struct {
	File     string   `json:"file"`
	Line     int      `json:"line"`
	Col      int      `json:"col"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Source   string   `json:"source,omitempty"` // "typescript", "eslint", "generic"
}

// typescriptPattern matches tsc's "file.ts(12,5): error TS2339: message"
// and the equivalent next.js/babel "error" variant.
var typescriptPattern = regexp.MustCompile(`(?m)^(.+?)\((\d+),(\d+)\):\s+(error|warning)\s+TS\d+:\s*(.+)$`)

// eslintPattern matches eslint's stylish formatter:
//
//	  12:5  error  'foo' is not defined  no-undef
var eslintPattern = regexp.MustCompile(`(?m)^\s*(\d+):(\d+)\s+(error|warning)\s+(.+?)(?:\s{2,}\S+)?$`)

// eslintFileHeaderPattern matches the file path line eslint prints just
// before a run of eslintPattern matches.
var eslintFileHeaderPattern = regexp.MustCompile(`(?m)^(/\S+\.[jt]sx?)$`)

// genericPattern matches the widely-used "file:line:col: message" shape
// (vite, webpack, go vet-style tooling bundled into a JS build step).
var genericPattern = regexp.MustCompile(`(?m)^(\S+):(\d+):(\d+):\s*(.+)$`)

// Parse extracts every Diagnostic it can find in raw build output,
// trying each known toolchain format in turn. Output that matches no
// known pattern yields no diagnostics — the caller still has the raw
// text tail to fall back on.
func Parse(output string) []Diagnostic {
	var diags []Diagnostic
	diags = append(diags, parseTypeScript(output)...)
	diags = append(diags, parseESLint(output)...)
	if len(diags) == 0 {
		diags = append(diags, parseGeneric(output)...)
	}
	return diags
}

func parseTypeScript(output string) []Diagnostic {
	var diags []Diagnostic
	for _, m := range typescriptPattern.FindAllStringSubmatch(output, -1) {
		diags = append(diags, Diagnostic{
			File:     m[1],
			Line:     atoi(m[2]),
			Col:      atoi(m[3]),
			Severity: Severity(m[4]),
			Message:  m[5],
			Source:   "typescript",
		})
	}
	return diags
}

// parseESLint walks output line by line, tracking the most recent file
// header line so each "12:5  error  message" row can be attributed to
// the file it was printed under.
func parseESLint(output string) []Diagnostic {
	var diags []Diagnostic
	currentFile := ""

	lines := splitLines(output)
	for _, line := range lines {
		if m := eslintFileHeaderPattern.FindStringSubmatch(line); m != nil {
			currentFile = m[1]
			continue
		}
		if m := eslintPattern.FindStringSubmatch(line); m != nil && currentFile != "" {
			diags = append(diags, Diagnostic{
				File:     currentFile,
				Line:     atoi(m[1]),
				Col:      atoi(m[2]),
				Severity: Severity(m[3]),
				Message:  m[4],
				Source:   "eslint",
			})
		}
	}
	return diags
}

func parseGeneric(output string) []Diagnostic {
	var diags []Diagnostic
	for _, m := range genericPattern.FindAllStringSubmatch(output, -1) {
		diags = append(diags, Diagnostic{
			File:     m[1],
			Line:     atoi(m[2]),
			Col:      atoi(m[3]),
			Severity: SeverityError,
			Message:  m[4],
			Source:   "generic",
		})
	}
	return diags
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
