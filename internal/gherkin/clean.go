package gherkin

import (
	"fmt"
	"strings"
)

var skipPrefixes = []string{"As a", "I want", "So that", "Background:"}

// Clean normalizes model output into a plain feature file: markdown fences,
// user-story lines and Background blocks are removed, blank runs collapse to
// one line and the Feature line is followed by exactly one blank line.
func Clean(content string) string {
	content = strings.ReplaceAll(content, "```gherkin", "")
	content = strings.ReplaceAll(content, "```", "")

	var lines []string
	skipping := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if hasAnyPrefix(trimmed, skipPrefixes) {
			skipping = true
			continue
		}
		if isHeader(trimmed) {
			skipping = false
		}
		if skipping {
			continue
		}
		lines = append(lines, strings.TrimRight(line, " \t\r"))
	}

	var out []string
	blank := true
	for _, line := range lines {
		if line == "" {
			if !blank {
				out = append(out, "")
				blank = true
			}
			continue
		}
		out = append(out, line)
		blank = false
		if strings.HasPrefix(strings.TrimSpace(line), "Feature:") {
			out = append(out, "")
			blank = true
		}
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

// Validate reports whether content looks like a feature file.
func Validate(content string) error {
	if !strings.Contains(content, "Feature:") {
		return fmt.Errorf("generated content has no Feature declaration")
	}
	if !strings.Contains(content, "Scenario") {
		return fmt.Errorf("generated content has no scenarios")
	}
	return nil
}

func isHeader(line string) bool {
	return strings.HasPrefix(line, "Feature:") ||
		strings.HasPrefix(line, "Scenario:") ||
		strings.HasPrefix(line, "Scenario Outline:")
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
