package testutil

import "strings"

// Dedent removes an optional leading newline, then removes the indentation of
// the first line from all lines. It is useful for making multi-line string
// literals look natural in test code.
func Dedent(text string) string {
	text = strings.TrimPrefix(text, "\n")
	first := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		first = text[:i]
	}
	indent := first[:len(first)-len(strings.TrimLeft(first, " \t"))]
	if indent == "" {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			lines[i] = ""
		} else {
			lines[i] = strings.TrimPrefix(line, indent)
		}
	}
	return strings.Join(lines, "\n")
}
