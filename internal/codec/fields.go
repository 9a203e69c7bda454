package codec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// writeList renders a "Field:" line followed by an indented bullet per item,
// or "Field: []" when items is empty. Mirrors the bullet-list side of the
// original's extract_list grammar in reverse (encode direction).
func writeList(b *strings.Builder, field string, items []string) {
	if len(items) == 0 {
		fmt.Fprintf(b, "%s: []\n", field)
		return
	}
	fmt.Fprintf(b, "%s:\n", field)
	for _, i := range items {
		fmt.Fprintf(b, "  - %s\n", i)
	}
}

// extractField extracts a "Field: value" line from text, case-insensitively
// and anchored to the start of a line. Mirrors extract_field from the
// original parsers.py.
func extractField(text, field string) string {
	pattern := `(?im)^` + regexp.QuoteMeta(field) + `:\s*(.+)$`
	re := regexp.MustCompile(pattern)
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// extractList extracts the bullet list (or inline "[a, b]" literal, or a
// single same-line value) introduced by a "Field:" line. Mirrors
// extract_list from the original parsers.py, including its quirks: a list
// is terminated by any subsequent non-indented "key: value" line.
func extractList(text, field string) []string {
	lines := strings.Split(text, "\n")
	inList := false
	var items []string
	lowerField := strings.ToLower(field)

	for _, line := range lines {
		if strings.Contains(strings.ToLower(line), lowerField) && strings.Contains(line, ":") {
			inList = true
			parts := strings.SplitN(line, ":", 2)
			if len(parts) > 1 {
				value := strings.TrimSpace(parts[1])
				if value != "" && value != "[]" {
					if strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]") {
						inner := strings.TrimSpace(strings.Trim(value, "[]"))
						if inner != "" {
							for _, v := range strings.Split(inner, ",") {
								items = append(items, strings.Trim(strings.TrimSpace(v), `"'`))
							}
						}
					} else {
						items = append(items, value)
					}
				}
			}
			continue
		}

		if inList {
			stripped := strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(stripped, "- "):
				items = append(items, strings.TrimSpace(stripped[2:]))
			case strings.HasPrefix(stripped, "*"):
				items = append(items, strings.TrimSpace(stripped[1:]))
			case stripped != "" && !strings.HasPrefix(line, " ") && strings.Contains(stripped, ":"):
				inList = false
			}
		}
	}
	return items
}

var bulletLine = regexp.MustCompile(`^(?:-\s+|\*\s+)(.+)$`)

// extractBullets pulls plain "- item" / "* item" bullet lines out of a
// section's body, without the "Field:" introducer extractList requires.
// Used for sections that are themselves a bare bullet list, such as a
// `## Provides` block on a merge commit.
func extractBullets(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		if m := bulletLine.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			items = append(items, strings.TrimSpace(m[1]))
		}
	}
	return items
}

// parseIntDefault parses s as an int, returning def on failure.
func parseIntDefault(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}
