package relay

import (
	"regexp"
	"strings"
)

var listMarker = regexp.MustCompile(`^(\d+\.|\*|-)\s*`)

// ParseSuggestions splits model output into display lines. Leading ordinal or
// bullet markers are removed, blank lines dropped, order kept, no dedup.
func ParseSuggestions(text string) []string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if s := StripMarker(line); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// StripMarker trims line and removes leading list markers until none is left,
// so feeding the result back in is a no-op. Text that itself begins with a
// marker shape ("2024.", "-5") is stripped too.
func StripMarker(line string) string {
	s := strings.TrimSpace(line)
	for {
		loc := listMarker.FindStringIndex(s)
		if loc == nil {
			return s
		}
		s = strings.TrimSpace(s[loc[1]:])
	}
}
