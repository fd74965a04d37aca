package parse

import (
	"strings"
	"time"
)

// lastModLayouts covers W3C Datetime precisions plus the RFC1123 forms some feeds emit
var lastModLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// ParseLastMod converts a <lastmod> value to epoch milliseconds.
// Absent, unparseable and pre-epoch values all yield 0.
func ParseLastMod(raw string) int64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	for _, layout := range lastModLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if ms := t.UnixMilli(); ms > 0 {
				return ms
			}
			return 0
		}
	}
	return 0
}
