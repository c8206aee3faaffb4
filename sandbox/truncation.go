package sandbox

import (
	"fmt"
	"unicode/utf8"
)

// DefaultOutputLimit bounds stdout and stderr kept from one command, in bytes.
const DefaultOutputLimit = 5000

// TrimOutput keeps at most limit bytes of s and appends a marker with the
// number of bytes dropped. The cut backs up to a rune boundary.
func TrimOutput(s string, limit int) string {
	if limit <= 0 {
		limit = DefaultOutputLimit
	}
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("\n... [truncated %d bytes]", len(s)-cut)
}
