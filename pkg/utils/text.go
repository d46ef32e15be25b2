package utils

// Splice returns s with the bytes in [start,end) replaced by repl.
// Out-of-range or inverted bounds return s unchanged.
func Splice(s string, start, end int, repl string) string {
	if start < 0 || end < start || end > len(s) {
		return s
	}
	return s[:start] + repl + s[end:]
}
