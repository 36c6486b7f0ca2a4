package main

import "time"

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// formatTime renders an optional timestamp in local time, or "-".
func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

// deref returns the value behind p, or "-" when p is nil.
func deref(p *string) string {
	if p == nil {
		return "-"
	}
	return *p
}
