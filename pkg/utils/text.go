// Package utils provides shared utilities for text, math, and logging.
package utils

// Truncate returns s cut to maxLen bytes, with "..." appended when anything
// was removed. Non-positive maxLen disables truncation.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
