package internal

import (
	"fmt"
	"strings"
)

// OutcomeAnnotation returns a parenthetical annotation like " (2 duplicate, 1 failed)"
// for non-zero counts, or an empty string if both are zero.
func OutcomeAnnotation(duplicates, failed int) string {
	var parts []string
	if duplicates > 0 {
		parts = append(parts, fmt.Sprintf("%d duplicate", duplicates))
	}
	if failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", failed))
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}
