package internal

import "testing"

func TestOutcomeAnnotation(t *testing.T) {
	// WHY: OutcomeAnnotation formats the parenthetical duplicate/failure
	// annotation in the import summary line. All four code paths must produce
	// correct output.
	t.Parallel()

	tests := []struct {
		name       string
		duplicates int
		failed     int
		want       string
	}{
		{"both zero", 0, 0, ""},
		{"only duplicates", 3, 0, " (3 duplicate)"},
		{"only failed", 0, 2, " (2 failed)"},
		{"both non-zero", 1, 4, " (1 duplicate, 4 failed)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := OutcomeAnnotation(tt.duplicates, tt.failed)
			if got != tt.want {
				t.Errorf("OutcomeAnnotation(%d, %d) = %q, want %q", tt.duplicates, tt.failed, got, tt.want)
			}
		})
	}
}
