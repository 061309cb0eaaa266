package archive

import (
	"fmt"
	"strconv"
	"strings"
)

// Binary size suffixes accepted in backup headroom settings. Ordered
// longest first so "GB" is never consumed as a bare "B".
var sizeSuffixes = []struct {
	unit  string
	shift uint
}{
	{"TB", 40},
	{"GB", 30},
	{"MB", 20},
	{"KB", 10},
	{"B", 0},
}

// ParseSize converts a headroom value like "2GB" or "1.5TB" into bytes.
// Suffixes are binary and case-insensitive; a bare number is bytes.
// Fractions are allowed because headroom settings are estimates, not
// exact budgets.
func ParseSize(s string) (int64, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if v == "" {
		return 0, fmt.Errorf("empty size")
	}

	var shift uint
	for _, sfx := range sizeSuffixes {
		if num, ok := strings.CutSuffix(v, sfx.unit); ok {
			v, shift = num, sfx.shift
			break
		}
	}
	if strings.TrimSpace(v) == "" {
		return 0, fmt.Errorf("size %q has no number", s)
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if f < 0 {
		return 0, fmt.Errorf("negative size %q", s)
	}
	return int64(f * float64(int64(1)<<shift)), nil
}

// FormatBytes formats a byte count into human-readable form for progress
// lines and summaries.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
