// Package fmtutil formats byte sizes and durations for log lines and CLI
// output.
package fmtutil

import (
	"fmt"
	"strings"
	"time"
)

var sizeUnits = []string{"B", "kB", "MB", "GB", "TB", "PB"}

// Size renders a byte count with a decimal unit, e.g. "1.5 GB".
func Size(bytes int64) string {
	value := float64(bytes)
	unit := 0
	for value >= 1000 && unit < len(sizeUnits)-1 {
		value /= 1000
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%d %s", bytes, sizeUnits[0])
	}
	return fmt.Sprintf("%.1f %s", value, sizeUnits[unit])
}

// Duration renders a duration as days/hours/minutes/seconds, e.g. "2d 3h 4m".
func Duration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	seconds := int64(d.Seconds())
	days := seconds / 86400
	hours := seconds % 86400 / 3600
	minutes := seconds % 3600 / 60
	seconds %= 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, " ")
}

// Seconds renders a whole number of seconds, as Duration does.
func Seconds(seconds int64) string {
	return Duration(time.Duration(seconds) * time.Second)
}
