package collection

import "fmt"

// FormatDuration renders a compact playtime: "42s", "5m", "1h 5m"
func FormatDuration(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", max(seconds, 0))
	}
	hours := seconds / 3600
	mins := (seconds % 3600) / 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

// FormatDurationLong renders the hero playtime: "5 min", "1 hr 5 min"
func FormatDurationLong(seconds int64) string {
	hours := max(seconds, 0) / 3600
	mins := (max(seconds, 0) % 3600) / 60
	if hours > 0 {
		return fmt.Sprintf("%d hr %d min", hours, mins)
	}
	return fmt.Sprintf("%d min", mins)
}
