package cli

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// FormatTRY formats an amount in Turkish lira: dot-grouped thousands, comma decimals.
func FormatTRY(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	parts := strings.Split(str, ".")

	result := "₺" + groupThousands(parts[0]) + "," + parts[1]
	if negative && result != "₺0,00" {
		result = "-" + result
	}
	return result
}

// groupThousands inserts a dot between every group of three digits.
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	var b strings.Builder
	head := n % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatQuantity formats a share count with grouped thousands.
func FormatQuantity(qty float64) string {
	if qty == math.Trunc(qty) {
		sign := ""
		if qty < 0 {
			sign = "-"
			qty = -qty
		}
		return sign + groupThousands(fmt.Sprintf("%.0f", qty))
	}
	return fmt.Sprintf("%.2f", qty)
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatChange formats a price change.
func FormatChange(change, changePct float64) string {
	sign := ""
	if change > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f (%s)", sign, change, FormatPercent(changePct))
}

// FormatVolume formats volume in compact form.
func FormatVolume(volume int64) string {
	switch {
	case volume >= 1_000_000_000:
		return fmt.Sprintf("%.2f B", float64(volume)/1_000_000_000)
	case volume >= 1_000_000:
		return fmt.Sprintf("%.2f M", float64(volume)/1_000_000)
	case volume >= 1_000:
		return fmt.Sprintf("%.2f K", float64(volume)/1_000)
	}
	return fmt.Sprintf("%d", volume)
}

// FormatPrice formats a price. Sub-lira prices keep four decimals.
func FormatPrice(price float64) string {
	if price != 0 && math.Abs(price) < 1 {
		return fmt.Sprintf("%.4f", price)
	}
	return fmt.Sprintf("%.2f", price)
}

// FormatTime formats a time of day in loc.
func FormatTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(loc).Format("15:04:05")
}

// FormatDateTime formats a timestamp in loc.
func FormatDateTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(loc).Format("02 Jan 2006 15:04")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
