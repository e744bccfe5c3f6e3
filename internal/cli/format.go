package cli

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// FormatUSD formats an amount as dollars with thousands separators.
func FormatUSD(amount float64) string {
	s := fmt.Sprintf("%.2f", math.Abs(amount))
	sign := ""
	if amount < 0 && s != "0.00" {
		sign = "-"
	}
	whole, frac := s[:len(s)-3], s[len(s)-3:]
	return sign + "$" + groupThousands(whole) + frac
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// FormatPnL is FormatUSD with an explicit plus sign for gains.
func FormatPnL(pnl float64) string {
	if pnl > 0 {
		return "+" + FormatUSD(pnl)
	}
	return FormatUSD(pnl)
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	if value > 0 {
		return fmt.Sprintf("+%.2f%%", value)
	}
	return fmt.Sprintf("%.2f%%", value)
}

// FormatFraction renders an allocation fraction such as 0.25 as "25.0%".
func FormatFraction(f float64) string {
	return fmt.Sprintf("%.1f%%", f*100)
}

// FormatBytes renders a memory figure in binary units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	exp := int(math.Log(float64(n)) / math.Log(unit))
	if exp > 4 {
		exp = 4
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/math.Pow(unit, float64(exp)), "KMGT"[exp-1])
}

// FormatDuration formats an uptime compactly.
func FormatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd %dh", int(d.Hours())/24, int(d.Hours())%24)
}
