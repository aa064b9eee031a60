package tui

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/digitaltwin/internal/generation"
	"github.com/fyrsmithlabs/digitaltwin/internal/rag"
)

// FormatTokens formats a token count as "X tokens" or "X.XK tokens".
func FormatTokens(n int64) string {
	if n >= 10_000 {
		return fmt.Sprintf("%.1fK tokens", float64(n)/1000)
	}
	return fmt.Sprintf("%d tokens", n)
}

// FormatCost formats an accumulated cost in USD.
func FormatCost(cost float64) string {
	return fmt.Sprintf("$%.4f", cost)
}

// FormatUsage renders usage totals for the footer.
func FormatUsage(u generation.Usage) string {
	return FormatTokens(u.TotalTokens) + " · " + FormatCost(u.Cost)
}

// FormatLatency formats a duration as "X.Xms" or "X.Xs".
func FormatLatency(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// storeBadge returns a colored store status badge. A degraded store that
// still reports statistics is serving from its fallback.
func storeBadge(info rag.SystemInfo) string {
	switch {
	case info.StoreStatus == rag.StoreDegraded && info.VectorInfo != nil:
		return warningStyle.Render("⚠ DEGRADED")
	case info.StoreStatus == rag.StoreDegraded:
		return errorStyle.Render("✗ STORE DOWN")
	case !info.IsInitialized:
		return dimStyle.Render("○ NOT INDEXED")
	default:
		return healthyStyle.Render("✓ HEALTHY")
	}
}
