package components

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/jcrane-labs/walcdc/internal/metrics"
)

var (
	deliveryHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#3B82F6"))
	deliveryOKStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	deliveryWarnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
)

// RenderDelivery renders a compact summary of what the sink has seen so
// far: LSN position, batch/event totals, and any outstanding retry.
func RenderDelivery(snap metrics.Snapshot) string {
	header := deliveryHeaderStyle.Render(fmt.Sprintf("  %-22s %-22s %s", "Last applied LSN", "Total batches", "Retries"))

	retryStr := fmt.Sprintf("%d", snap.RetryCount)
	retryStyle := deliveryOKStyle
	if snap.RetryCount > 0 {
		retryStyle = deliveryWarnStyle
	}

	lastLSN := snap.LastAppliedLSN
	if lastLSN == "" {
		lastLSN = "(none yet)"
	}

	body := fmt.Sprintf("  %-22s %-22s %s",
		lastLSN,
		formatCount(snap.TotalBatches),
		retryStyle.Render(retryStr))

	if snap.LastError != "" {
		body += "\n  " + deliveryWarnStyle.Render("last error: "+snap.LastError)
	}

	return header + "\n" + body
}

func formatCount(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(n)/1e9)
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1e6)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1e3)
	default:
		return fmt.Sprintf("%d", n)
	}
}
