package components

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/jcrane-labs/walcdc/internal/metrics"
)

var throughputValueStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF"))

// RenderThroughput renders the throughput counters.
func RenderThroughput(snap metrics.Snapshot, width int) string {
	eventsPerSec := throughputValueStyle.Render(fmt.Sprintf("%.0f events/s", snap.EventsPerSec))
	batchesPerSec := throughputValueStyle.Render(fmt.Sprintf("%.1f batches/s", snap.BatchesPerSec))
	totalEvents := formatCount(snap.TotalEvents)
	totalBatches := formatCount(snap.TotalBatches)

	errStr := ""
	if snap.ErrorCount > 0 {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
		errStr = fmt.Sprintf("  Errors: %s", errStyle.Render(fmt.Sprintf("%d", snap.ErrorCount)))
	}

	return fmt.Sprintf("  %s  |  %s  |  Total: %s events, %s batches%s",
		eventsPerSec, batchesPerSec, totalEvents, totalBatches, errStr)
}
