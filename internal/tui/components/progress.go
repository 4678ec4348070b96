package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jcrane-labs/walcdc/internal/metrics"
)

var (
	stageActiveStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#10B981"))
	stageDoneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	stageFailStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444"))
)

// stages is the per-batch state machine in transition order, excluding the
// terminal failure states (rendered separately when reached).
var stages = []string{"FILLING", "FLUSHING", "DELIVERING", "BACKOFF", "COMMITTING", "CLEARED"}

// RenderProgress renders the current batch's position in the apply loop's
// state machine as a left-to-right chain of stages.
func RenderProgress(snap metrics.Snapshot, width int) string {
	if snap.Phase == "GIVE_UP" || snap.Phase == "STORE_FAIL" {
		return fmt.Sprintf("  %s", stageFailStyle.Render(snap.Phase))
	}

	idx := -1
	for i, s := range stages {
		if s == snap.Phase {
			idx = i
			break
		}
	}

	parts := make([]string, 0, len(stages))
	for i, s := range stages {
		switch {
		case i == idx:
			parts = append(parts, stageActiveStyle.Render(s))
		case idx >= 0 && i < idx:
			parts = append(parts, stageDoneStyle.Render(s))
		default:
			parts = append(parts, stageDoneStyle.Render(s))
		}
	}

	return "  " + strings.Join(parts, stageDoneStyle.Render(" → "))
}
