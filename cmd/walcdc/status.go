package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jcrane-labs/walcdc/internal/metrics"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last known pipeline state",
	Long:  `Status reports the current phase, LSN position, replication lag, and throughput of the most recently persisted run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := metrics.ReadStateFile()
		if err != nil {
			fmt.Println("No pipeline state found. Is walcdc running?")
			fmt.Printf("  (error: %v)\n", err)
			return nil
		}

		age := time.Since(snap.Timestamp)
		stale := ""
		if age > 10*time.Second {
			stale = fmt.Sprintf(" (stale — %s ago)", age.Truncate(time.Second))
		}

		fmt.Printf("Phase:          %s%s\n", snap.Phase, stale)
		fmt.Printf("Elapsed:        %.0fs\n", snap.ElapsedSec)
		fmt.Printf("Last applied:   %s\n", snap.LastAppliedLSN)
		fmt.Printf("Latest:         %s\n", snap.LatestLSN)
		fmt.Printf("Lag:            %s\n", snap.LagFormatted)
		fmt.Printf("Throughput:     %.0f events/s, %.1f batches/s\n", snap.EventsPerSec, snap.BatchesPerSec)
		fmt.Printf("Total:          %d events, %d batches\n", snap.TotalEvents, snap.TotalBatches)
		fmt.Printf("Retries:        %d\n", snap.RetryCount)

		if snap.ErrorCount > 0 {
			fmt.Printf("Errors:         %d (last: %s)\n", snap.ErrorCount, snap.LastError)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
