// Package lsn provides the opaque LSN token used across the CDC pipeline,
// plus numeric helpers for replication lag reporting.
package lsn

import (
	"fmt"
	"time"

	"github.com/jackc/pglogrepl"
)

// LSN is an opaque, monotonically non-decreasing position in the upstream
// write-ahead log. The pipeline core treats it as ordered text: compared
// for equality and passed through unchanged to the sink. Parse and Compare
// below exist only for lag and ordering bookkeeping, never on the
// per-event hot path.
type LSN string

// Empty reports whether the LSN carries no value, e.g. a record the decoder
// could not extract a commit position for.
func (l LSN) Empty() bool {
	return l == ""
}

func (l LSN) String() string {
	return string(l)
}

// Parse interprets a PostgreSQL "XXXXXXXX/XXXXXXXX" LSN string, the same
// format pg_recvlogical and pg_current_wal_lsn() emit.
func Parse(s string) (pglogrepl.LSN, error) {
	return pglogrepl.ParseLSN(s)
}

// Compare orders two LSN strings numerically. A value that fails to parse
// (e.g. a transaction-id fallback token) sorts below any parseable LSN: it
// carries no guaranteed relationship to the WAL position space.
func Compare(a, b LSN) int {
	pa, errA := Parse(a.String())
	pb, errB := Parse(b.String())
	switch {
	case errA != nil && errB != nil:
		switch {
		case a == b:
			return 0
		case a < b:
			return -1
		default:
			return 1
		}
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	case pa < pb:
		return -1
	case pa > pb:
		return 1
	default:
		return 0
	}
}

// Lag calculates the byte distance between two LSN positions.
func Lag(current, latest pglogrepl.LSN) uint64 {
	if latest <= current {
		return 0
	}
	return uint64(latest - current)
}

// FormatLag returns a human-friendly representation of replication lag.
func FormatLag(bytes uint64, latency time.Duration) string {
	var size string
	switch {
	case bytes >= 1<<30:
		size = fmt.Sprintf("%.2f GB", float64(bytes)/float64(1<<30))
	case bytes >= 1<<20:
		size = fmt.Sprintf("%.2f MB", float64(bytes)/float64(1<<20))
	case bytes >= 1<<10:
		size = fmt.Sprintf("%.2f KB", float64(bytes)/float64(1<<10))
	default:
		size = fmt.Sprintf("%d B", bytes)
	}
	return fmt.Sprintf("%s (latency: %s)", size, latency.Truncate(time.Millisecond))
}
