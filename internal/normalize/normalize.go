// Package normalize turns one decoded record into the list of row-level
// events the rest of the pipeline carries (spec.md §4.D). The transform is
// pure: it consults only its argument, never previous records or external
// state, and never errors — shape variance in the upstream decoder's output
// propagates as null/empty fields rather than a failure.
package normalize

import (
	"github.com/jcrane-labs/walcdc/internal/decoder"
	"github.com/jcrane-labs/walcdc/internal/event"
)

// Record reduces one decoded transaction to its row-level events, one per
// entry in rec.Changes, in order.
func Record(rec decoder.Record) []event.Event {
	commitLSN := rec.LSN
	if commitLSN == "" {
		commitLSN = rec.CommitLSN
	}

	events := make([]event.Event, 0, len(rec.Changes))
	for _, ch := range rec.Changes {
		events = append(events, event.Event{
			CommitLSN: commitLSN,
			Type:      ch.Kind,
			Table:     ch.Schema + "." + ch.Table,
			PK:        pk(ch),
			Payload:   ch,
		})
	}
	return events
}

// Batch concatenate-maps Record over an ordered sequence of decoded
// records, preserving order across the whole batch.
func Batch(recs []decoder.Record) []event.Event {
	var events []event.Event
	for _, rec := range recs {
		events = append(events, Record(rec)...)
	}
	return events
}

// pk selects the primary-key values per spec.md §3: oldkeys.keyvalues when
// present (deletes and keyed updates), else columnvalues (inserts and
// unkeyed updates). Neither may be present, in which case pk is nil.
func pk(ch decoder.Change) map[string]any {
	if ch.OldKeys != nil && ch.OldKeys.KeyValues != nil {
		return ch.OldKeys.KeyValues
	}
	return ch.ColumnValues
}
