package decoder

import "encoding/json"

// Change is one member of a decoded record's changes array (spec.md §3).
type Change struct {
	Kind         string         `json:"kind"`
	Schema       string         `json:"schema"`
	Table        string         `json:"table"`
	ColumnValues map[string]any `json:"columnvalues,omitempty"`
	OldKeys      *OldKeys       `json:"oldkeys,omitempty"`
}

// OldKeys carries the primary-key values for deletes and keyed updates.
type OldKeys struct {
	KeyValues map[string]any `json:"keyvalues,omitempty"`
}

// Record is one decoded transaction, as emitted by the decoding helper on a
// single line of its standard output.
type Record struct {
	LSN       string   `json:"lsn,omitempty"`
	NextLSN   string   `json:"nextlsn,omitempty"`
	LastLSN   string   `json:"last_lsn,omitempty"`
	CommitLSN string   `json:"commit_lsn,omitempty"`
	Xid       string   `json:"xid,omitempty"`
	Changes   []Change `json:"changes"`
}

// ExtractLSN returns the record's commit position using the precedence
// order from spec.md §4.C: lsn, nextlsn, last_lsn, then the fallbacks
// commit_lsn and transaction id. It returns "" if none is present.
func (r Record) ExtractLSN() string {
	switch {
	case r.LSN != "":
		return r.LSN
	case r.NextLSN != "":
		return r.NextLSN
	case r.LastLSN != "":
		return r.LastLSN
	case r.CommitLSN != "":
		return r.CommitLSN
	case r.Xid != "":
		return r.Xid
	default:
		return ""
	}
}

// ParseRecord decodes one newline-delimited JSON line into a Record. The
// caller is responsible for skipping blank and unparseable lines (see
// Source.scanLines in decoder.go) — ParseRecord itself just wraps json.Unmarshal.
func ParseRecord(line []byte) (Record, error) {
	var r Record
	err := json.Unmarshal(line, &r)
	return r, err
}
