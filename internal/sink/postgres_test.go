package sink

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassify_PgErrorCodes(t *testing.T) {
	cases := []struct {
		name          string
		code          string
		wantTransient bool
	}{
		{"connection_exception", "08000", true},
		{"connection_does_not_exist", "08003", true},
		{"connection_failure", "08006", true},
		{"too_many_connections", "53300", true},
		{"serialization_failure", "40001", true},
		{"deadlock_detected", "40P01", true},
		{"undefined_table", "42P01", false},
		{"unique_violation", "23505", false},
		{"invalid_authorization", "28000", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify(&pgconn.PgError{Code: tc.code, Message: tc.name})
			if got := IsTransient(err); got != tc.wantTransient {
				t.Errorf("classify(code=%s) transient = %v, want %v", tc.code, got, tc.wantTransient)
			}
		})
	}
}

func TestClassify_NonPgError(t *testing.T) {
	err := classify(errors.New("connection reset by peer"))
	if !IsTransient(err) {
		t.Error("classify() of a non-PgError should default to transient (transport-level failure)")
	}
}

func TestEncodePK_NilMap(t *testing.T) {
	got, err := encodePK(nil)
	if err != nil {
		t.Fatalf("encodePK(nil) error: %v", err)
	}
	if got != "{}" {
		t.Errorf("encodePK(nil) = %q, want \"{}\"", got)
	}
}

func TestEncodePK_EncodesFields(t *testing.T) {
	got, err := encodePK(map[string]any{"id": float64(7)})
	if err != nil {
		t.Fatalf("encodePK() error: %v", err)
	}
	if got != `{"id":7}` {
		t.Errorf("encodePK() = %q, want %q", got, `{"id":7}`)
	}
}
