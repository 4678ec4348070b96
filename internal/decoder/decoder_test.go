package decoder

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func testSource() *Source {
	return New(Config{}, zerolog.Nop())
}

func drain(items <-chan Item) []Item {
	var got []Item
	for it := range items {
		got = append(got, it)
	}
	return got
}

func TestScanLines_SkipsBlankLines(t *testing.T) {
	s := testSource()
	input := strings.NewReader(
		`{"lsn":"0/10","changes":[{"kind":"insert","schema":"s","table":"t","columnvalues":{"id":1}}]}` + "\n" +
			"\n" +
			`{"lsn":"0/20","changes":[{"kind":"insert","schema":"s","table":"t","columnvalues":{"id":2}}]}` + "\n",
	)
	items := make(chan Item, 8)
	if err := s.scanLines(context.Background(), input, items); err != nil {
		t.Fatalf("scanLines() error: %v", err)
	}
	close(items)

	got := drain(items)
	if len(got) != 2 {
		t.Fatalf("got %d items, want 2 (blank line should be skipped)", len(got))
	}
	if got[0].LSN != "0/10" || got[1].LSN != "0/20" {
		t.Errorf("got LSNs %q, %q", got[0].LSN, got[1].LSN)
	}
}

func TestScanLines_SkipsUnparseableLines(t *testing.T) {
	s := testSource()
	input := strings.NewReader(
		"not json\n" +
			`{"lsn":"0/10","changes":[{"kind":"insert","schema":"s","table":"t","columnvalues":{"id":1}}]}` + "\n" +
			"{also not json}\n",
	)
	items := make(chan Item, 8)
	if err := s.scanLines(context.Background(), input, items); err != nil {
		t.Fatalf("scanLines() error: %v", err)
	}
	close(items)

	got := drain(items)
	if len(got) != 1 {
		t.Fatalf("got %d items, want 1 (malformed lines should be skipped, not fatal)", len(got))
	}
	if got[0].LSN != "0/10" {
		t.Errorf("got LSN %q, want 0/10", got[0].LSN)
	}
}

func TestScanLines_StopsOnContextCancel(t *testing.T) {
	s := testSource()
	input := strings.NewReader(
		`{"lsn":"0/10","changes":[{"kind":"insert","schema":"s","table":"t","columnvalues":{"id":1}}]}` + "\n" +
			`{"lsn":"0/20","changes":[{"kind":"insert","schema":"s","table":"t","columnvalues":{"id":2}}]}` + "\n",
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Unbuffered so the first send blocks until ctx.Done() wins the select.
	items := make(chan Item)
	done := make(chan struct{})
	go func() {
		_ = s.scanLines(ctx, input, items)
		close(done)
	}()
	<-done
}

func TestForwardStderr_SkipsEmptyLines(t *testing.T) {
	s := testSource()
	input := strings.NewReader("starting up\n\nwarning: slot already exists\n")
	// forwardStderr only logs; it has no observable return value, so this
	// test asserts it drains the reader fully without blocking or panicking.
	done := make(chan struct{})
	go func() {
		s.forwardStderr(input)
		close(done)
	}()
	<-done
}
