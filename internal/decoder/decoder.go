// Package decoder supervises the external logical-decoding helper
// (pg_recvlogical driving a wal2json-style plugin) and turns its
// newline-delimited JSON stdout into a lazy sequence of decoded records.
package decoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

// Config describes how to invoke the decoding helper, per spec.md §4.C/§6.
type Config struct {
	Host                  string
	Port                  uint16
	User                  string
	Password              string
	DBName                string
	SlotName              string
	Publication           string
	Plugin                string
	StatusIntervalSeconds float64
	StartLSN              string // optional; empty means start from the slot's consistent point
	HelperPath            string // path to the decoding helper binary; defaults to "pg_recvlogical"
}

// Item is one yielded (lsn, record) pair. LSN is the best-effort commit
// position extracted per Record.ExtractLSN; it may be empty.
type Item struct {
	LSN    string
	Record Record
}

// Source supervises one invocation of the decoding helper subprocess and
// exposes its output as a channel of Items. A Source is single-use: a new
// run requires a new Source.
type Source struct {
	cfg    Config
	logger zerolog.Logger

	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// New creates a Source for the given configuration.
func New(cfg Config, logger zerolog.Logger) *Source {
	if cfg.HelperPath == "" {
		cfg.HelperPath = "pg_recvlogical"
	}
	return &Source{
		cfg:    cfg,
		logger: logger.With().Str("component", "decoder").Logger(),
		done:   make(chan struct{}),
	}
}

// args builds the helper's command-line invocation per spec.md §6.
func (s *Source) args() []string {
	a := []string{
		"-h", s.cfg.Host,
		"-p", strconv.Itoa(int(s.cfg.Port)),
		"-U", s.cfg.User,
		"-d", s.cfg.DBName,
		"--slot", s.cfg.SlotName,
		"--plugin", s.cfg.Plugin,
		"-o", "pretty-print=0",
		"-o", "include-xids=1",
		"-o", "include-timestamp=1",
		"-o", "include-lsn=1",
		"--start",
		"--no-loop",
		"--status-interval", strconv.Itoa(int(s.cfg.StatusIntervalSeconds)),
	}
	if s.cfg.StartLSN != "" {
		a = append(a, "--startpos", s.cfg.StartLSN)
	}
	return a
}

// Start launches the helper subprocess and begins streaming. The returned
// channel is closed when the helper exits (cleanly or otherwise); callers
// should check Err() once it is closed to distinguish the two.
func (s *Source) Start(ctx context.Context) (<-chan Item, error) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	cmd := exec.CommandContext(ctx, s.cfg.HelperPath, s.args()...)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+s.cfg.Password)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("decoder: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("decoder: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("decoder: start helper: %w", err)
	}
	s.cmd = cmd

	items := make(chan Item, 256)
	go s.forwardStderr(stderr)
	go s.readLoop(ctx, stdout, items)

	return items, nil
}

// readLoop scans the helper's stdout and, once the stream ends, waits for
// the subprocess to exit so Err() can distinguish a clean shutdown from a
// crash.
func (s *Source) readLoop(ctx context.Context, stdout io.Reader, items chan<- Item) {
	defer close(items)
	defer close(s.done)

	scanErr := s.scanLines(ctx, stdout, items)

	waitErr := s.cmd.Wait()
	switch {
	case scanErr != nil:
		s.setErr(fmt.Errorf("decoder: read stdout: %w", scanErr))
	case waitErr != nil:
		s.setErr(fmt.Errorf("decoder: helper exited: %w", waitErr))
	}
}

// scanLines reads stdout line by line, skipping blank and unparseable
// lines, and emits one Item per parseable record. It is the subprocess-free
// seam exercised directly by tests; readLoop adds the helper's exit status
// on top of it.
func (s *Source) scanLines(ctx context.Context, stdout io.Reader, items chan<- Item) error {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

scan:
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		rec, err := ParseRecord(line)
		if err != nil {
			s.logger.Debug().Err(err).Msg("skipping unparseable line")
			continue
		}
		select {
		case items <- Item{LSN: rec.ExtractLSN(), Record: rec}:
		case <-ctx.Done():
			break scan
		}
	}
	return scanner.Err()
}

// forwardStderr drains the helper's diagnostics to the local log without
// blocking the data path.
func (s *Source) forwardStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		s.logger.Info().Str("helper", line).Msg("decoder helper stderr")
	}
}

func (s *Source) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Err returns the error that terminated the stream, if any. Safe to call
// once the Item channel is closed.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close signals the helper subprocess to terminate and waits for the read
// loop to exit.
func (s *Source) Close() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}
