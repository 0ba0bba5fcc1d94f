// Package bridge owns the external DAX analysis engine as a child process and
// exchanges newline-delimited JSON request/response pairs with it over the
// process's standard streams.
//
// The wire protocol has no request IDs: a reply correlates to its request
// purely by ordering. A single-slot semaphore therefore serializes every call
// across the full write+read round trip, and a call that abandons its read
// (timeout, cancellation) poisons the session until it is restarted, because
// any later reply could belong to the abandoned request.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Config controls how the engine process is launched and supervised.
type Config struct {
	// Command is the engine executable, resolved via PATH when not a path.
	Command string

	// Args are passed to the engine verbatim.
	Args []string

	// Dir is the working directory for the engine. Empty inherits ours.
	Dir string

	// Env entries are appended to the inherited environment.
	Env []string

	// InvokeTimeout bounds one request/response round trip. Zero disables
	// the bound.
	InvokeTimeout time.Duration

	// ShutdownTimeout bounds how long Stop waits after closing the engine's
	// stdin before killing the process.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Command:         "DaxLanguageService",
		InvokeTimeout:   30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// State describes the lifecycle of a session.
type State int32

const (
	// StateIdle means no engine process has been started.
	StateIdle State = iota
	// StateRunning means the engine is running and accepting calls.
	StateRunning
	// StateOutOfSync means a call abandoned its reply; the session refuses
	// further calls until restarted.
	StateOutOfSync
	// StateStopped means the session was stopped.
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateOutOfSync:
		return "out-of-sync"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Session is the lifetime-bound handle over one running engine process.
// Safe for concurrent use; callers queue in arrival order.
type Session struct {
	cfg Config
	id  string
	log *slog.Logger

	// sem is the single-slot invoke semaphore. The holder owns one full
	// write+read round trip against the engine.
	sem chan struct{}

	state atomic.Int32

	mu      sync.RWMutex // guards the per-run fields below across Start/Stop
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	w       *bufio.Writer
	lines   chan []byte
	stopCh  chan struct{}
	exitCh  chan struct{}
	exitErr error
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// New creates a session. No process is started until Start.
func New(cfg Config, opts ...Option) *Session {
	if cfg.Command == "" {
		cfg.Command = DefaultConfig().Command
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	if cfg.InvokeTimeout < 0 {
		cfg.InvokeTimeout = 0
	}
	s := &Session{
		cfg: cfg,
		id:  uuid.NewString(),
		sem: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("session", s.id)
	s.state.Store(int32(StateIdle))
	return s
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// State returns the current session state.
func (s *Session) State() State { return State(s.state.Load()) }

// Start launches the engine process and begins pumping its streams. Starting
// an already-running session fails with ErrAlreadyStarted.
func (s *Session) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StateRunning, StateOutOfSync:
		return ErrAlreadyStarted
	}

	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Dir = s.cfg.Dir
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("start engine %q: %w", s.cfg.Command, err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.w = bufio.NewWriter(stdin)
	s.lines = make(chan []byte, 1)
	s.stopCh = make(chan struct{})
	s.exitCh = make(chan struct{})
	s.exitErr = nil

	var readers sync.WaitGroup
	readers.Add(2)
	go s.readLoop(stdout, s.lines, s.stopCh, &readers)
	go s.drainStderr(stderr, &readers)
	go s.monitor(cmd, s.exitCh, &readers)

	s.state.Store(int32(StateRunning))
	s.log.Info("engine started", "command", s.cfg.Command, "pid", cmd.Process.Pid)
	return nil
}

// Stop closes the engine's stdin to request exit, waits up to the shutdown
// timeout, then kills the process. Safe to call when nothing is running.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.State() {
	case StateRunning, StateOutOfSync:
	default:
		s.mu.Unlock()
		return nil
	}
	s.state.Store(int32(StateStopped))
	cmd := s.cmd
	stdin := s.stdin
	stopCh := s.stopCh
	exitCh := s.exitCh
	s.mu.Unlock()

	close(stopCh)
	if err := stdin.Close(); err != nil {
		s.log.Debug("close engine stdin", "err", err)
	}

	timer := time.NewTimer(s.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-exitCh:
		s.log.Info("engine stopped")
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := cmd.Process.Kill(); err != nil {
		s.log.Debug("kill engine", "err", err)
	}
	<-exitCh
	s.log.Info("engine stopped")
	return nil
}

// Done returns a channel closed once the current engine process exits.
// Nil before the first Start.
func (s *Session) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exitCh
}

// ExitErr returns the engine's exit error once Done is closed.
func (s *Session) ExitErr() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exitErr
}

// Invoke sends one {method, params} request and returns the engine's reply
// line verbatim. Calls are strictly serialized; the slot is held across both
// the write and the read so replies cannot cross between callers.
func (s *Session) Invoke(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := s.checkState(); err != nil {
		return nil, err
	}

	line, err := encodeEnvelope(method, params)
	if err != nil {
		return nil, err
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.sem }()

	// The session may have been stopped or poisoned while we were queued.
	if err := s.checkState(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	w, lines := s.w, s.lines
	s.mu.RUnlock()

	if s.log.Enabled(ctx, slog.LevelDebug) {
		s.log.Debug("engine request", "method", method, "payload", redactFullText(line))
	}

	if _, err := w.Write(line); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("flush request: %w", err)
	}

	var timeoutC <-chan time.Time
	if s.cfg.InvokeTimeout > 0 {
		t := time.NewTimer(s.cfg.InvokeTimeout)
		defer t.Stop()
		timeoutC = t.C
	}

	select {
	case reply, ok := <-lines:
		if !ok {
			if exitErr := s.ExitErr(); exitErr != nil {
				return nil, fmt.Errorf("%w: engine exited: %v", ErrNoResponse, exitErr)
			}
			return nil, fmt.Errorf("%s: %w", method, ErrNoResponse)
		}
		if !gjson.ValidBytes(reply) {
			return nil, fmt.Errorf("%w: %q", ErrMalformedResponse, firstBytes(reply, 120))
		}
		s.log.Debug("engine reply", "method", method, "bytes", len(reply))
		return json.RawMessage(reply), nil
	case <-timeoutC:
		s.poison("timeout waiting for reply")
		return nil, fmt.Errorf("%w after %s", ErrUnresponsive, s.cfg.InvokeTimeout)
	case <-ctx.Done():
		s.poison("caller gave up mid-call")
		return nil, ctx.Err()
	}
}

func (s *Session) checkState() error {
	switch s.State() {
	case StateRunning:
		return nil
	case StateOutOfSync:
		return ErrOutOfSync
	default:
		return ErrNotStarted
	}
}

// poison marks the session out of sync: a request was written whose reply was
// abandoned, so any future reply could belong to it.
func (s *Session) poison(reason string) {
	if s.state.CompareAndSwap(int32(StateRunning), int32(StateOutOfSync)) {
		s.log.Error("session out of sync, restart required", "reason", reason)
	}
}

// readLoop delivers stdout lines one at a time. A partial line at EOF still
// counts as a reply; a stream that ends without one closes the channel.
func (s *Session) readLoop(stdout io.Reader, lines chan<- []byte, stopCh <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(lines)
	r := bufio.NewReader(stdout)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			select {
			case lines <- bytes.TrimRight(line, "\r\n"):
			case <-stopCh:
				// Drain the rest so the engine is not blocked on a full
				// stdout pipe while Stop waits for it.
				_, _ = io.Copy(io.Discard, r)
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// drainStderr keeps the engine from blocking on a full stderr pipe and
// surfaces whatever it prints.
func (s *Session) drainStderr(stderr io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(stderr)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			s.log.Warn("engine stderr", "line", line)
		}
	}
}

// monitor reaps the engine once both pipe readers are finished.
func (s *Session) monitor(cmd *exec.Cmd, exitCh chan struct{}, readers *sync.WaitGroup) {
	readers.Wait()
	err := cmd.Wait()
	s.mu.Lock()
	s.exitErr = err
	s.mu.Unlock()
	close(exitCh)
	if err != nil && s.State() != StateStopped {
		s.log.Warn("engine exited unexpectedly", "err", err)
	} else {
		s.log.Debug("engine exited")
	}
}

// envelope is the request wire form.
type envelope struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

// encodeEnvelope serializes one request as a single newline-terminated JSON
// line. Pre-encoded params carrying literal newlines are rejected because the
// wire protocol frames on newlines.
func encodeEnvelope(method string, params any) ([]byte, error) {
	b, err := json.Marshal(envelope{Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if bytes.IndexByte(b, '\n') >= 0 {
		return nil, fmt.Errorf("%w: embedded newline", ErrInvalidEnvelope)
	}
	return append(b, '\n'), nil
}

// redactFullText strips the document body from a request line so debug logs
// stay readable and do not leak document contents.
func redactFullText(line []byte) string {
	redacted, err := sjson.DeleteBytes(line, "params.fullText")
	if err != nil {
		redacted = line
	}
	return string(bytes.TrimRight(redacted, "\n"))
}

func firstBytes(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
