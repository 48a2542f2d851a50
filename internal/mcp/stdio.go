package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// stopGrace is how long a subprocess gets to exit after stdin closes.
const stopGrace = 5 * time.Second

// StdioConfig configures a subprocess MCP server.
type StdioConfig struct {
	Command string
	Args    []string
	// Env entries (KEY=VALUE) are appended to the current environment.
	Env    []string
	Logger *slog.Logger
}

// StdioTransport talks to an MCP server running as a subprocess.
// Messages are newline-delimited JSON on stdin and stdout. The
// subprocess starts on first use and restarts after a failure.
type StdioTransport struct {
	config StdioConfig
	logger *slog.Logger

	// sem serializes use of the pipes. A channel instead of a mutex so
	// waiting honors the caller's context.
	sem chan struct{}

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
}

// NewStdioTransport creates a stdio transport. The subprocess is not
// started until the first Send or Notify.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		config: cfg,
		logger: logger.With("command", cfg.Command),
		sem:    make(chan struct{}, 1),
	}
}

// acquire takes the pipe semaphore or fails with the context's error.
func (t *StdioTransport) acquire(ctx context.Context) error {
	select {
	case t.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	// Both cases may be ready at once; never proceed on a dead context.
	if err := ctx.Err(); err != nil {
		t.release()
		return err
	}
	return nil
}

func (t *StdioTransport) release() {
	<-t.sem
}

// start launches the subprocess if it is not running. The process
// outlives individual calls; only cleanup and stop end it. Caller
// holds the semaphore.
func (t *StdioTransport) start() error {
	if t.cmd != nil {
		return nil
	}

	cmd := exec.Command(t.config.Command, t.config.Args...)
	cmd.Env = append(os.Environ(), t.config.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("start %s: %w", t.config.Command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.reader = bufio.NewReaderSize(stdout, 1<<20)
	go t.drainStderr(stderr)

	t.logger.Info("MCP subprocess started", "pid", cmd.Process.Pid, "args", t.config.Args)
	return nil
}

// drainStderr logs the subprocess's stderr at debug level.
func (t *StdioTransport) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		t.logger.Debug("MCP subprocess stderr", "line", scanner.Text())
	}
}

func (t *StdioTransport) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		t.cleanup()
		return fmt.Errorf("write to subprocess: %w", err)
	}
	return nil
}

type readResult struct {
	line []byte
	err  error
}

// Send writes req and reads lines until the matching response arrives.
// A cancelled context kills the subprocess to unblock the read; the
// next call starts a fresh one.
func (t *StdioTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	if err := t.acquire(ctx); err != nil {
		return nil, err
	}
	defer t.release()

	if err := t.start(); err != nil {
		return nil, err
	}
	if err := t.write(req); err != nil {
		return nil, err
	}

	for {
		ch := make(chan readResult, 1)
		reader := t.reader
		go func() {
			line, err := reader.ReadBytes('\n')
			ch <- readResult{line: line, err: err}
		}()

		select {
		case <-ctx.Done():
			t.cleanup()
			return nil, ctx.Err()
		case res := <-ch:
			if res.err != nil {
				t.cleanup()
				return nil, fmt.Errorf("read from subprocess: %w", res.err)
			}

			var resp Response
			if err := json.Unmarshal(res.line, &resp); err != nil {
				t.logger.Debug("skipping non-JSON line from MCP subprocess", "line", string(res.line))
				continue
			}
			if resp.isResponseTo(req.ID) {
				return &resp, nil
			}
			t.logger.Debug("skipping unmatched MCP message", "id", resp.ID, "method", resp.Method)
		}
	}
}

// Notify writes a notification.
func (t *StdioTransport) Notify(ctx context.Context, notif *Notification) error {
	if err := t.acquire(ctx); err != nil {
		return err
	}
	defer t.release()

	if err := t.start(); err != nil {
		return err
	}
	return t.write(notif)
}

// Close stops the subprocess. It waits for any in-flight call.
func (t *StdioTransport) Close() error {
	if err := t.acquire(context.Background()); err != nil {
		return err
	}
	defer t.release()
	return t.stop()
}

// stop closes stdin and waits for the subprocess to exit, killing it
// after stopGrace. Caller holds the semaphore.
func (t *StdioTransport) stop() error {
	if t.cmd == nil {
		return nil
	}
	cmd := t.cmd
	t.logger.Info("stopping MCP subprocess", "pid", cmd.Process.Pid)

	if t.stdin != nil {
		t.stdin.Close()
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(stopGrace):
		t.logger.Warn("MCP subprocess did not exit, killing", "pid", cmd.Process.Pid)
		_ = cmd.Process.Kill()
		<-done
	}
	t.cmd, t.stdin, t.reader = nil, nil, nil
	return err
}

// cleanup kills the subprocess after a failure. Caller holds the
// semaphore.
func (t *StdioTransport) cleanup() {
	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.cmd != nil {
		_ = t.cmd.Process.Kill()
		_ = t.cmd.Wait()
	}
	t.cmd, t.stdin, t.reader = nil, nil, nil
}
