package connector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/log"
	"github.com/mattjoyce/courier/internal/protocol"
)

const (
	// DefaultTimeout applies when a request carries no deadline.
	DefaultTimeout = 60 * time.Second

	// maxStderrBytes caps the amount of stderr captured from a connector.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// ErrUnknownConnector is returned for calls naming no registered connector.
var ErrUnknownConnector = errors.New("unknown connector")

// Client runs connector executables, one subprocess per request.
type Client struct {
	registry *Registry
	logger   *slog.Logger
	grace    time.Duration
}

func NewClient(reg *Registry, logger *slog.Logger) *Client {
	if logger == nil {
		logger = log.WithComponent("connector")
	}
	return &Client{registry: reg, logger: logger, grace: terminationGracePeriod}
}

// Supports reports whether the named connector exists and declared t.
func (c *Client) Supports(name string, t command.Type) bool {
	conn, ok := c.registry.Get(name)
	return ok && conn.Supports(t)
}

// Origin returns the origin type the named connector speaks, if known.
func (c *Client) Origin(name string) (string, bool) {
	conn, ok := c.registry.Get(name)
	if !ok {
		return "", false
	}
	return conn.Origin, true
}

// Call spawns the connector, writes req to its stdin and decodes the
// response from its stdout. The process is bounded by req.DeadlineAt; on
// expiry it gets SIGTERM, then SIGKILL after a grace period, and Call
// returns an error wrapping context.DeadlineExceeded.
func (c *Client) Call(ctx context.Context, name string, req *protocol.Request) (*protocol.Response, error) {
	conn, ok := c.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConnector, name)
	}

	if req.Protocol == 0 {
		req.Protocol = protocol.Version
	}
	if req.DeadlineAt.IsZero() {
		req.DeadlineAt = time.Now().Add(DefaultTimeout)
	}
	timeout := time.Until(req.DeadlineAt)
	if timeout <= 0 {
		return nil, fmt.Errorf("connector %s: deadline already passed: %w", name, context.DeadlineExceeded)
	}

	logger := c.logger.With("connector", name, "execution_id", req.ExecutionID, "command", req.Command)
	resp, stderr, err := c.spawn(ctx, conn.Entrypoint, req, timeout, logger)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("connector %s timed out after %v: %w", name, timeout.Round(time.Millisecond), err)
		}
		if tail := lastLine(stderr); tail != "" {
			return nil, fmt.Errorf("connector %s: %w (stderr: %s)", name, err, tail)
		}
		return nil, fmt.Errorf("connector %s: %w", name, err)
	}

	for _, entry := range resp.Logs {
		logger.Log(ctx, log.ParseLevel(entry.Level), "connector log", "message", entry.Message)
	}
	return resp, nil
}

func (c *Client) spawn(
	ctx context.Context,
	entrypoint string,
	req *protocol.Request,
	timeout time.Duration,
	logger *slog.Logger,
) (*protocol.Response, string, error) {
	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	// Termination is managed here, not through exec.CommandContext.
	cmd := exec.Command(entrypoint)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning connector", "entrypoint", entrypoint, "timeout", timeout)
	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start process: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		if err := protocol.EncodeRequest(stdin, req); err != nil {
			writeErr <- fmt.Errorf("encode request: %w", err)
			return
		}
		writeErr <- nil
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var stopCause error
	select {
	case <-timeoutTimer.C:
		logger.Warn("connector timed out, sending SIGTERM")
		stopCause = context.DeadlineExceeded
	case <-ctx.Done():
		logger.Warn("connector call cancelled, sending SIGTERM")
		stopCause = ctx.Err()
	case err := <-waitErr:
		stderrStr := truncateStderr(stderr.String())
		if werr := <-writeErr; werr != nil {
			return nil, stderrStr, werr
		}
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return nil, stderrStr, fmt.Errorf("wait for process: %w", err)
			}
			logger.Warn("connector exited with non-zero status", "exit_code", exitErr.ExitCode())
		}

		resp, raw, err := protocol.DecodeResponseLenient(bytes.NewReader(stdout.Bytes()))
		if err != nil {
			logger.Error("failed to decode connector response", "error", err, "stdout", string(raw))
			return nil, stderrStr, fmt.Errorf("decode response: %w", err)
		}
		return resp, stderrStr, nil
	}

	c.terminate(cmd, waitErr, logger)
	return nil, truncateStderr(stderr.String()), stopCause
}

// terminate sends SIGTERM, waits for the grace period and then SIGKILLs.
func (c *Client) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(c.grace)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("connector exited after SIGTERM")
	case <-grace.C:
		logger.Warn("connector did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}

func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
