package office

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"printkiosk/internal/logging"
	"printkiosk/internal/services"
)

const (
	stageName     = "engine"
	killWaitDelay = 3 * time.Second
)

// Executor abstracts command execution for testability. onStart receives the
// pid of the spawned process (which is also its process group id).
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onStart func(pid int), onOutput func(string)) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "office-engine")
	}
}

// WithPIDFile records the running engine pid at path so a later process can
// reap it after a crash.
func WithPIDFile(path string) Option {
	return func(c *Client) {
		c.pidFile = strings.TrimSpace(path)
	}
}

// WithLookPath overrides binary discovery (primarily for tests).
func WithLookPath(fn func(string) (string, error)) Option {
	return func(c *Client) {
		if fn != nil {
			c.lookPath = fn
		}
	}
}

// WithKill overrides the process group signal function (primarily for tests).
func WithKill(fn func(pid int) error) Option {
	return func(c *Client) {
		if fn != nil {
			c.kill = fn
		}
	}
}

// Client wraps the office engine CLI.
type Client struct {
	binary   string
	timeout  time.Duration
	exec     Executor
	logger   *slog.Logger
	pidFile  string
	lookPath func(string) (string, error)
	kill     func(pid int) error

	mu      sync.Mutex
	running int
}

// New constructs an engine client.
func New(binary string, timeout time.Duration, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("engine binary required")
	}
	client := &Client{
		binary:   binary,
		timeout:  timeout,
		exec:     commandExecutor{},
		logger:   logging.NewNop(),
		lookPath: exec.LookPath,
		kill:     killProcessGroup,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Binary returns the configured engine executable.
func (c *Client) Binary() string {
	return c.binary
}

// Timeout returns the per-run wall-clock bound.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Available reports whether the engine binary can be resolved.
func (c *Client) Available() bool {
	_, err := c.lookPath(c.binary)
	return err == nil
}

// Convert renders inputPath to PDF inside outDir and returns the path the
// engine is expected to produce. The caller verifies that the file exists.
func (c *Client) Convert(ctx context.Context, inputPath, outDir string) (string, error) {
	if _, err := c.lookPath(c.binary); err != nil {
		return "", services.Wrap(services.ErrToolUnavailable, stageName, "lookup", fmt.Sprintf("engine %q not found", c.binary), err)
	}

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	profileDir := filepath.Join(outDir, ".profile")
	args := []string{
		"-env:UserInstallation=file://" + filepath.ToSlash(profileDir),
		"--headless",
		"--norestore",
		"--nolockcheck",
		"--nodefault",
		"--convert-to", "pdf",
		"--outdir", outDir,
		inputPath,
	}

	started := time.Now()
	var tail outputTail
	err := c.exec.Run(runCtx, c.binary, args, c.track, tail.add)
	c.untrack()

	if err != nil {
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return "", services.Wrap(services.ErrTimeout, stageName, "convert",
				fmt.Sprintf("engine exceeded %s", c.timeout), err)
		case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
			return "", services.Wrap(services.ErrToolUnavailable, stageName, "convert", "engine not runnable", err)
		case ctx.Err() != nil:
			return "", ctx.Err()
		default:
			return "", services.Wrap(services.ErrExternalTool, stageName, "convert", tail.String(), err)
		}
	}

	c.logger.Debug("engine run finished",
		logging.String("input", filepath.Base(inputPath)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return ExpectedOutput(inputPath, outDir), nil
}

// ExpectedOutput returns the deterministic output name the engine uses for an input.
func ExpectedOutput(inputPath, outDir string) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(outDir, stem+".pdf")
}

// KillStray terminates the engine started by this client, if any, and the
// instance recorded in the pid file by a previous service lifetime. A missing
// process is not an error.
func (c *Client) KillStray() error {
	var errs []error

	c.mu.Lock()
	pid := c.running
	c.mu.Unlock()
	if pid > 0 {
		if err := c.kill(pid); err != nil {
			errs = append(errs, err)
		} else {
			c.logger.Info("killed running engine", logging.Int("pid", pid), logging.String(logging.FieldEventType, "engine_killed"))
		}
	}

	if recorded := c.readPIDFile(); recorded > 0 && recorded != pid {
		if err := c.kill(recorded); err != nil {
			errs = append(errs, err)
		} else {
			c.logger.Info("killed stray engine from previous run",
				logging.Int("pid", recorded),
				logging.String(logging.FieldEventType, "engine_stray_killed"),
			)
		}
		c.clearPIDFile()
	}
	return errors.Join(errs...)
}

func (c *Client) track(pid int) {
	c.mu.Lock()
	c.running = pid
	c.mu.Unlock()
	if c.pidFile == "" {
		return
	}
	if err := os.WriteFile(c.pidFile, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		logging.WarnWithContext(c.logger, "failed to record engine pid", "engine_pidfile_write_failed",
			logging.Error(err),
			logging.String("path", c.pidFile),
			logging.String(logging.FieldImpact, "a crashed engine may survive a service restart"),
		)
	}
}

func (c *Client) untrack() {
	c.mu.Lock()
	c.running = 0
	c.mu.Unlock()
	c.clearPIDFile()
}

func (c *Client) readPIDFile() int {
	if c.pidFile == "" {
		return 0
	}
	data, err := os.ReadFile(c.pidFile)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 1 {
		return 0
	}
	return pid
}

func (c *Client) clearPIDFile() {
	if c.pidFile == "" {
		return
	}
	_ = os.Remove(c.pidFile)
}

// killProcessGroup sends SIGKILL to the whole group led by pid.
func killProcessGroup(pid int) error {
	if pid <= 1 {
		return nil
	}
	err := unix.Kill(-pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// outputTail keeps the last few engine output lines for error messages.
type outputTail struct {
	mu    sync.Mutex
	lines []string
}

func (t *outputTail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > 5 {
		t.lines = t.lines[len(t.lines)-5:]
	}
}

func (t *outputTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) == 0 {
		return "engine exited with an error"
	}
	return strings.Join(t.lines, " | ")
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onStart func(pid int), onOutput func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return killProcessGroup(cmd.Process.Pid)
	}
	cmd.WaitDelay = killWaitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}
	if onStart != nil {
		onStart(cmd.Process.Pid)
	}

	var wg sync.WaitGroup
	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if onOutput != nil {
				onOutput(scanner.Text())
			}
		}
	}
	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}
