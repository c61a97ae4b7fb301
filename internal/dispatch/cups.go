package dispatch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"printkiosk/internal/services"
)

// Executor runs a spooler binary and returns its combined output.
type Executor interface {
	Output(ctx context.Context, binary string, args []string) ([]byte, error)
}

// CUPSOption configures a CUPS spooler.
type CUPSOption func(*CUPS)

// WithExecutor injects a custom command executor.
func WithExecutor(exec Executor) CUPSOption {
	return func(c *CUPS) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithLookPath overrides binary discovery.
func WithLookPath(fn func(string) (string, error)) CUPSOption {
	return func(c *CUPS) {
		if fn != nil {
			c.lookPath = fn
		}
	}
}

// CUPS drives lp and lpstat with argument vectors.
type CUPS struct {
	lp       string
	lpstat   string
	exec     Executor
	lookPath func(string) (string, error)
}

// NewCUPS constructs a spooler using the given lp and lpstat binaries.
func NewCUPS(lp, lpstat string, opts ...CUPSOption) *CUPS {
	if strings.TrimSpace(lp) == "" {
		lp = "lp"
	}
	if strings.TrimSpace(lpstat) == "" {
		lpstat = "lpstat"
	}
	c := &CUPS{lp: lp, lpstat: lpstat, exec: commandExecutor{}, lookPath: exec.LookPath}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name identifies the spooler in logs.
func (c *CUPS) Name() string { return "cups" }

// Available reports whether both binaries resolve.
func (c *CUPS) Available() bool {
	if _, err := c.lookPath(c.lp); err != nil {
		return false
	}
	_, err := c.lookPath(c.lpstat)
	return err == nil
}

var requestIDPattern = regexp.MustCompile(`request id is (\S+)`)

// Submit prints req.FilePath and returns the CUPS request id.
func (c *CUPS) Submit(ctx context.Context, req SpoolRequest) (string, error) {
	out, err := c.exec.Output(ctx, c.lp, submitArgs(req))
	if err != nil {
		return "", mapCommandError(err, "submit", out)
	}
	match := requestIDPattern.FindSubmatch(out)
	if match == nil {
		return "", services.Wrap(services.ErrExternalTool, "dispatch", "submit", fmt.Sprintf("lp output had no request id: %q", strings.TrimSpace(string(out))), nil)
	}
	return string(match[1]), nil
}

func submitArgs(req SpoolRequest) []string {
	args := make([]string, 0, 14)
	if printer := strings.TrimSpace(req.Printer); printer != "" {
		args = append(args, "-d", printer)
	}
	args = append(args, "-n", strconv.Itoa(max(req.Copies, 1)))
	if paper := mediaName(req.PaperSize); paper != "" {
		args = append(args, "-o", "media="+paper)
	}
	colorModel := "Gray"
	if req.Color {
		colorModel = "RGB"
	}
	args = append(args, "-o", "ColorModel="+colorModel)
	if title := strings.TrimSpace(req.Title); title != "" {
		args = append(args, "-t", title)
	}
	return append(args, "--", req.FilePath)
}

func mediaName(paper string) string {
	switch strings.ToLower(strings.TrimSpace(paper)) {
	case "a4":
		return "A4"
	case "letter":
		return "Letter"
	default:
		return ""
	}
}

// State asks lpstat for unfinished requests and printer activity. A request
// missing from the unfinished list has completed.
func (c *CUPS) State(ctx context.Context, spoolID string) (SpoolState, error) {
	out, err := c.exec.Output(ctx, c.lpstat, []string{"-W", "not-completed", "-o", "-p"})
	if err != nil {
		return SpoolState{}, mapCommandError(err, "state", out)
	}
	return parseLPStat(string(out), spoolID), nil
}

func parseLPStat(output, spoolID string) SpoolState {
	var queued, printing bool
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == spoolID {
			queued = true
		}
		if strings.Contains(line, "now printing "+spoolID) {
			printing = true
		}
	}
	switch {
	case printing:
		return SpoolState{Phase: PhasePrinting, Message: "Printing"}
	case queued:
		return SpoolState{Phase: PhaseQueued, Message: "Waiting in printer queue"}
	default:
		return SpoolState{Phase: PhaseDone, Message: "Printed"}
	}
}

func mapCommandError(err error, op string, out []byte) error {
	if errors.Is(err, exec.ErrNotFound) {
		return services.Wrap(services.ErrToolUnavailable, "dispatch", op, "spooler binary not found", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "dispatch", op, "spooler command timed out", err)
	}
	detail := strings.TrimSpace(string(out))
	if detail == "" {
		detail = "spooler command failed"
	}
	return services.Wrap(services.ErrExternalTool, "dispatch", op, detail, err)
}

type commandExecutor struct{}

func (commandExecutor) Output(ctx context.Context, binary string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	return cmd.CombinedOutput()
}
