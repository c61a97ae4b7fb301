package office_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"printkiosk/internal/services"
	"printkiosk/internal/services/office"
)

type stubExecutor struct {
	mu     sync.Mutex
	lines  []string
	err    error
	block  bool
	pid    int
	calls  int
	args   [][]string
	create bool
}

func (s *stubExecutor) Run(ctx context.Context, binary string, args []string, onStart func(int), onOutput func(string)) error {
	s.mu.Lock()
	s.calls++
	s.args = append(s.args, append([]string(nil), args...))
	s.mu.Unlock()
	if onStart != nil && s.pid > 0 {
		onStart(s.pid)
	}
	for _, line := range s.lines {
		onOutput(line)
	}
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.create && s.err == nil {
		input := args[len(args)-1]
		outDir := ""
		for i, arg := range args {
			if arg == "--outdir" && i+1 < len(args) {
				outDir = args[i+1]
			}
		}
		if err := os.WriteFile(office.ExpectedOutput(input, outDir), []byte("%PDF-1.4\n"), 0o644); err != nil {
			return err
		}
	}
	return s.err
}

func found(string) (string, error) { return "/usr/bin/soffice", nil }

func TestConvertBuildsHeadlessArgumentVector(t *testing.T) {
	dir := t.TempDir()
	stub := &stubExecutor{create: true}
	client, err := office.New("soffice", time.Second, office.WithExecutor(stub), office.WithLookPath(found))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	input := filepath.Join(dir, "input-abc.docx")
	out, err := client.Convert(context.Background(), input, dir)
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if out != filepath.Join(dir, "input-abc.pdf") {
		t.Fatalf("unexpected output path %q", out)
	}
	if stub.calls != 1 {
		t.Fatalf("expected one engine run, got %d", stub.calls)
	}
	args := stub.args[0]
	for _, want := range []string{"--headless", "--convert-to", "pdf", "--outdir", dir, input} {
		if !slices.Contains(args, want) {
			t.Fatalf("expected %q in args %v", want, args)
		}
	}
	if args[len(args)-1] != input {
		t.Fatalf("expected input as final argument, got %v", args)
	}
}

func TestConvertTimesOutHungEngine(t *testing.T) {
	stub := &stubExecutor{block: true}
	client, err := office.New("soffice", 50*time.Millisecond, office.WithExecutor(stub), office.WithLookPath(found))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	started := time.Now()
	_, err = client.Convert(context.Background(), "/tmp/in.docx", t.TempDir())
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Fatalf("timeout not enforced, took %s", elapsed)
	}
}

func TestConvertMapsFailures(t *testing.T) {
	t.Run("missing binary", func(t *testing.T) {
		client, _ := office.New("soffice", time.Second,
			office.WithExecutor(&stubExecutor{}),
			office.WithLookPath(func(string) (string, error) { return "", exec.ErrNotFound }),
		)
		_, err := client.Convert(context.Background(), "/tmp/in.docx", t.TempDir())
		if !errors.Is(err, services.ErrToolUnavailable) {
			t.Fatalf("expected tool unavailable, got %v", err)
		}
		if client.Available() {
			t.Fatal("expected Available to report false")
		}
	})

	t.Run("non-zero exit", func(t *testing.T) {
		stub := &stubExecutor{lines: []string{"Error: source file could not be loaded"}, err: errors.New("exit status 1")}
		client, _ := office.New("soffice", time.Second, office.WithExecutor(stub), office.WithLookPath(found))
		_, err := client.Convert(context.Background(), "/tmp/in.docx", t.TempDir())
		if !errors.Is(err, services.ErrExternalTool) {
			t.Fatalf("expected external tool error, got %v", err)
		}
		if !services.Recoverable(err) {
			t.Fatal("expected engine failure to be recoverable")
		}
	})
}

func TestKillStrayUsesRecordedPID(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "engine.pid")
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(4242)), 0o644); err != nil {
		t.Fatalf("write pid file: %v", err)
	}

	var killed []int
	client, err := office.New("soffice", time.Second,
		office.WithPIDFile(pidFile),
		office.WithKill(func(pid int) error { killed = append(killed, pid); return nil }),
	)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := client.KillStray(); err != nil {
		t.Fatalf("KillStray returned error: %v", err)
	}
	if !slices.Equal(killed, []int{4242}) {
		t.Fatalf("expected recorded pid to be killed, got %v", killed)
	}
	if _, err := os.Stat(pidFile); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected pid file removal, got err=%v", err)
	}
}

func TestConvertClearsPIDFileAfterRun(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "engine.pid")
	stub := &stubExecutor{pid: 777, create: true}
	client, _ := office.New("soffice", time.Second,
		office.WithExecutor(stub),
		office.WithLookPath(found),
		office.WithPIDFile(pidFile),
	)
	if _, err := client.Convert(context.Background(), filepath.Join(dir, "a.txt"), dir); err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if _, err := os.Stat(pidFile); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected pid file cleared after run, got err=%v", err)
	}
}
