package conversion_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"printkiosk/internal/conversion"
	"printkiosk/internal/pdfwriter"
	"printkiosk/internal/services"
	"printkiosk/internal/services/office"
	"printkiosk/internal/workspace"
)

type stubEngine struct {
	mu      sync.Mutex
	calls   int
	kills   int
	err     error
	produce func(outPath string) error
}

func (s *stubEngine) Convert(ctx context.Context, inputPath, outDir string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	out := office.ExpectedOutput(inputPath, outDir)
	if s.produce != nil {
		if err := s.produce(out); err != nil {
			return "", err
		}
	}
	return out, nil
}

func (s *stubEngine) KillStray() error {
	s.mu.Lock()
	s.kills++
	s.mu.Unlock()
	return nil
}

type blockingExecutor struct{}

func (blockingExecutor) Run(ctx context.Context, _ string, _ []string, _ func(int), _ func(string)) error {
	<-ctx.Done()
	return ctx.Err()
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string) (conversion.Published, error) {
	return conversion.Published{}, errors.New("disk full")
}

type fixture struct {
	ws          *workspace.Manager
	publisher   *conversion.DirPublisher
	artifactDir string
	inputDir    string
}

func newFixture(t *testing.T, wsOpts ...workspace.Option) fixture {
	t.Helper()
	base := t.TempDir()
	ws, err := workspace.New(filepath.Join(base, "ws"), wsOpts...)
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	artifactDir := filepath.Join(base, "artifacts")
	pub, err := conversion.NewDirPublisher(artifactDir)
	if err != nil {
		t.Fatalf("NewDirPublisher: %v", err)
	}
	inputDir := filepath.Join(base, "in")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		t.Fatal(err)
	}
	return fixture{ws: ws, publisher: pub, artifactDir: artifactDir, inputDir: inputDir}
}

func (f fixture) write(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(f.inputDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writePDF(text string) func(string) error {
	return func(out string) error {
		_, err := pdfwriter.WriteFile(out, text, pdfwriter.Options{})
		return err
	}
}

func placedInputs(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "input-*"))
	if err != nil {
		t.Fatal(err)
	}
	return matches
}

func TestConvertUsesEngineOutput(t *testing.T) {
	fx := newFixture(t)
	engine := &stubEngine{produce: writePDF("page one\fpage two")}
	coord := conversion.NewCoordinator(fx.ws, engine, conversion.WithPublisher(fx.publisher))

	src := fx.write(t, "letter.docx", []byte("PK fake docx"))
	result, err := coord.Convert(context.Background(), conversion.Request{SourcePath: src})
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if result.UsedFallback || result.Engine != conversion.EngineOffice {
		t.Fatalf("expected primary engine result, got %+v", result)
	}
	if result.PageCount != 2 {
		t.Fatalf("expected 2 pages, got %d", result.PageCount)
	}
	if !strings.HasPrefix(result.URL, conversion.ArtifactURLPrefix) {
		t.Fatalf("unexpected url %q", result.URL)
	}
	if filepath.Dir(result.ArtifactPath) != fx.artifactDir {
		t.Fatalf("artifact not published into artifact dir: %q", result.ArtifactPath)
	}
	if _, err := os.Stat(result.ArtifactPath); err != nil {
		t.Fatalf("published artifact missing: %v", err)
	}
	if left := placedInputs(t, fx.ws.Dir()); len(left) != 0 {
		t.Fatalf("expected workspace cleaned, found %v", left)
	}
	if engine.kills < 2 {
		t.Fatalf("expected stray engine kill before and after the run, got %d", engine.kills)
	}
}

func TestConvertFallbackNeverBlocks(t *testing.T) {
	fx := newFixture(t)
	client, err := office.New("soffice", 100*time.Millisecond,
		office.WithExecutor(blockingExecutor{}),
		office.WithLookPath(func(string) (string, error) { return "/usr/bin/soffice", nil }),
	)
	if err != nil {
		t.Fatal(err)
	}
	coord := conversion.NewCoordinator(fx.ws, client, conversion.WithPublisher(fx.publisher))

	src := fx.write(t, "notes.txt", []byte("Meeting notes\nBring receipts"))
	started := time.Now()
	result, err := coord.Convert(context.Background(), conversion.Request{SourcePath: src})
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Fatalf("conversion blocked for %s", elapsed)
	}
	if !result.UsedFallback || result.PageCount < 1 {
		t.Fatalf("expected fallback result with pages, got %+v", result)
	}
	if n, err := pdfwriter.CountPages(result.ArtifactPath); err != nil || n != result.PageCount {
		t.Fatalf("published fallback unreadable: pages=%d err=%v", n, err)
	}
}

func TestConvertIntegrityFailureStopsBeforeEngine(t *testing.T) {
	truncating := func(src, dst string) error {
		data, err := os.ReadFile(src)
		if err != nil {
			return err
		}
		return os.WriteFile(dst, data[:len(data)*99/100], 0o644)
	}
	fx := newFixture(t, workspace.WithCopier(truncating))
	engine := &stubEngine{produce: writePDF("never")}
	coord := conversion.NewCoordinator(fx.ws, engine, conversion.WithPublisher(fx.publisher))

	src := fx.write(t, "big.docx", bytes.Repeat([]byte("x"), 10<<20))
	_, err := coord.Convert(context.Background(), conversion.Request{SourcePath: src})
	if !errors.Is(err, services.ErrIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
	if engine.calls != 0 {
		t.Fatalf("engine must not run after a failed integrity check, ran %d times", engine.calls)
	}
}

func TestConvertRejectsInvalidInput(t *testing.T) {
	fx := newFixture(t)
	engine := &stubEngine{}
	coord := conversion.NewCoordinator(fx.ws, engine,
		conversion.WithPublisher(fx.publisher),
		conversion.WithMaxInputBytes(16),
	)

	tests := []struct {
		name   string
		req    conversion.Request
		tooBig bool
	}{
		{"missing file", conversion.Request{SourcePath: filepath.Join(fx.inputDir, "missing.docx")}, false},
		{"directory", conversion.Request{SourcePath: fx.inputDir}, false},
		{"oversized file", conversion.Request{SourcePath: fx.write(t, "huge.docx", bytes.Repeat([]byte("a"), 17))}, true},
		{"oversized bytes", conversion.Request{SourceBytes: bytes.Repeat([]byte("a"), 17)}, true},
		{"oversized stream", conversion.Request{SourceReader: bytes.NewReader(bytes.Repeat([]byte("a"), 64)), OriginalFileName: "x.txt"}, true},
		{"empty request", conversion.Request{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := coord.Convert(context.Background(), tc.req)
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if tc.tooBig && !errors.Is(err, services.ErrTooLarge) {
				t.Fatalf("expected too large marker, got %v", err)
			}
			if services.Recoverable(err) {
				t.Fatal("validation errors must not fall back")
			}
		})
	}
	if engine.calls != 0 {
		t.Fatalf("engine ran for invalid input %d times", engine.calls)
	}
}

func TestConvertEmptyEngineOutputFallsBack(t *testing.T) {
	fx := newFixture(t)
	engine := &stubEngine{produce: func(out string) error { return os.WriteFile(out, nil, 0o644) }}
	coord := conversion.NewCoordinator(fx.ws, engine,
		conversion.WithPublisher(fx.publisher),
		conversion.WithSettle(100*time.Millisecond),
	)

	src := fx.write(t, "memo.odt", []byte("not really a package"))
	result, err := coord.Convert(context.Background(), conversion.Request{SourcePath: src})
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if !result.UsedFallback || result.Engine != conversion.EngineFallback {
		t.Fatalf("expected fallback after empty output, got %+v", result)
	}
}

func TestConvertMissingOutputFallsBack(t *testing.T) {
	fx := newFixture(t)
	engine := &stubEngine{}
	coord := conversion.NewCoordinator(fx.ws, engine,
		conversion.WithPublisher(fx.publisher),
		conversion.WithSettle(50*time.Millisecond),
	)

	result, err := coord.Convert(context.Background(), conversion.Request{
		SourceBytes:      []byte("plain words"),
		OriginalFileName: "words.rtf",
	})
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if !result.UsedFallback {
		t.Fatalf("expected fallback when output never appears, got %+v", result)
	}
}

func TestConvertPassesPDFThrough(t *testing.T) {
	fx := newFixture(t)
	engine := &stubEngine{}
	coord := conversion.NewCoordinator(fx.ws, engine, conversion.WithPublisher(fx.publisher))

	var buf bytes.Buffer
	if _, err := pdfwriter.Write(&buf, "one\ftwo\fthree", pdfwriter.Options{}); err != nil {
		t.Fatal(err)
	}
	result, err := coord.Convert(context.Background(), conversion.Request{
		SourceReader:     bytes.NewReader(buf.Bytes()),
		OriginalFileName: "scan.pdf",
		DeclaredMimeType: "application/pdf",
	})
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if result.Engine != conversion.EnginePassthrough || result.PageCount != 3 || result.UsedFallback {
		t.Fatalf("unexpected passthrough result %+v", result)
	}
	if engine.calls != 0 {
		t.Fatal("engine must not run for pdf input")
	}
}

func TestConvertNoEngineUsesFallback(t *testing.T) {
	fx := newFixture(t)
	coord := conversion.NewCoordinator(fx.ws, nil, conversion.WithPublisher(fx.publisher))
	result, err := coord.Convert(context.Background(), conversion.Request{SourceBytes: []byte("hello"), OriginalFileName: "a.txt"})
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if !result.UsedFallback {
		t.Fatalf("expected fallback without an engine, got %+v", result)
	}
}

func TestConvertPublishFailureIsConversionFailure(t *testing.T) {
	fx := newFixture(t)
	coord := conversion.NewCoordinator(fx.ws, &stubEngine{produce: writePDF("x")}, conversion.WithPublisher(failingPublisher{}))
	_, err := coord.Convert(context.Background(), conversion.Request{SourceBytes: []byte("hello"), OriginalFileName: "a.doc"})
	if !errors.Is(err, services.ErrConversionFailed) {
		t.Fatalf("expected conversion failed, got %v", err)
	}
	if services.HTTPStatus(err) != 500 {
		t.Fatalf("expected server error status, got %d", services.HTTPStatus(err))
	}
}

func TestConvertSerializesRequests(t *testing.T) {
	fx := newFixture(t)
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	engine := &stubEngine{produce: func(out string) error {
		mu.Lock()
		active++
		maxSeen = max(maxSeen, active)
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return writePDF("x")(out)
	}}
	coord := conversion.NewCoordinator(fx.ws, engine, conversion.WithPublisher(fx.publisher))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data := []byte(strings.Repeat("doc", i+1))
			if _, err := coord.Convert(context.Background(), conversion.Request{SourceBytes: data, OriginalFileName: "a.docx"}); err != nil {
				t.Errorf("Convert %d returned error: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("expected single-flight engine runs, saw %d concurrent", maxSeen)
	}
}
