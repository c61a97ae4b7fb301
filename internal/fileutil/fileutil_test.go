package fileutil

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCopyFileVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.docx")
	dst := filepath.Join(dir, "dst.docx")

	content := bytes.Repeat([]byte("kiosk document "), 4096)
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}

	digest, err := CopyFileVerified(src, dst)
	if err != nil {
		t.Fatal(err)
	}
	if digest.Size != int64(len(content)) {
		t.Fatalf("size = %d, want %d", digest.Size, len(content))
	}
	got, err := HashFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Matches(digest) {
		t.Fatalf("destination digest %+v does not match %+v", got, digest)
	}
}

func TestCopyFileVerifiedMissingSource(t *testing.T) {
	dir := t.TempDir()
	if _, err := CopyFileVerified(filepath.Join(dir, "missing"), filepath.Join(dir, "dst")); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestWriteLimited(t *testing.T) {
	dir := t.TempDir()

	dst := filepath.Join(dir, "ok.txt")
	digest, err := WriteLimited(strings.NewReader("hello"), dst, 5)
	if err != nil {
		t.Fatalf("WriteLimited returned error: %v", err)
	}
	if digest.Size != 5 {
		t.Fatalf("size = %d, want 5", digest.Size)
	}

	over := filepath.Join(dir, "over.txt")
	_, err = WriteLimited(strings.NewReader("hello!"), over, 5)
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
	if _, statErr := os.Stat(over); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("expected oversized output removed, got %v", statErr)
	}
}

func TestPublishFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "out.pdf")
	if err := os.WriteFile(src, []byte("%PDF-1.4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "artifacts", "job.pdf")
	if _, err := PublishFile(src, dst); err != nil {
		t.Fatalf("PublishFile returned error: %v", err)
	}
	if _, err := os.Stat(dst + ".partial"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected temporary file to be gone, got %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "%PDF-1.4\n" {
		t.Fatalf("unexpected published content %q err=%v", data, err)
	}
}
