package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrLimitExceeded is returned when a stream is longer than the permitted size.
var ErrLimitExceeded = errors.New("size limit exceeded")

// Digest identifies file content by size and SHA-256.
type Digest struct {
	Size   int64
	SHA256 string
}

// Matches reports whether two digests describe identical content.
func (d Digest) Matches(other Digest) bool {
	return d.Size == other.Size && d.SHA256 == other.SHA256
}

// HashFile returns the digest of the file at path.
func HashFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()
	hasher := sha256.New()
	n, err := io.Copy(hasher, f)
	if err != nil {
		return Digest{}, fmt.Errorf("hash %s: %w", filepath.Base(path), err)
	}
	return Digest{Size: n, SHA256: hex.EncodeToString(hasher.Sum(nil))}, nil
}

// CopyFileVerified streams src to dst and confirms the written size and hash
// against the source. dst is removed on mismatch.
func CopyFileVerified(src, dst string) (Digest, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return Digest{}, fmt.Errorf("stat source: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return Digest{}, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return Digest{}, err
	}
	defer func() {
		_ = out.Close()
	}()

	srcHasher := sha256.New()
	written, err := io.Copy(out, io.TeeReader(in, srcHasher))
	if err != nil {
		_ = os.Remove(dst)
		return Digest{}, err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return Digest{}, err
	}

	want := Digest{Size: srcInfo.Size(), SHA256: hex.EncodeToString(srcHasher.Sum(nil))}
	if written != want.Size {
		_ = os.Remove(dst)
		return Digest{}, fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", want.Size, written)
	}
	got, err := HashFile(dst)
	if err != nil {
		_ = os.Remove(dst)
		return Digest{}, err
	}
	if !got.Matches(want) {
		_ = os.Remove(dst)
		return Digest{}, errors.New("copy hash mismatch: file corrupted during copy")
	}
	return want, nil
}

// WriteLimited streams r into dst, failing with ErrLimitExceeded once more
// than limit bytes arrive. A non-positive limit disables the check.
func WriteLimited(r io.Reader, dst string, limit int64) (Digest, error) {
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return Digest{}, err
	}
	defer func() {
		_ = out.Close()
	}()

	source := r
	if limit > 0 {
		source = io.LimitReader(r, limit+1)
	}
	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(out, hasher), source)
	if err != nil {
		_ = os.Remove(dst)
		return Digest{}, err
	}
	if limit > 0 && written > limit {
		_ = os.Remove(dst)
		return Digest{}, fmt.Errorf("%w: more than %d bytes", ErrLimitExceeded, limit)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return Digest{}, err
	}
	return Digest{Size: written, SHA256: hex.EncodeToString(hasher.Sum(nil))}, nil
}

// PublishFile copies src to dst through a temporary sibling and renames it into
// place, so readers never observe a partially written dst.
func PublishFile(src, dst string) (Digest, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Digest{}, fmt.Errorf("create destination dir: %w", err)
	}
	tmp := dst + ".partial"
	digest, err := CopyFileVerified(src, tmp)
	if err != nil {
		return Digest{}, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return Digest{}, fmt.Errorf("rename into place: %w", err)
	}
	return digest, nil
}
