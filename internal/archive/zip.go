// Package archive extracts zip archives without letting member paths
// escape the destination directory.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrPathTraversal = errors.New("zip member escapes destination")

// IsZip reports whether path names a readable zip archive.
func IsZip(path string) bool {
	r, err := zip.OpenReader(path)
	if err != nil {
		return false
	}
	_ = r.Close()
	return true
}

// Extract unpacks the archive at src into dest and returns the number
// of extracted file members. Every member path is validated against the
// canonicalized destination before anything is written; a single
// offending member fails the whole extraction.
func Extract(src, dest string) (int, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		return 0, fmt.Errorf("opening zip %s: %w", src, err)
	}
	defer func() {
		_ = r.Close()
	}()
	return extract(&r.Reader, dest)
}

func extract(r *zip.Reader, dest string) (int, error) {
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return 0, fmt.Errorf("resolving destination %s: %w", dest, err)
	}

	// Fail closed: validate all member names before extracting any.
	for _, f := range r.File {
		if _, err := memberPath(absDest, f.Name); err != nil {
			return 0, err
		}
	}

	var count int
	for _, f := range r.File {
		target, err := memberPath(absDest, f.Name)
		if err != nil {
			return 0, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return 0, fmt.Errorf("creating directory %s: %w", target, err)
			}
			continue
		}
		if err := writeMember(f, target); err != nil {
			return 0, err
		}
		count++
	}
	return count, nil
}

// memberPath resolves a member name under absDest and rejects anything
// that is not the destination itself or separator-bounded below it, so
// a sibling directory sharing the destination prefix never passes.
func memberPath(absDest, name string) (string, error) {
	joined, err := filepath.Abs(filepath.Join(absDest, filepath.FromSlash(name)))
	if err != nil {
		return "", fmt.Errorf("resolving member %s: %w", name, err)
	}
	if joined != absDest && !strings.HasPrefix(joined, absDest+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, name)
	}
	return joined, nil
}

func writeMember(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", f.Name, err)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening member %s: %w", f.Name, err)
	}
	defer func() {
		_ = rc.Close()
	}()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return fmt.Errorf("extracting %s: %w", f.Name, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", target, err)
	}
	return nil
}
