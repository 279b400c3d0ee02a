// Package workspace turns a list of input descriptors into one scratch
// directory the scanner can be pointed at. Archives are extracted into
// per-input subdirectories, anything else is hard-linked in.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/CZERTAINLY/Triage/internal/archive"
	"github.com/CZERTAINLY/Triage/internal/progress"
)

var (
	ErrMissingInput = errors.New("input file missing or not found")
	ErrNoTargets    = errors.New("no scan targets prepared")
)

// Input describes one unit submitted for scanning.
type Input struct {
	Path string `json:"path"`
}

// Workspace is an ephemeral directory owned by exactly one scan run.
type Workspace struct {
	Dir      string
	Prepared int
}

// Prepare builds a fresh workspace under root. Inputs are processed in
// order; a missing input or an archive member escaping its extraction
// directory fails the whole preparation. Zero prepared items is an
// input error, not a successful no-op.
func Prepare(ctx context.Context, root string, inputs []Input, reporter progress.Reporter) (*Workspace, error) {
	dir, err := os.MkdirTemp(root, "thor-scan-*")
	if err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	ws := &Workspace{Dir: dir}

	if err := ws.fill(ctx, inputs, reporter); err != nil {
		_ = ws.Close()
		return nil, err
	}
	if ws.Prepared == 0 {
		_ = ws.Close()
		return nil, ErrNoTargets
	}
	return ws, nil
}

func (w *Workspace) fill(ctx context.Context, inputs []Input, reporter progress.Reporter) error {
	total := len(inputs)
	for idx, input := range inputs {
		if input.Path == "" {
			return fmt.Errorf("%w: empty path", ErrMissingInput)
		}
		if _, err := os.Stat(input.Path); err != nil {
			return fmt.Errorf("%w: %s", ErrMissingInput, input.Path)
		}

		name := filepath.Base(input.Path)
		reporter.Report(ctx, progress.Event{
			Message: fmt.Sprintf("Preparing input %d/%d: %s", idx+1, total, name),
			Current: idx + 1,
			Total:   total,
		})

		if archive.IsZip(input.Path) {
			extractDir := filepath.Join(w.Dir, extractDirName(idx+1, name))
			slog.DebugContext(ctx, "extracting archive input", "source", input.Path, "destination", extractDir)
			n, err := archive.Extract(input.Path, extractDir)
			if err != nil {
				return fmt.Errorf("preparing archive input %s: %w", input.Path, err)
			}
			w.Prepared += n
			continue
		}

		if err := os.Link(input.Path, filepath.Join(w.Dir, name)); err != nil {
			return fmt.Errorf("linking input %s: %w", input.Path, err)
		}
		w.Prepared++
	}
	return nil
}

// extractDirName keeps per-archive directories collision-free across
// inputs by embedding the 1-based input index.
func extractDirName(idx int, filename string) string {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	if base == "" {
		base = "archive"
	}
	return fmt.Sprintf("zip_%d_%s", idx, base)
}

// Close removes the workspace recursively. Safe to call more than once.
func (w *Workspace) Close() error {
	if w.Dir == "" {
		return nil
	}
	err := os.RemoveAll(w.Dir)
	w.Dir = ""
	return err
}
