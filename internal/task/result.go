package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/CZERTAINLY/Triage/internal/signature"
	"github.com/CZERTAINLY/Triage/internal/thor"
)

// ErrScanFailed marks a run where the scanner exited non-zero and
// produced no usable artifact.
var ErrScanFailed = errors.New("scan failed")

// metaExcerptLen caps stderr/stdout excerpts attached to result
// metadata.
const metaExcerptLen = 2000

// Result is the terminal, immutable value of one scan run.
type Result struct {
	OutputFiles []OutputFile   `json:"output_files"`
	WorkflowID  string         `json:"workflow_id"`
	Command     string         `json:"command"`
	Meta        map[string]any `json:"meta"`
}

// collect classifies the process outcome and assembles the final
// result. Artifacts count only when they exist with non-zero size; a
// non-zero exit with at least one artifact is a degraded success.
func collect(ctx context.Context, workflowID, command string, candidates []OutputFile, procRes thor.Result, status signature.Status) (*Result, error) {
	if procRes.Err != nil {
		if errors.Is(procRes.Err, context.Canceled) || errors.Is(procRes.Err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("scan cancelled: %w", procRes.Err)
		}
		return nil, fmt.Errorf("supervising scanner: %w", procRes.Err)
	}

	var outputs []OutputFile
	for _, of := range candidates {
		info, err := os.Stat(of.Path)
		if err != nil || info.Size() == 0 {
			continue
		}
		of.Size = info.Size()
		outputs = append(outputs, of)
	}

	stderr := strings.TrimSpace(procRes.Stderr)
	stdout := strings.TrimSpace(procRes.Stdout)

	if procRes.ExitCode != 0 {
		if len(outputs) == 0 {
			return nil, fmt.Errorf("%w: exit code %d, command: %s, stderr: %s, stdout: %s",
				ErrScanFailed, procRes.ExitCode, command, orEmpty(excerpt(stderr)), orEmpty(excerpt(stdout)))
		}
		slog.WarnContext(ctx, "scanner exited non-zero but produced outputs",
			"exit_code", procRes.ExitCode,
			"stderr", orEmpty(excerpt(stderr)),
			"stdout", orEmpty(excerpt(stdout)),
		)
	}

	meta := map[string]any{}
	if status.Version != "" {
		meta["signature_version"] = status.Version
	}
	if status.UpdatedAt != "" {
		meta["signature_updated_at"] = status.UpdatedAt
	}
	if procRes.ExitCode != 0 {
		meta["thor_exit_code"] = procRes.ExitCode
		if stderr != "" {
			meta["thor_stderr"] = excerpt(stderr)
		}
		if stdout != "" {
			meta["thor_stdout"] = excerpt(stdout)
		}
	}

	return &Result{
		OutputFiles: outputs,
		WorkflowID:  workflowID,
		Command:     command,
		Meta:        meta,
	}, nil
}

func excerpt(s string) string {
	if len(s) > metaExcerptLen {
		return s[:metaExcerptLen]
	}
	return s
}

func orEmpty(s string) string {
	if s == "" {
		return "<empty>"
	}
	return s
}
