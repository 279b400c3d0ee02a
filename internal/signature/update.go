package signature

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// ErrUpdaterMissing signals that the signature updater binary is not
// installed; callers treat this as a warning, not a failure.
var ErrUpdaterMissing = errors.New("signature updater not found")

// Updater runs the scanner's signature-update utility.
type Updater struct {
	Binary  string
	Timeout time.Duration
}

func NewUpdater(binary string) Updater {
	return Updater{Binary: binary, Timeout: 10 * time.Minute}
}

// Update executes `<util> upgrade` and waits for it. It returns
// ErrUpdaterMissing when the binary does not exist and an error
// carrying truncated output on a non-zero exit.
func (u Updater) Update(ctx context.Context) error {
	if _, err := os.Stat(u.Binary); err != nil {
		return fmt.Errorf("%w: %s", ErrUpdaterMissing, u.Binary)
	}

	if u.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, u.Binary, "upgrade")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running %s upgrade: %w (stderr: %s, stdout: %s)",
			u.Binary, err, excerpt(stderr.String()), excerpt(stdout.String()))
	}
	return nil
}

func excerpt(s string) string {
	const max = 500
	if s == "" {
		return "<empty>"
	}
	if len(s) > max {
		return s[:max]
	}
	return s
}
