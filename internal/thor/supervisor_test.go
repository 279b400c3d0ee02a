package thor_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CZERTAINLY/Triage/internal/progress"
	"github.com/CZERTAINLY/Triage/internal/thor"

	"github.com/stretchr/testify/require"
)

func TestSupervisorRun(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)

	logPath := filepath.Join(t.TempDir(), "thor.txt")
	writeLog(t, logPath,
		"Info Init MODULE: Filescan MESSAGE: scanning files\n",
		"Alert YARA Rule evil_tool matched\n",
		"Alert yara rule other_tool matched\n",
	)

	proc, err := thor.Start(t.Context(), sh, []string{"-c", "sleep 0.2"}, 0)
	require.NoError(t, err)

	collector := newCollector()
	s := &thor.Supervisor{
		Interval:      10 * time.Millisecond,
		Reporter:      collector,
		SignatureLine: "Updated: 2024-08-01 10:00:00 UTC | Version: v1",
		CustomOnly:    true,
		CustomRules:   7,
	}
	hits, result := s.Run(t.Context(), proc, logPath)

	require.Equal(t, 2, hits, "each hit counted exactly once across ticks")
	require.Zero(t, result.ExitCode)
	require.NoError(t, result.Err)

	events := collector.events()
	require.NotEmpty(t, events)
	first := events[0].Message
	require.Contains(t, first, "Signatures: Updated: 2024-08-01 10:00:00 UTC | Version: v1")
	require.Contains(t, first, "Custom YARA + Filescan: enabled (rules loaded: 7, hits: 0)")
	require.Contains(t, first, "Status: THOR Lite scanning (elapsed ")
	require.Contains(t, first, "Last log: ")

	// later ticks see the accumulated hit count
	last := events[len(events)-1].Message
	require.Contains(t, last, "hits: 2")
}

func TestSupervisorNonZeroExit(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)

	proc, err := thor.Start(t.Context(), sh, []string{"-c", "echo out; echo err >&2; exit 3"}, 0)
	require.NoError(t, err)

	s := &thor.Supervisor{Interval: 10 * time.Millisecond}
	_, result := s.Run(t.Context(), proc, filepath.Join(t.TempDir(), "absent.txt"))

	require.Equal(t, 3, result.ExitCode)
	require.NoError(t, result.Err)
	require.Equal(t, "out", strings.TrimSpace(result.Stdout))
	require.Equal(t, "err", strings.TrimSpace(result.Stderr))
}

func TestSupervisorCancellation(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)

	ctx, cancel := context.WithCancel(t.Context())
	proc, err := thor.Start(ctx, sh, []string{"-c", "sleep 30"}, 0)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	s := &thor.Supervisor{Interval: 10 * time.Millisecond}
	start := time.Now()
	_, result := s.Run(ctx, proc, filepath.Join(t.TempDir(), "absent.txt"))

	require.Less(t, time.Since(start), 5*time.Second, "cancellation kills the child")
	require.Error(t, result.Err)
}

func TestStartTimeout(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)

	proc, err := thor.Start(t.Context(), sh, []string{"-c", "sleep 30"}, 50*time.Millisecond)
	require.NoError(t, err)

	s := &thor.Supervisor{Interval: 10 * time.Millisecond}
	_, result := s.Run(t.Context(), proc, filepath.Join(t.TempDir(), "absent.txt"))
	require.Error(t, result.Err)
}

func TestStartMissingBinary(t *testing.T) {
	t.Parallel()

	_, err := thor.Start(t.Context(), filepath.Join(t.TempDir(), "nope"), nil, 0)
	require.Error(t, err)
}

type collector struct {
	mx sync.Mutex
	ev []progress.Event
}

func newCollector() *collector { return &collector{} }

func (c *collector) Report(_ context.Context, e progress.Event) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.ev = append(c.ev, e)
}

func (c *collector) events() []progress.Event {
	c.mx.Lock()
	defer c.mx.Unlock()
	return append([]progress.Event(nil), c.ev...)
}

func lookSh(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

func writeLog(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "")), 0o644))
}
