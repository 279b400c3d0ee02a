package workspace_test

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/CZERTAINLY/Triage/internal/progress"
	"github.com/CZERTAINLY/Triage/internal/workspace"

	"github.com/stretchr/testify/require"
)

func TestPrepare(t *testing.T) {
	t.Parallel()

	inputDir := t.TempDir()
	plain := filepath.Join(inputDir, "sample.bin")
	require.NoError(t, os.WriteFile(plain, []byte("malware?"), 0o644))
	zipped := writeZip(t, inputDir, "evidence.zip", map[string]string{
		"one.txt": "first",
		"two.txt": "second",
	})

	var events []progress.Event
	reporter := progress.Func(func(_ context.Context, e progress.Event) {
		events = append(events, e)
	})

	root := t.TempDir()
	ws, err := workspace.Prepare(t.Context(), root, []workspace.Input{{Path: plain}, {Path: zipped}}, reporter)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	require.Equal(t, 3, ws.Prepared)

	// one hard link plus one extraction subdirectory
	entries, err := os.ReadDir(ws.Dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	linked, err := os.ReadFile(filepath.Join(ws.Dir, "sample.bin"))
	require.NoError(t, err)
	require.Equal(t, "malware?", string(linked))

	extracted, err := os.ReadDir(filepath.Join(ws.Dir, "zip_2_evidence"))
	require.NoError(t, err)
	require.Len(t, extracted, 2)

	require.Len(t, events, 2)
	require.Equal(t, 1, events[0].Current)
	require.Equal(t, 2, events[0].Total)
	require.Contains(t, events[0].Message, "sample.bin")
	require.Contains(t, events[1].Message, "evidence.zip")
}

func TestPrepareMissingInput(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	inputs := []workspace.Input{{Path: filepath.Join(t.TempDir(), "gone.bin")}}
	_, err := workspace.Prepare(t.Context(), root, inputs, progress.Nop{})
	require.ErrorIs(t, err, workspace.ErrMissingInput)

	// the half-built workspace is torn down
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPrepareNoTargets(t *testing.T) {
	t.Parallel()

	// an archive with zero file members prepares nothing
	inputDir := t.TempDir()
	empty := writeZip(t, inputDir, "empty.zip", nil)

	_, err := workspace.Prepare(t.Context(), t.TempDir(), []workspace.Input{{Path: empty}}, progress.Nop{})
	require.ErrorIs(t, err, workspace.ErrNoTargets)
}

func TestPrepareNoInputs(t *testing.T) {
	t.Parallel()

	_, err := workspace.Prepare(t.Context(), t.TempDir(), nil, progress.Nop{})
	require.ErrorIs(t, err, workspace.ErrNoTargets)
}

func TestClose(t *testing.T) {
	t.Parallel()

	inputDir := t.TempDir()
	plain := filepath.Join(inputDir, "f.bin")
	require.NoError(t, os.WriteFile(plain, []byte("x"), 0o644))

	ws, err := workspace.Prepare(t.Context(), t.TempDir(), []workspace.Input{{Path: plain}}, progress.Nop{})
	require.NoError(t, err)

	dir := ws.Dir
	require.NoError(t, ws.Close())
	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err))
	require.NoError(t, ws.Close())
}

func writeZip(t *testing.T, dir, name string, members map[string]string) string {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for member, content := range members {
		w, err := zw.Create(member)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}
