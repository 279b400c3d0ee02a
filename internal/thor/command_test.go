package thor_test

import (
	"strings"
	"testing"

	"github.com/CZERTAINLY/Triage/internal/thor"

	"github.com/stretchr/testify/require"
)

func TestArgs(t *testing.T) {
	t.Parallel()

	base := thor.Options{
		Binary:      "/thor-lite/thor-lite-linux-64",
		HTMLFile:    "/out/report.html",
		TextLogFile: "/out/log.txt",
		JSONFile:    "/out/log.json",
		RebaseDir:   "/out",
		ScanPath:    "/tmp/ws",
	}

	t.Run("base vector", func(t *testing.T) {
		require.Equal(t, []string{
			"--intense", "--norescontrol", "--cross-platform",
			"--htmlfile", "/out/report.html",
			"--logfile", "/out/log.txt",
			"--jsonfile", "/out/log.json",
			"--rebase-dir", "/out",
			"--path", "/tmp/ws",
		}, base.Args())
	})

	t.Run("all flags", func(t *testing.T) {
		o := base
		o.CustomOnly = true
		o.JSONV2 = true
		o.Silent = true
		args := strings.Join(o.Args(), " ")
		require.Contains(t, args, "--module Filescan --customonly")
		require.Contains(t, args, "--jsonv2")
		require.Contains(t, args, "--silent")
		// the scan path stays last
		require.True(t, strings.HasSuffix(args, "--path /tmp/ws"))
	})

	t.Run("deterministic", func(t *testing.T) {
		require.Equal(t, base.Args(), base.Args())
	})
}

func TestCommandString(t *testing.T) {
	t.Parallel()

	o := thor.Options{Binary: "/bin/thor", ScanPath: "/ws"}
	cmd := o.CommandString()
	require.True(t, strings.HasPrefix(cmd, "/bin/thor --intense"))
	require.True(t, strings.HasSuffix(cmd, "--path /ws"))
}
