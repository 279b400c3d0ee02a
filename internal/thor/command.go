// Package thor supervises one invocation of the THOR Lite scanner:
// building its argument vector, launching it, tailing its text log and
// synthesizing progress until it exits.
package thor

import "strings"

// Options describe one scanner invocation. The resulting argument
// vector is deterministic for a given Options value.
type Options struct {
	Binary      string
	HTMLFile    string
	TextLogFile string
	JSONFile    string
	RebaseDir   string
	ScanPath    string
	CustomOnly  bool
	JSONV2      bool
	Silent      bool
}

// Args returns the scanner argument vector, without the binary itself.
func (o Options) Args() []string {
	args := []string{
		"--intense",
		"--norescontrol",
		"--cross-platform",
		"--htmlfile", o.HTMLFile,
		"--logfile", o.TextLogFile,
		"--jsonfile", o.JSONFile,
		"--rebase-dir", o.RebaseDir,
	}
	if o.CustomOnly {
		args = append(args, "--module", "Filescan", "--customonly")
	}
	if o.JSONV2 {
		args = append(args, "--jsonv2")
	}
	if o.Silent {
		args = append(args, "--silent")
	}
	args = append(args, "--path", o.ScanPath)
	return args
}

// CommandString renders the full command line for diagnostics.
func (o Options) CommandString() string {
	return o.Binary + " " + strings.Join(o.Args(), " ")
}
