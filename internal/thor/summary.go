package thor

import (
	"path/filepath"
	"strings"
)

// summaryMaxLen caps the rendered log-line summary.
const summaryMaxLen = 120

// Summarize reduces one scanner log line to a short human-readable
// form for progress display: module/message extraction, file-path
// basename extraction, scan-id stripping and a hard length cap. It has
// no bearing on scan correctness.
func Summarize(line string) string {
	summary := strings.TrimSpace(line)
	if summary == "" {
		return ""
	}

	if strings.Contains(summary, "MODULE:") && strings.Contains(summary, "MESSAGE:") {
		_, rest, _ := strings.Cut(summary, "MODULE:")
		module, message, _ := strings.Cut(rest, "MESSAGE:")
		summary = strings.TrimSpace(module) + ": " + strings.TrimSpace(message)
	}

	if prefix, filePart, ok := strings.Cut(summary, "FILE:"); ok {
		fields := strings.Fields(filePart)
		var basename string
		if len(fields) > 0 {
			basename = filepath.Base(fields[0])
		}
		if before, _, found := strings.Cut(prefix, "SCANID:"); found {
			prefix = before
		}
		summary = strings.TrimSpace(strings.TrimSpace(prefix) + " FILE: " + basename)
	} else if before, _, found := strings.Cut(summary, "SCANID:"); found {
		summary = strings.TrimSpace(before)
	}

	if len(summary) > summaryMaxLen {
		summary = strings.TrimRight(summary[:summaryMaxLen-3], " ") + "..."
	}
	return summary
}
