// Package signature inspects and refreshes the scanner's installed
// signature set. Probing is best-effort: it reports what it can find
// and never fails a run.
package signature

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/CZERTAINLY/Triage/internal/config"
)

// Status is a point-in-time snapshot of the installed signatures.
// Empty fields mean the probe found no signal.
type Status struct {
	Version   string
	UpdatedAt string // "2006-01-02 15:04:05 UTC"
}

// Line renders the status for progress display, empty when nothing is
// known.
func (s Status) Line() string {
	var parts []string
	if s.UpdatedAt != "" {
		parts = append(parts, "Updated: "+s.UpdatedAt)
	}
	if s.Version != "" {
		parts = append(parts, "Version: "+s.Version)
	}
	return strings.Join(parts, " | ")
}

type Reader struct {
	cfg config.Thor
}

func NewReader(cfg config.Thor) Reader {
	return Reader{cfg: cfg}
}

// Probe reads the signature version from the first usable candidate
// metadata file and the last-modified time of the signature root.
// Filesystem and parse problems degrade to absent fields.
func (r Reader) Probe(ctx context.Context) Status {
	var status Status
	for _, path := range r.cfg.VersionFiles() {
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		content := strings.TrimSpace(string(raw))
		if content == "" {
			continue
		}
		var version string
		if strings.HasSuffix(path, ".json") {
			version = versionFromJSON(content)
		} else {
			version = firstLine(content)
		}
		if version != "" {
			status.Version = version
			break
		}
	}

	if info, err := os.Stat(r.cfg.SignaturesDir); err == nil {
		status.UpdatedAt = info.ModTime().UTC().Format("2006-01-02 15:04:05") + " UTC"
	}

	if status == (Status{}) {
		slog.DebugContext(ctx, "signature status unavailable", "dir", r.cfg.SignaturesDir)
	}
	return status
}

// versionFromJSON takes the first recognized key; a parse failure means
// no version, not an error.
func versionFromJSON(content string) string {
	var payload map[string]any
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return ""
	}
	for _, key := range []string{"version", "signature_version", "signatures"} {
		switch v := payload[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
		}
	}
	return ""
}

func firstLine(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
