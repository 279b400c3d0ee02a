// Package forge manages the third-party YARA rule bundle: fetching the
// published archive and flattening its rule files into the scanner's
// custom-rule directories under stable, collision-resistant names.
package forge

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/CZERTAINLY/Triage/internal/archive"
	"github.com/CZERTAINLY/Triage/internal/config"

	"github.com/cenkalti/backoff/v4"
)

// Manager owns the bundle directory and the custom-rule directories it
// flattens into. Flatten performs delete-then-copy, so concurrent
// flattens are serialized on an internal mutex.
type Manager struct {
	cfg        config.Forge
	customDirs []string
	cleanDirs  []string
	client     *http.Client

	flattenMx sync.Mutex
}

func New(cfg config.Forge, thor config.Thor) *Manager {
	return &Manager{
		cfg:        cfg,
		customDirs: thor.CustomRuleDirs,
		cleanDirs:  thor.CleanRuleDirs,
		client:     &http.Client{},
	}
}

// DestName derives the flattened file name for a rule found at relPath
// inside the bundle. The short hash of the relative path keeps names
// stable across runs and distinct for same-named rules in different
// subdirectories.
func DestName(prefix, relPath string) string {
	digest := sha1.Sum([]byte(filepath.ToSlash(relPath)))
	return prefix + hex.EncodeToString(digest[:])[:12] + "_" + filepath.Base(relPath)
}

// IsRuleFile reports whether name carries a YARA rule suffix.
func IsRuleFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".yar") || strings.HasSuffix(lower, ".yara")
}

// Fetch downloads the bundle archive, extracts it next to the bundle
// directory and atomically swaps it in. Any download or extraction
// failure leaves the previous bundle untouched.
func (m *Manager) Fetch(ctx context.Context) error {
	parent := filepath.Dir(m.cfg.Dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("creating bundle parent %s: %w", parent, err)
	}

	// Staging inside the parent keeps the final rename on one filesystem.
	staging, err := os.MkdirTemp(parent, ".yara-forge-*")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(staging)
	}()

	zipPath := filepath.Join(staging, "bundle.zip")
	if err := m.download(ctx, zipPath); err != nil {
		return fmt.Errorf("downloading rule bundle: %w", err)
	}

	extractDir := filepath.Join(staging, "extract")
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return fmt.Errorf("creating extract directory: %w", err)
	}
	n, err := archive.Extract(zipPath, extractDir)
	if err != nil {
		return fmt.Errorf("extracting rule bundle: %w", err)
	}
	slog.DebugContext(ctx, "rule bundle extracted", "members", n)

	if err := os.RemoveAll(m.cfg.Dir); err != nil {
		return fmt.Errorf("removing previous bundle: %w", err)
	}
	if err := os.Rename(extractDir, m.cfg.Dir); err != nil {
		return fmt.Errorf("installing new bundle: %w", err)
	}
	slog.InfoContext(ctx, "rule bundle updated", "dir", m.cfg.Dir)
	return nil
}

func (m *Manager) download(ctx context.Context, dest string) error {
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
		return m.downloadOnce(attemptCtx, dest)
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = m.cfg.MaxElapsed
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

func (m *Manager) downloadOnce(ctx context.Context, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.URL, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("building request: %w", err))
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", m.cfg.URL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %s for %s", resp.Status, m.cfg.URL)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}

	f, err := os.Create(dest)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("creating %s: %w", dest, err))
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(dest)
		return fmt.Errorf("saving bundle: %w", err)
	}
	return f.Close()
}

// Flatten converges the custom-rule directories to exactly the current
// bundle contents: stale flattened files (recognized by the configured
// prefix) are removed everywhere first, then every rule file from the
// bundle is copied into every custom-rule directory. A missing or empty
// bundle directory yields zero without error.
func (m *Manager) Flatten(ctx context.Context) (int, error) {
	m.flattenMx.Lock()
	defer m.flattenMx.Unlock()

	entries, err := m.collect()
	if err != nil {
		return 0, err
	}

	for _, dir := range m.cleanDirs {
		if err := m.sweep(dir); err != nil {
			return 0, err
		}
	}

	for _, dir := range m.customDirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("creating rule directory %s: %w", dir, err)
		}
		for _, e := range entries {
			if err := copyFile(e.source, filepath.Join(dir, e.destName)); err != nil {
				return 0, err
			}
		}
	}

	slog.DebugContext(ctx, "forge rules flattened", "count", len(entries), "dirs", len(m.customDirs))
	return len(entries), nil
}

type ruleEntry struct {
	source   string
	destName string
}

func (m *Manager) collect() ([]ruleEntry, error) {
	if _, err := os.Stat(m.cfg.Dir); err != nil {
		return nil, nil
	}

	var entries []ruleEntry
	err := filepath.WalkDir(m.cfg.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsRuleFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(m.cfg.Dir, path)
		if err != nil {
			return err
		}
		entries = append(entries, ruleEntry{
			source:   path,
			destName: DestName(m.cfg.Prefix, rel),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking bundle directory: %w", err)
	}
	return entries, nil
}

func (m *Manager) sweep(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating rule directory %s: %w", dir, err)
	}
	names, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("listing rule directory %s: %w", dir, err)
	}
	for _, e := range names {
		if e.IsDir() || !strings.HasPrefix(e.Name(), m.cfg.Prefix) || !IsRuleFile(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("removing stale rule %s: %w", e.Name(), err)
		}
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening rule %s: %w", src, err)
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating rule copy %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copying rule to %s: %w", dest, err)
	}
	return out.Close()
}
