package forge_test

import (
	"archive/zip"
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"testing"
	"time"

	"github.com/CZERTAINLY/Triage/internal/config"
	"github.com/CZERTAINLY/Triage/internal/forge"

	"github.com/stretchr/testify/require"
)

func TestDestName(t *testing.T) {
	t.Parallel()

	a := forge.DestName("yara_forge_", "rules/a.yar")
	require.Equal(t, a, forge.DestName("yara_forge_", "rules/a.yar"))
	require.Regexp(t, regexp.MustCompile(`^yara_forge_[0-9a-f]{12}_a\.yar$`), a)

	// same filename, different relative path -> different name
	b := forge.DestName("yara_forge_", "rules/sub/a.yar")
	require.NotEqual(t, a, b)
	require.Regexp(t, regexp.MustCompile(`^yara_forge_[0-9a-f]{12}_a\.yar$`), b)
}

func TestIsRuleFile(t *testing.T) {
	t.Parallel()

	require.True(t, forge.IsRuleFile("a.yar"))
	require.True(t, forge.IsRuleFile("B.YARA"))
	require.False(t, forge.IsRuleFile("readme.md"))
	require.False(t, forge.IsRuleFile("yar"))
}

func TestFlatten(t *testing.T) {
	t.Parallel()

	m, cfg, thor := newManager(t)
	writeRule(t, cfg.Dir, "rules/a.yar")
	writeRule(t, cfg.Dir, "rules/sub/b.yara")
	writeRule(t, cfg.Dir, "rules/README.md") // ignored, not a rule suffix

	n, err := m.Flatten(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	first := ruleNames(t, thor.CustomRuleDirs)
	for _, names := range first {
		require.Len(t, names, 2)
		for _, name := range names {
			require.Regexp(t, regexp.MustCompile(`^yara_forge_[0-9a-f]{12}_`), name)
		}
	}

	// idempotent: second run converges to identical names and count
	n, err = m.Flatten(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, first, ruleNames(t, thor.CustomRuleDirs))
}

func TestFlattenRemovesStaleRules(t *testing.T) {
	t.Parallel()

	m, cfg, thor := newManager(t)
	writeRule(t, cfg.Dir, "rules/a.yar")

	stale := filepath.Join(thor.CustomRuleDirs[0], "yara_forge_deadbeef0000_old.yar")
	require.NoError(t, os.MkdirAll(thor.CustomRuleDirs[0], 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("rule old {}"), 0o644))
	// user-managed rules without the prefix survive
	kept := filepath.Join(thor.CustomRuleDirs[0], "mine.yar")
	require.NoError(t, os.WriteFile(kept, []byte("rule mine {}"), 0o644))

	n, err := m.Flatten(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = os.Stat(stale)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(kept)
	require.NoError(t, err)
}

func TestFlattenMissingBundle(t *testing.T) {
	t.Parallel()

	m, cfg, _ := newManager(t)
	require.NoError(t, os.RemoveAll(cfg.Dir))

	n, err := m.Flatten(t.Context())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestFetch(t *testing.T) {
	t.Parallel()

	bundle := bundleZip(t, map[string]string{
		"rules/a.yar":     "rule a {}",
		"rules/sub/b.yar": "rule b {}",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bundle)
	}))
	t.Cleanup(srv.Close)

	m, cfg, _ := newManagerURL(t, srv.URL)
	// previous bundle content to be replaced
	writeRule(t, cfg.Dir, "stale/old.yar")

	require.NoError(t, m.Fetch(t.Context()))

	_, err := os.Stat(filepath.Join(cfg.Dir, "rules", "a.yar"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.Dir, "stale", "old.yar"))
	require.True(t, os.IsNotExist(err))
}

func TestFetchFailureKeepsPreviousBundle(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	m, cfg, _ := newManagerURL(t, srv.URL)
	writeRule(t, cfg.Dir, "rules/keep.yar")

	require.Error(t, m.Fetch(t.Context()))

	_, err := os.Stat(filepath.Join(cfg.Dir, "rules", "keep.yar"))
	require.NoError(t, err)
}

func TestFetchRejectsTraversal(t *testing.T) {
	t.Parallel()

	bundle := bundleZip(t, map[string]string{"../../evil.yar": "rule evil {}"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bundle)
	}))
	t.Cleanup(srv.Close)

	m, cfg, _ := newManagerURL(t, srv.URL)
	writeRule(t, cfg.Dir, "rules/keep.yar")

	require.Error(t, m.Fetch(t.Context()))
	_, err := os.Stat(filepath.Join(cfg.Dir, "rules", "keep.yar"))
	require.NoError(t, err)
}

func newManager(t *testing.T) (*forge.Manager, config.Forge, config.Thor) {
	t.Helper()
	return newManagerURL(t, "http://127.0.0.1:0/unused.zip")
}

func newManagerURL(t *testing.T, url string) (*forge.Manager, config.Forge, config.Thor) {
	t.Helper()

	root := t.TempDir()
	fcfg := config.Forge{
		URL:        url,
		Dir:        filepath.Join(root, "yara-forge"),
		Prefix:     "yara_forge_",
		Timeout:    5 * time.Second,
		MaxElapsed: 5 * time.Second,
	}
	thor := config.Thor{
		CustomRuleDirs: []string{
			filepath.Join(root, "signatures", "custom", "yara"),
			filepath.Join(root, "custom-signatures", "yara"),
		},
	}
	thor.CleanRuleDirs = append([]string{
		filepath.Join(root, "signatures", "custom"),
		filepath.Join(root, "custom-signatures"),
	}, thor.CustomRuleDirs...)

	return forge.New(fcfg, thor), fcfg, thor
}

func bundleZip(t *testing.T, members map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeRule(t *testing.T, bundleDir, rel string) {
	t.Helper()
	path := filepath.Join(bundleDir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("rule r {}"), 0o644))
}

func ruleNames(t *testing.T, dirs []string) [][]string {
	t.Helper()
	var all [][]string
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		sort.Strings(names)
		all = append(all, names)
	}
	return all
}
