// Package config holds the process-wide configuration of the triage
// worker. The fixed THOR directory layout is configuration, not
// constants, so tests can point everything at temporary roots.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// DebugEnv suppresses THOR's --silent flag when set to a non-empty value.
const DebugEnv = "THOR_WORKER_DEBUG"

type Config struct {
	Log    Log    `mapstructure:"log"`
	Worker Worker `mapstructure:"worker"`
	Redis  Redis  `mapstructure:"redis"`
	Thor   Thor   `mapstructure:"thor" validate:"required"`
	Forge  Forge  `mapstructure:"forge"`
}

type Log struct {
	Output  string `mapstructure:"output" validate:"omitempty"`
	Verbose bool   `mapstructure:"verbose"`
}

// Worker configures the queue-consuming mode.
type Worker struct {
	Concurrency int    `mapstructure:"concurrency" validate:"min=1"`
	Queue       string `mapstructure:"queue" validate:"required"`
	OpsAddr     string `mapstructure:"ops_addr"`
	// SignatureRefreshCron optionally schedules a periodic run of the
	// signature updater, e.g. "0 3 * * *". Empty disables it.
	SignatureRefreshCron string `mapstructure:"signature_refresh_cron"`
}

type Redis struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0"`
}

// Thor describes the scanner installation this worker supervises.
type Thor struct {
	Binary        string `mapstructure:"binary" validate:"required"`
	UtilBinary    string `mapstructure:"util_binary" validate:"required"`
	SignaturesDir string `mapstructure:"signatures_dir" validate:"required"`
	// CustomRuleDirs receive the flattened forge rules.
	CustomRuleDirs []string `mapstructure:"custom_rule_dirs" validate:"min=1"`
	// CleanRuleDirs are swept for stale flattened rules before a copy;
	// a superset of CustomRuleDirs.
	CleanRuleDirs []string `mapstructure:"clean_rule_dirs" validate:"min=1"`
	// Timeout bounds a single scan; zero means no limit.
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"min=1ms"`
}

// VersionFiles lists the candidate signature metadata files, probed in
// order. The first existing non-empty one wins.
func (t Thor) VersionFiles() []string {
	names := []string{"version.txt", "version", "versions.txt", "versions.json", "siginfo.txt"}
	paths := make([]string, 0, len(names))
	for _, n := range names {
		paths = append(paths, filepath.Join(t.SignaturesDir, n))
	}
	return paths
}

// Forge configures the third-party rule bundle.
type Forge struct {
	URL string `mapstructure:"url" validate:"required,url"`
	// Dir is the bundle directory replaced atomically on fetch.
	Dir    string `mapstructure:"dir" validate:"required"`
	Prefix string `mapstructure:"prefix" validate:"required"`
	// Timeout bounds a single download attempt.
	Timeout time.Duration `mapstructure:"timeout" validate:"min=1s"`
	// MaxElapsed bounds the whole fetch including retries.
	MaxElapsed time.Duration `mapstructure:"max_elapsed" validate:"min=1s"`
}

const thorRoot = "/thor-lite"

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.output", "stderr")
	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.queue", "thor")
	v.SetDefault("worker.ops_addr", "127.0.0.1:9120")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("thor.binary", filepath.Join(thorRoot, "thor-lite-linux-64"))
	v.SetDefault("thor.util_binary", filepath.Join(thorRoot, "thor-lite-util"))
	v.SetDefault("thor.signatures_dir", filepath.Join(thorRoot, "signatures"))
	v.SetDefault("thor.custom_rule_dirs", []string{
		filepath.Join(thorRoot, "signatures", "custom", "yara"),
		filepath.Join(thorRoot, "custom-signatures", "yara"),
	})
	v.SetDefault("thor.clean_rule_dirs", []string{
		filepath.Join(thorRoot, "signatures", "custom"),
		filepath.Join(thorRoot, "custom-signatures"),
		filepath.Join(thorRoot, "signatures", "custom", "yara"),
		filepath.Join(thorRoot, "custom-signatures", "yara"),
	})
	v.SetDefault("thor.poll_interval", 2*time.Second)
	v.SetDefault("forge.url", "https://github.com/YARAHQ/yara-forge/releases/latest/download/yara-forge-rules-full.zip")
	v.SetDefault("forge.dir", filepath.Join(thorRoot, "signatures", "custom", "yara-forge"))
	v.SetDefault("forge.prefix", "yara_forge_")
	v.SetDefault("forge.timeout", time.Minute)
	v.SetDefault("forge.max_elapsed", 5*time.Minute)
}

// Load reads triage.yaml (explicit path, current directory or
// searchDirs) merged with TRIAGE_* environment overrides and validates
// the result. An absent config file is fine, defaults apply. The second
// return value names the config file actually used, if any.
func Load(path string, searchDirs ...string) (Config, string, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TRIAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, "", fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("triage")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		for _, d := range searchDirs {
			v.AddConfigPath(d)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, "", fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, "", fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, "", err
	}
	return cfg, v.ConfigFileUsed(), nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
