package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/CZERTAINLY/Triage/internal/config"
	"github.com/CZERTAINLY/Triage/internal/log"
)

var (
	userConfigPath string // /default/config/path/triage on given OS
	configPath     string // actual config file used (if loaded)
	cfg            config.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "triage")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is triage.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse the config, setup logging
	rootCmd.PersistentPreRunE = initTriage

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("triage failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "triage",
	Short:        "Worker supervising THOR Lite malware scans",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run consumes scan tasks from the queue until interrupted",
	RunE:  doRun,
}

var scanCmd = &cobra.Command{
	Use:   "scan [flags] <input>...",
	Short: "scan executes one THOR Lite scan locally and prints the result",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doScan,
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [flags] <input>...",
	Short: "enqueue submits one scan task to the queue",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doEnqueue,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "config prints the effective configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		defer func() {
			_ = enc.Close()
		}()
		return enc.Encode(cfg)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides version of triage",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("triage: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config: %s\n", configPath)
		}
		fmt.Printf("triage: %s\n", info.Main.Version)
		fmt.Printf("go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func initTriage(cmd *cobra.Command, _ []string) error {
	path := flagConfigFilePath
	if envConfig, ok := os.LookupEnv("TRIAGECONFIG"); ok {
		path = envConfig
	}

	var err error
	cfg, configPath, err = config.Load(path, userConfigPath)
	if err != nil {
		return err
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		cfg.Log.Verbose = true
	}

	logger, err := log.New(cfg.Log.Output, cfg.Log.Verbose)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	slog.SetDefault(logger)

	slog.Debug("triage run", "configPath", configPath)
	return nil
}
