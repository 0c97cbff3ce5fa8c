package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/overhearops/overhearops/internal/config"
	"github.com/overhearops/overhearops/internal/logger"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "overhearops",
	Short: "Overhear chat threads, fork remediation plans, judge and gate them",
	Long: `OverhearOps watches a conversation thread, decides whether the latest
message warrants action, forks competing remediation plans, executes them in
parallel branches, lets a three-persona panel vote and gates the winner behind
a confidence threshold. Every run leaves a replayable audit record.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("OVERHEAROPS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", config.DefaultConfigFile, "YAML config file")
	pf.Bool("json", false, "output JSON")
	pf.String("data-dir", "", "directory of <thread>.ndjson files")
	pf.String("mode", "", "pipeline mode: heuristic or offline")
	pf.String("store", "", "run store driver: sqlite or postgres")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	for _, name := range []string{"config", "json", "data-dir", "mode", "store", "log-level"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(threadsCmd())
	rootCmd.AddCommand(migrateCmd())
}

// loadConfig reads defaults < YAML < environment, then applies flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFrom(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("data-dir"); v != "" {
		cfg.Pipeline.DataDir = v
	}
	if v := viper.GetString("mode"); v != "" {
		cfg.Pipeline.Mode = v
		if v == config.ModeOffline && cfg.Pipeline.Provider == config.ModeHeuristic {
			cfg.Pipeline.Provider = config.ModeOffline
		}
	}
	if v := viper.GetString("store"); v != "" {
		cfg.Store.Driver = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}
	return cfg, nil
}

// cliLogger sends logs to stderr so stdout stays parseable.
func cliLogger(cfg *config.Config) logger.Closer {
	log, closer := logger.NewWithWriter(cfg.Logging, os.Stderr)
	slog.SetDefault(log)
	return closer
}

func jsonOutput() bool {
	return viper.GetBool("json")
}
