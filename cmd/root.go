// Package cmd implements the CLI commands using Cobra.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dashprobe/internal/config"
	"dashprobe/internal/flowlog"
	"dashprobe/internal/httputil"
	"dashprobe/internal/logger"
	"dashprobe/internal/manifest"
	"dashprobe/internal/patron"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Global flags
var (
	flagJSON    bool
	flagDebug   bool
	flagEnvFile string
	flagNoLog   bool
)

// cfg holds the loaded configuration (merged: defaults < config file < flags).
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "dashprobe",
	Short: "Inspect DRM-protected DASH content from a library patron account",
	Long: `dashprobe signs in to a library patron account, lists borrowed titles and
inspects their DASH manifests: DRM systems, key IDs, PSSH boxes and track layout.
It can download titles with yt-dlp and decrypt them with keys you already hold.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

// Execute runs the root command. Ctrl-C cancels the running command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "Output results as JSON")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "x", false, "Debug logging to stderr")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", "", "Credentials file with USERNAME and PASSWORD (default: .env.secrets)")
	rootCmd.PersistentFlags().BoolVar(&flagNoLog, "no-log", false, "Do not record this run in the flow log")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(borrowedCmd)
	rootCmd.AddCommand(titleCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads and merges configuration: defaults < config file < CLI flags.
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// CLI flags override config file values
	if flagDebug {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}
	if flagEnvFile != "" {
		cfg.EnvFile = flagEnvFile
	}
	if flagNoLog {
		cfg.FlowLog = false
	}

	// Re-validate after flag overrides
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Init(cfg.LogLevel)
	return nil
}

// debugf logs a message if debug mode is enabled.
func debugf(format string, args ...interface{}) {
	if cfg != nil && cfg.Debug {
		zap.S().Debugf(format, args...)
	}
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func newHTTPClient() *http.Client {
	return httputil.NewClient(cfg.RequestTimeout())
}

func newPatronClient(client *http.Client) *patron.Client {
	return patron.New(client, cfg.APIBase).WithLicenseURL(cfg.LicenseTokenURL)
}

func newManifestSource(client *http.Client) *manifest.Source {
	return manifest.NewSource(client, cfg.ManifestURL)
}

// startRun opens the flow log and starts a run for contentID. With the flow
// log disabled or unavailable it returns a nil run, which records nothing.
func startRun(contentID string) (*flowlog.Run, func()) {
	noop := func() {}
	if !cfg.FlowLog {
		return nil, noop
	}

	path, err := config.FlowLogPath()
	if err != nil {
		zap.S().Warnf("flow log disabled: %v", err)
		return nil, noop
	}
	store, err := flowlog.Open(path)
	if err != nil {
		zap.S().Warnf("flow log disabled: %v", err)
		return nil, noop
	}

	run := store.NewRun(contentID)
	debugf("flow log run %s in %s", run.ID, path)
	return run, func() { store.Close() }
}
