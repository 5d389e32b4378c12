package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/devrev/pairdb/txcoordinator/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	logDir     string
	jsonOut    bool
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "txlogctl",
	Short: "Inspect and maintain transaction coordinator log files",
	Long: `txlogctl inspects and maintains the dual-file transaction log of a
transaction coordinator. Run it against a stopped coordinator: it opens the
log files directly.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the coordinator configuration file")
	rootCmd.PersistentFlags().StringVar(&logDir, "dir", "", "Override the log directory from the configuration")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig loads the coordinator configuration and applies flag overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logDir != "" {
		cfg.LoggingSystem.Directory = logDir
	}
	return cfg, nil
}

// printInfo prints an info message if not in quiet mode
func printInfo(w io.Writer, format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(w, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
