package main

import (
	"io"

	"github.com/devrev/pairdb/txcoordinator/internal/config"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newConfigCmd())
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `The config command prints the configuration the coordinator would run with,
after defaults, the configuration file and TXCOORD_ environment variables are
applied.

Example:
  txlogctl config --config txcoordinator.yaml
  TXCOORD_LOGGING_SYSTEM_OPTIMIZED=true txlogctl config --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runConfig(cmd.OutOrStdout(), cfg)
		},
	}
}

func runConfig(w io.Writer, cfg *config.Config) error {
	if jsonOut {
		return printJSON(w, cfg)
	}
	out, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
