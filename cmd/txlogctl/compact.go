package main

import (
	"fmt"
	"io"

	"github.com/devrev/pairdb/txcoordinator/internal/config"
	"github.com/devrev/pairdb/txcoordinator/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var compaction string

func init() {
	cmd := newCompactCmd()
	cmd.Flags().StringVar(&compaction, "compaction", "", "Compaction strategy (none, coalesce); defaults to the configured one")
	rootCmd.AddCommand(cmd)
}

func newCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Force a rotation of the transaction log",
		Long: `The compact command opens the logging pair, repairs an interrupted switch
if one is found, rotates once regardless of the switch threshold and closes
the files. Completed transactions are dropped from the new master.

Example:
  txlogctl compact --dir /var/lib/txcoordinator
  txlogctl compact --compaction coalesce`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runCompact(cmd.OutOrStdout(), cfg)
		},
	}
}

func runCompact(w io.Writer, cfg *config.Config) error {
	name := compaction
	if name == "" {
		name = cfg.LoggingSystem.Compaction
	}
	compactor, ok := service.NewCompactor(name)
	if !ok {
		return fmt.Errorf("unknown compaction: %q", name)
	}

	svc, err := service.NewLoggingService(
		cfg.LoggingSystem.ServiceConfig(),
		zap.NewNop(),
		service.WithCompactor(compactor),
		service.WithoutRotationTask(),
	)
	if err != nil {
		return fmt.Errorf("failed to open transaction log: %w", err)
	}

	before := svc.Stats()
	rotateErr := svc.Rotate()
	after := svc.Stats()
	if err := svc.Shutdown(); err != nil && rotateErr == nil {
		rotateErr = err
	}
	if rotateErr != nil {
		return fmt.Errorf("compaction failed: %w", rotateErr)
	}

	saved := before.MasterBytes - after.MasterBytes
	if jsonOut {
		return printJSON(w, map[string]interface{}{
			"master":         after.MasterPath,
			"original_bytes": before.MasterBytes,
			"new_bytes":      after.MasterBytes,
			"saved_bytes":    saved,
			"compaction":     name,
			"recovered":      before.State == service.StateRecovered,
		})
	}

	if before.State == service.StateRecovered {
		printInfo(w, "Repaired an interrupted switch\n")
	}
	printInfo(w, "Compacted %s\n", after.MasterPath)
	printInfo(w, "  Original size: %d bytes\n", before.MasterBytes)
	printInfo(w, "  Compacted size: %d bytes\n", after.MasterBytes)
	printInfo(w, "  Saved: %d bytes\n", saved)
	return nil
}
