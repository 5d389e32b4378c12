package main

import (
	"fmt"
	"io"
	"os"

	"github.com/devrev/pairdb/txcoordinator/internal/config"
	"github.com/devrev/pairdb/txcoordinator/internal/service"
	"github.com/devrev/pairdb/txcoordinator/internal/storage/logfile"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var headersOnly bool

func init() {
	cmd := newDumpCmd()
	cmd.Flags().BoolVar(&headersOnly, "headers-only", false, "Print file headers without records")
	rootCmd.AddCommand(cmd)
}

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the headers and records of both log files",
		Long: `The dump command prints the header of each file of the logging pair
followed by its records in file order. A torn record at the end of a file is
truncated on open, exactly as the coordinator does at startup.

Example:
  txlogctl dump --dir /var/lib/txcoordinator
  txlogctl dump --config txcoordinator.yaml --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runDump(cmd.OutOrStdout(), cfg)
		},
	}
}

type dumpRecord struct {
	Operator      string `json:"operator"`
	TransactionID string `json:"transaction_id"`
	PayloadBytes  int    `json:"payload_bytes"`
}

type dumpFile struct {
	Path       string       `json:"path"`
	Missing    bool         `json:"missing,omitempty"`
	Role       string       `json:"role,omitempty"`
	Marked     bool         `json:"marked"`
	Version    string       `json:"version,omitempty"`
	Identifier string       `json:"identifier,omitempty"`
	DataBytes  int64        `json:"data_bytes"`
	Truncated  int64        `json:"truncated_bytes,omitempty"`
	Records    []dumpRecord `json:"records,omitempty"`
}

func runDump(w io.Writer, cfg *config.Config) error {
	ls := cfg.LoggingSystem.ServiceConfig()
	first, second := service.LogFilePaths(ls.Directory, ls.FilePrefix)
	opts := logfile.Options{
		MajorVersion: ls.MajorVersion,
		MinorVersion: ls.MinorVersion,
		Identifier:   ls.Identifier,
	}

	files := make([]dumpFile, 0, 2)
	for _, path := range []string{first, second} {
		df, err := dumpLogFile(path, opts)
		if err != nil {
			return err
		}
		files = append(files, df)
	}

	if jsonOut {
		return printJSON(w, files)
	}

	for _, df := range files {
		printInfo(w, "%s\n", df.Path)
		if df.Missing {
			printInfo(w, "  (missing)\n\n")
			continue
		}
		printInfo(w, "  Role:       %s\n", df.Role)
		printInfo(w, "  Marked:     %t\n", df.Marked)
		printInfo(w, "  Version:    %s\n", df.Version)
		printInfo(w, "  Identifier: %s\n", df.Identifier)
		printInfo(w, "  Data bytes: %d\n", df.DataBytes)
		if df.Truncated > 0 {
			printInfo(w, "  Truncated:  %d bytes of torn tail\n", df.Truncated)
		}
		if headersOnly {
			printInfo(w, "\n")
			continue
		}
		printInfo(w, "  Records:    %d\n", len(df.Records))
		for i, rec := range df.Records {
			printInfo(w, "    %6d  %-6s  %s  %d bytes\n", i, rec.Operator, rec.TransactionID, rec.PayloadBytes)
		}
		printInfo(w, "\n")
	}
	return nil
}

func dumpLogFile(path string, opts logfile.Options) (dumpFile, error) {
	df := dumpFile{Path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		df.Missing = true
		return df, nil
	}

	f, err := logfile.Open(path, opts, false, zap.NewNop())
	if err != nil {
		return df, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.CloseQuietly()

	h := f.Header()
	df.Role = h.Role().String()
	df.Marked = h.Marked
	df.Version = fmt.Sprintf("%d.%d", h.Major, h.Minor)
	df.Identifier = h.IdentifierString()
	df.DataBytes = f.DataSize()
	df.Truncated = f.TruncatedBytes()

	if headersOnly {
		return df, nil
	}

	r := f.NewReader()
	for {
		rec, ok, err := r.NextRecord()
		if err != nil {
			return df, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if !ok {
			break
		}
		df.Records = append(df.Records, dumpRecord{
			Operator:      rec.Operator.String(),
			TransactionID: rec.Key.String(),
			PayloadBytes:  len(rec.Payload),
		})
	}
	return df, nil
}
