package recovery

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Table drivers
const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// TableOptions selects and configures a pending-branch table backend
type TableOptions struct {
	Driver string
	DSN    string
	// Name defaults to DefaultTableName
	Name string
	// CreateTable creates the table when it does not exist yet
	CreateTable bool
}

// OpenTable connects to the backend named by opts.Driver
func OpenTable(ctx context.Context, opts TableOptions, logger *zap.Logger) (BranchTable, error) {
	name := opts.Name
	if name == "" {
		name = DefaultTableName
	}

	switch opts.Driver {
	case DriverPostgres:
		t, err := NewPostgresTable(ctx, opts.DSN, name, logger)
		if err != nil {
			return nil, err
		}
		if opts.CreateTable {
			if err := t.EnsureSchema(ctx); err != nil {
				t.Close()
				return nil, err
			}
		}
		return t, nil

	case DriverRedis:
		t, err := NewRedisTable(ctx, opts.DSN, name, logger)
		if err != nil {
			return nil, err
		}
		if opts.CreateTable {
			if err := t.EnsureSchema(ctx); err != nil {
				t.Close()
				return nil, err
			}
		}
		return t, nil

	default:
		return nil, fmt.Errorf("unsupported table driver: %q", opts.Driver)
	}
}
