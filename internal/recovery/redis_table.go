package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/devrev/pairdb/txcoordinator/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisTable implements BranchTable on a Redis hash. The table exists once
// its schema key is set; the branch hash itself disappears whenever it is
// empty and cannot carry that information.
type RedisTable struct {
	client    *redis.Client
	schemaKey string
	hashKey   string
	logger    *zap.Logger
}

// insertScript adds a row only while the schema key exists, so a table that
// probes as missing never collects rows.
var insertScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return redis.error_reply("ERR pending-branch table " .. KEYS[1] .. " does not exist")
end
return redis.call("HSETNX", KEYS[2], ARGV[1], ARGV[2])
`)

type redisBranch struct {
	GlobalID  string `json:"gxid"`
	BranchID  string `json:"bxid"`
	CreatedAt int64  `json:"created_at"`
}

// NewRedisTable connects to the Redis server at url (redis://...) and
// returns the table named table.
func NewRedisTable(ctx context.Context, url, table string, logger *zap.Logger) (*RedisTable, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisTableWithClient(client, table, logger), nil
}

// NewRedisTableWithClient wraps an existing client. Close closes the client.
func NewRedisTableWithClient(client *redis.Client, table string, logger *zap.Logger) *RedisTable {
	if table == "" {
		table = DefaultTableName
	}
	return &RedisTable{
		client:    client,
		schemaKey: table + ":schema",
		hashKey:   table + ":branches",
		logger:    logger,
	}
}

// EnsureSchema marks the table as present
func (t *RedisTable) EnsureSchema(ctx context.Context) error {
	return t.client.SetNX(ctx, t.schemaKey, time.Now().UTC().Format(time.RFC3339), 0).Err()
}

// Insert records a pending branch. It fails when the table does not exist.
func (t *RedisTable) Insert(ctx context.Context, branch model.PendingBranch) error {
	data, err := json.Marshal(redisBranch{
		GlobalID:  branch.GlobalID,
		BranchID:  branch.BranchID,
		CreatedAt: branch.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal pending branch: %w", err)
	}
	return insertScript.Run(ctx, t.client, []string{t.schemaKey, t.hashKey}, branch.Identifier, data).Err()
}

// Exists reports whether identifier is pending
func (t *RedisTable) Exists(ctx context.Context, identifier string) (bool, error) {
	return t.client.HExists(ctx, t.hashKey, identifier).Result()
}

// List returns every pending row
func (t *RedisTable) List(ctx context.Context) ([]model.PendingBranch, error) {
	fields, err := t.client.HGetAll(ctx, t.hashKey).Result()
	if err != nil {
		return nil, err
	}

	branches := make([]model.PendingBranch, 0, len(fields))
	for identifier, data := range fields {
		var rb redisBranch
		if err := json.Unmarshal([]byte(data), &rb); err != nil {
			t.logger.Warn("Skipping undecodable pending branch",
				zap.String("identifier", identifier),
				zap.Error(err))
			continue
		}
		branches = append(branches, model.PendingBranch{
			Identifier: identifier,
			GlobalID:   rb.GlobalID,
			BranchID:   rb.BranchID,
			CreatedAt:  time.UnixMilli(rb.CreatedAt).UTC(),
		})
	}
	return branches, nil
}

// DeleteBatch removes all identifiers with a single HDEL, which Redis
// applies atomically.
func (t *RedisTable) DeleteBatch(ctx context.Context, identifiers []string) error {
	if len(identifiers) == 0 {
		return nil
	}
	return t.client.HDel(ctx, t.hashKey, identifiers...).Err()
}

// Probe checks for the schema key
func (t *RedisTable) Probe(ctx context.Context) (TableState, error) {
	n, err := t.client.Exists(ctx, t.schemaKey).Result()
	if err != nil {
		return TableProbeFailed, err
	}
	if n == 0 {
		return TableNotFound, nil
	}
	return TableExists, nil
}

// Ping checks the Redis connection
func (t *RedisTable) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (t *RedisTable) Close() error {
	return t.client.Close()
}
