package recovery

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	xaerrors "github.com/devrev/pairdb/txcoordinator/internal/errors"
	"github.com/devrev/pairdb/txcoordinator/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedisTable(t *testing.T) (*RedisTable, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	table := NewRedisTableWithClient(client, "bytejta", zap.NewNop())
	t.Cleanup(func() { _ = table.Close() })
	return table, mr
}

func TestRedisTable_InsertListDelete(t *testing.T) {
	ctx := context.Background()
	table, _ := newTestRedisTable(t)
	require.NoError(t, table.EnsureSchema(ctx))

	global := model.NewXid()
	branch := global.NewBranch()
	require.NoError(t, table.Insert(ctx, model.NewPendingBranch(global, "cache")))
	require.NoError(t, table.Insert(ctx, model.NewPendingBranch(branch, "cache")))
	require.NoError(t, table.Insert(ctx, model.NewPendingBranch(branch, "cache")))

	rows, err := table.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	found, err := table.Exists(ctx, branch.Identifier())
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, table.DeleteBatch(ctx, []string{global.Identifier(), branch.Identifier()}))

	rows, err = table.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRedisTable_Probe(t *testing.T) {
	ctx := context.Background()
	table, mr := newTestRedisTable(t)

	state, err := table.Probe(ctx)
	require.NoError(t, err)
	assert.Equal(t, TableNotFound, state)

	require.NoError(t, table.EnsureSchema(ctx))
	state, err = table.Probe(ctx)
	require.NoError(t, err)
	assert.Equal(t, TableExists, state)

	mr.Close()
	state, err = table.Probe(ctx)
	assert.Error(t, err)
	assert.Equal(t, TableProbeFailed, state)
}

func TestRedisTable_InsertRequiresSchema(t *testing.T) {
	ctx := context.Background()
	table, _ := newTestRedisTable(t)

	xid := model.NewXid()
	assert.Error(t, table.Insert(ctx, model.NewPendingBranch(xid, "cache")))

	rows, err := table.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// Through the adapter the missing table is not an error
	adapter := NewAdapter("cache", table, zap.NewNop(), nil)
	require.NoError(t, adapter.MarkPrepared(ctx, xid))

	pending, err := adapter.Recover(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRedisAdapter_RoundTrip(t *testing.T) {
	ctx := context.Background()
	table, _ := newTestRedisTable(t)
	require.NoError(t, table.EnsureSchema(ctx))
	adapter := NewAdapter("cache", table, zap.NewNop(), nil)

	global := model.NewXid()
	branch := global.NewBranch()
	require.NoError(t, adapter.MarkPrepared(ctx, global))
	require.NoError(t, adapter.MarkPrepared(ctx, branch))

	xids, err := adapter.Recover(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.Xid{global, branch}, xids)

	for i := 0; i < 2; i++ {
		resolved, err := adapter.IsBranchResolved(ctx, branch)
		require.NoError(t, err)
		assert.False(t, resolved)
	}

	require.NoError(t, adapter.Forget(ctx, branch, global))

	resolved, err := adapter.IsBranchResolved(ctx, branch)
	require.NoError(t, err)
	assert.True(t, resolved)
}

func TestRedisAdapter_Classification(t *testing.T) {
	ctx := context.Background()

	t.Run("table never configured", func(t *testing.T) {
		table, mr := newTestRedisTable(t)
		adapter := NewAdapter("cache", table, zap.NewNop(), nil)
		// Wrong type under the branch key makes every hash command fail
		require.NoError(t, mr.Set("bytejta:branches", "not-a-hash"))

		xids, err := adapter.Recover(ctx)
		require.NoError(t, err)
		assert.Empty(t, xids)
	})

	t.Run("table present but operation fails", func(t *testing.T) {
		table, mr := newTestRedisTable(t)
		require.NoError(t, table.EnsureSchema(ctx))
		adapter := NewAdapter("cache", table, zap.NewNop(), nil)
		require.NoError(t, mr.Set("bytejta:branches", "not-a-hash"))

		_, err := adapter.Recover(ctx)
		assert.ErrorIs(t, err, xaerrors.ErrRMError)

		err = adapter.Forget(ctx, model.NewXid())
		assert.ErrorIs(t, err, xaerrors.ErrRMError)
	})

	t.Run("server unreachable", func(t *testing.T) {
		table, mr := newTestRedisTable(t)
		adapter := NewAdapter("cache", table, zap.NewNop(), nil)
		mr.Close()

		_, err := adapter.IsBranchResolved(ctx, model.NewXid())
		assert.ErrorIs(t, err, xaerrors.ErrRMFail)
	})
}

func TestRedisTable_FailedBatchDeletesNothing(t *testing.T) {
	ctx := context.Background()
	table, mr := newTestRedisTable(t)
	require.NoError(t, table.EnsureSchema(ctx))

	a, b := model.NewXid(), model.NewXid()
	require.NoError(t, table.Insert(ctx, model.NewPendingBranch(a, "cache")))
	require.NoError(t, table.Insert(ctx, model.NewPendingBranch(b, "cache")))

	mr.SetError("ERR simulated failure")
	assert.Error(t, table.DeleteBatch(ctx, []string{a.Identifier(), b.Identifier()}))
	mr.SetError("")

	for _, id := range []string{a.Identifier(), b.Identifier()} {
		found, err := table.Exists(ctx, id)
		require.NoError(t, err)
		assert.True(t, found)
	}
}
