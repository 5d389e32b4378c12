package diskmanager

import (
	"errors"
	"testing"
	"time"

	xaerrors "github.com/devrev/pairdb/txcoordinator/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T, fn func(string) (Usage, error)) *DiskManager {
	t.Helper()
	dm, err := NewDiskManager(DefaultConfig(t.TempDir()), zap.NewNop())
	require.NoError(t, err)
	dm.statfs = fn
	return dm
}

func TestCheckBeforeWrite(t *testing.T) {
	dm := newTestManager(t, func(string) (Usage, error) {
		return Usage{TotalBytes: 1000, AvailableBytes: 100}, nil
	})

	assert.NoError(t, dm.CheckBeforeWrite(100))

	err := dm.CheckBeforeWrite(101)
	require.Error(t, err)
	assert.Equal(t, xaerrors.ErrCodeDiskFull, xaerrors.GetCode(err))
}

func TestCheckBeforeWrite_StatFailureDoesNotBlock(t *testing.T) {
	dm := newTestManager(t, func(string) (Usage, error) {
		return Usage{}, errors.New("no such device")
	})

	assert.NoError(t, dm.CheckBeforeWrite(1<<40))
}

func TestUsage_CachesWithinInterval(t *testing.T) {
	calls := 0
	dm := newTestManager(t, func(string) (Usage, error) {
		calls++
		return Usage{TotalBytes: 100, AvailableBytes: 25}, nil
	})
	dm.checkInterval = time.Hour

	u, err := dm.Usage()
	require.NoError(t, err)
	assert.Equal(t, 75.0, u.UsagePercent())

	_, err = dm.Usage()
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	_, err = dm.ForceCheck()
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestStatfs_RealDirectory(t *testing.T) {
	u, err := statfs(t.TempDir())
	require.NoError(t, err)
	assert.Greater(t, u.TotalBytes, uint64(0))
}
