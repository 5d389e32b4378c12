package resource

import (
	"context"
	"time"

	"github.com/devrev/pairdb/txcoordinator/internal/model"
	"github.com/stretchr/testify/mock"
)

// MockManager is a mock implementation of Manager
type MockManager struct {
	mock.Mock
}

func (m *MockManager) Start(ctx context.Context, xid model.Xid, flags Flag) error {
	return m.Called(ctx, xid, flags).Error(0)
}

func (m *MockManager) End(ctx context.Context, xid model.Xid, flags Flag) error {
	return m.Called(ctx, xid, flags).Error(0)
}

func (m *MockManager) Prepare(ctx context.Context, xid model.Xid) (Vote, error) {
	args := m.Called(ctx, xid)
	return args.Get(0).(Vote), args.Error(1)
}

func (m *MockManager) Commit(ctx context.Context, xid model.Xid, onePhase bool) error {
	return m.Called(ctx, xid, onePhase).Error(0)
}

func (m *MockManager) Rollback(ctx context.Context, xid model.Xid) error {
	return m.Called(ctx, xid).Error(0)
}

func (m *MockManager) Forget(ctx context.Context, xid model.Xid) error {
	return m.Called(ctx, xid).Error(0)
}

func (m *MockManager) Recover(ctx context.Context, flags Flag) ([]model.Xid, error) {
	args := m.Called(ctx, flags)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Xid), args.Error(1)
}

func (m *MockManager) IsSameRM(other Manager) bool {
	return m.Called(other).Bool(0)
}

func (m *MockManager) SetTransactionTimeout(timeout time.Duration) (bool, error) {
	args := m.Called(timeout)
	return args.Bool(0), args.Error(1)
}

func (m *MockManager) TransactionTimeout() (time.Duration, error) {
	args := m.Called()
	return args.Get(0).(time.Duration), args.Error(1)
}
