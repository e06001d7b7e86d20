package storagemock

import (
	"context"

	"github.com/growattmon/growattmon/pkg/storage"
	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

var _ storage.Store = (*MockStore)(nil)

func (m *MockStore) LoadThrottle(ctx context.Context) (storage.ThrottleRecords, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(storage.ThrottleRecords), args.Error(1)
	}
	return storage.ThrottleRecords{}, nil
}

func (m *MockStore) SaveThrottle(ctx context.Context, records storage.ThrottleRecords) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
