package cache

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"grounded-query/internal/grounding"
)

// MockCache is a mock implementation of the Cache interface for testing
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string) (*grounding.QueryResult, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*grounding.QueryResult), args.Error(1)
}

func (m *MockCache) Set(ctx context.Context, key string, result *grounding.QueryResult, ttl time.Duration) error {
	args := m.Called(ctx, key, result, ttl)
	return args.Error(0)
}

func (m *MockCache) Close() error {
	args := m.Called()
	return args.Error(0)
}
