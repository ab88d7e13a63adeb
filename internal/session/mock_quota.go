package session

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockQuota is a mock implementation of Quota using testify/mock.
type MockQuota struct {
	mock.Mock
}

func (m *MockQuota) Reserve(ctx context.Context, sessionID string) (int, error) {
	args := m.Called(ctx, sessionID)
	return args.Int(0), args.Error(1)
}

func (m *MockQuota) Release(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}
