package grounding

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockQuerier is a mock implementation of Querier using testify/mock.
type MockQuerier struct {
	mock.Mock
}

func (m *MockQuerier) Execute(ctx context.Context, req QueryRequest) (QueryResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(QueryResult), args.Error(1)
}
