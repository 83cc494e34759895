package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/layerlink/cache"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Publish(ctx context.Context, channel string, message []byte) error {
	args := m.Called(ctx, channel, message)
	return args.Error(0)
}

func (m *MockCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	args := m.Called(ctx, channel, handler)
	return args.Error(0)
}

func (m *MockCache) AddComment(ctx context.Context, documentId string, commentId string, score int64, commentData []byte) (bool, error) {
	args := m.Called(ctx, documentId, commentId, score, commentData)
	return args.Bool(0), args.Error(1)
}

func (m *MockCache) AddCommentsBatch(ctx context.Context, documentId string, comments []cache.CommentCacheItem) error {
	args := m.Called(ctx, documentId, comments)
	return args.Error(0)
}

func (m *MockCache) ResolveComment(ctx context.Context, documentId string, commentId string) error {
	args := m.Called(ctx, documentId, commentId)
	return args.Error(0)
}

func (m *MockCache) GetComments(ctx context.Context, documentId string) ([][]byte, error) {
	args := m.Called(ctx, documentId)
	return args.Get(0).([][]byte), args.Error(1)
}

func (m *MockCache) SetDocumentComplete(ctx context.Context, documentId string) error {
	args := m.Called(ctx, documentId)
	return args.Error(0)
}

func (m *MockCache) IsDocumentComplete(ctx context.Context, documentId string) (bool, error) {
	args := m.Called(ctx, documentId)
	return args.Bool(0), args.Error(1)
}
