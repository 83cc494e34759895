package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/layerlink/models"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetComments(ctx context.Context, documentId string) ([]models.Comment, error) {
	args := m.Called(ctx, documentId)
	return args.Get(0).([]models.Comment), args.Error(1)
}

func (m *MockStore) WriteCommentBatch(ctx context.Context, comments []models.CommentRecord) ([]models.CommentRecord, error) {
	args := m.Called(ctx, comments)
	return args.Get(0).([]models.CommentRecord), args.Error(1)
}

func (m *MockStore) ResolveComment(ctx context.Context, documentId string, commentId string) error {
	args := m.Called(ctx, documentId, commentId)
	return args.Error(0)
}
