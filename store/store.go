package store

import (
	"context"
	"errors"

	"github.com/zlnvch/layerlink/models"
)

// LayerlinkStore archives document comments. Layers are never persisted.
type LayerlinkStore interface {
	GetComments(ctx context.Context, documentId string) ([]models.Comment, error)
	WriteCommentBatch(ctx context.Context, comments []models.CommentRecord) ([]models.CommentRecord, error)
	ResolveComment(ctx context.Context, documentId string, commentId string) error
}

var (
	ErrItemNotFound    = errors.New("item does not exist")
	ErrConditionFailed = errors.New("condition not met")
)
