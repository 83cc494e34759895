package cache

import "context"

type CommentCacheItem struct {
	CommentId string
	Score     int64
	Data      []byte
}

type LayerlinkCache interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func(message []byte)) error

	// AddComment reports false, and changes nothing, when the id is already cached.
	AddComment(ctx context.Context, documentId string, commentId string, score int64, commentData []byte) (bool, error)
	AddCommentsBatch(ctx context.Context, documentId string, comments []CommentCacheItem) error
	ResolveComment(ctx context.Context, documentId string, commentId string) error
	GetComments(ctx context.Context, documentId string) ([][]byte, error)

	SetDocumentComplete(ctx context.Context, documentId string) error
	IsDocumentComplete(ctx context.Context, documentId string) (bool, error)
}

// DocumentChannel is the pub/sub channel carrying relay traffic for one document.
func DocumentChannel(documentId string) string {
	return "document:" + documentId
}
