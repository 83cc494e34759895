package dynamo

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog/log"

	"github.com/zlnvch/layerlink/models"
	"github.com/zlnvch/layerlink/store"
)

// maxComments bounds how many comments one document load returns.
const maxComments = 2000

type DynamoLayerlinkStore struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoLayerlinkStore(ctx context.Context, devMode bool, dynamodbEndpoint string, tableName string) (*DynamoLayerlinkStore, error) {
	client, err := newDynamoDBClient(ctx, devMode, dynamodbEndpoint)
	if err != nil {
		return nil, err
	}

	tables, err := getTables(client, ctx)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(tables, tableName) {
		return nil, fmt.Errorf("given table name '%s' not found in dynamodb", tableName)
	}

	return &DynamoLayerlinkStore{client: client, tableName: tableName}, nil
}

// GetComments returns the comments of a document in id order. Comment ids
// are UUIDv7, so id order is creation order.
func (dynamoStore *DynamoLayerlinkStore) GetComments(ctx context.Context, documentId string) ([]models.Comment, error) {
	dynamoComments, err := queryAllByPK[dynamoComment](dynamoStore, ctx, commentPK(documentId), true, maxComments)
	if err != nil {
		return []models.Comment{}, err
	}

	comments := make([]models.Comment, 0, len(dynamoComments))
	for _, dc := range dynamoComments {
		comments = append(comments, commentFromDynamo(dc))
	}
	return comments, nil
}

// WriteCommentBatch inserts comments with a conditional put each. A comment
// id that is already archived is never overwritten; a resolve carried by
// the record is applied to the archived copy instead.
func (dynamoStore *DynamoLayerlinkStore) WriteCommentBatch(ctx context.Context, comments []models.CommentRecord) ([]models.CommentRecord, error) {
	var (
		unprocessed []models.CommentRecord
		errs        []error
	)
	for _, record := range comments {
		err := putItemIfAbsent(dynamoStore, ctx, commentRecordToDynamo(record))
		if errors.Is(err, store.ErrConditionFailed) {
			log.Debug().Str("documentId", record.DocumentId).Str("commentId", record.Comment.Id).Msg("Comment already archived, write skipped")
			err = nil
			if record.Comment.Resolved {
				err = dynamoStore.ResolveComment(ctx, record.DocumentId, record.Comment.Id)
			}
		}
		if err != nil {
			unprocessed = append(unprocessed, record)
			errs = append(errs, fmt.Errorf("write comment %s: %w", record.Comment.Id, err))
		}
	}
	return unprocessed, errors.Join(errs...)
}

// ResolveComment sets the resolved flag. It reports store.ErrItemNotFound
// when the comment was never written.
func (dynamoStore *DynamoLayerlinkStore) ResolveComment(ctx context.Context, documentId string, commentId string) error {
	_, err := updateItem(dynamoStore, ctx, dynamoComment{
		PK:       commentPK(documentId),
		SK:       commentId,
		Resolved: true,
	}, []string{"Resolved"})
	if err != nil {
		return fmt.Errorf("resolve comment %s: %w", commentId, err)
	}
	return nil
}
