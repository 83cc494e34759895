package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/zlnvch/layerlink/store"
)

func newDynamoDBClient(ctx context.Context, devMode bool, dynamodbEndpoint string) (*dynamodb.Client, error) {
	if devMode {
		// Dummy credentials and region for DynamoDB Local
		cfg, err := config.LoadDefaultConfig(ctx,
			config.WithRegion("us-east-1"),
			config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider("dummy", "dummy", ""),
			),
		)
		if err != nil {
			return nil, err
		}

		return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(dynamodbEndpoint)
		}), nil
	}

	// Production: default config chain (task role, AWS endpoints)
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}

	return dynamodb.NewFromConfig(cfg), nil
}

func getTables(client *dynamodb.Client, ctx context.Context) ([]string, error) {
	output, err := client.ListTables(ctx, &dynamodb.ListTablesInput{})
	if err != nil {
		return nil, err
	}

	return output.TableNames, nil
}

// queryAllByPK returns all items of type T with the given PK, ordered by SK, with a limit.
func queryAllByPK[T any](dynamoStore *DynamoLayerlinkStore, ctx context.Context, pk string, scanIndexForward bool, limit int32) ([]T, error) {
	var results []T

	input := &dynamodb.QueryInput{
		TableName:              aws.String(dynamoStore.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
		ScanIndexForward: aws.Bool(scanIndexForward),
	}

	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}

	// Limit applies per page, so it is enforced globally as well
	paginator := dynamodb.NewQueryPaginator(dynamoStore.client, input)

	for paginator.HasMorePages() {
		if limit > 0 && len(results) >= int(limit) {
			break
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query failed: %w", err)
		}

		var pageItems []T
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &pageItems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal page items: %w", err)
		}

		results = append(results, pageItems...)
	}

	if limit > 0 && len(results) > int(limit) {
		results = results[:limit]
	}

	return results, nil
}

// putItemIfAbsent writes item unless one with the same key already exists,
// in which case it returns store.ErrConditionFailed and changes nothing.
func putItemIfAbsent[T any](dynamoStore *DynamoLayerlinkStore, ctx context.Context, item T) error {
	avMap, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	_, err = dynamoStore.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(dynamoStore.tableName),
		Item:                avMap,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var cce *types.ConditionalCheckFailedException
		if errors.As(err, &cce) {
			return store.ErrConditionFailed
		}
		return fmt.Errorf("put failed: %w", err)
	}
	return nil
}

// updateItem sets the listed fields of an existing item. It returns
// store.ErrItemNotFound if the item does not exist.
func updateItem[T any](dynamoStore *DynamoLayerlinkStore, ctx context.Context, item T, fieldsToUpdate []string) (T, error) {
	var zero T

	avMap, err := attributevalue.MarshalMap(item)
	if err != nil {
		return zero, fmt.Errorf("marshal error: %w", err)
	}

	pkAttr, ok := avMap["PK"]
	if !ok {
		return zero, errors.New("struct missing PK field")
	}
	skAttr, ok := avMap["SK"]
	if !ok {
		return zero, errors.New("struct missing SK field")
	}

	assignments := make([]string, 0, len(fieldsToUpdate))
	exprAttrValues := make(map[string]types.AttributeValue)
	exprAttrNames := make(map[string]string)

	for _, field := range fieldsToUpdate {
		// Never update keys
		if field == "PK" || field == "SK" {
			continue
		}
		val, ok := avMap[field]
		if !ok {
			continue
		}

		assignments = append(assignments, fmt.Sprintf("#%s = :%s", field, field))
		exprAttrNames["#"+field] = field
		exprAttrValues[":"+field] = val
	}
	if len(assignments) == 0 {
		return zero, errors.New("no fields to update")
	}

	out, err := dynamoStore.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(dynamoStore.tableName),
		Key: map[string]types.AttributeValue{
			"PK": pkAttr,
			"SK": skAttr,
		},
		UpdateExpression:          aws.String("SET " + strings.Join(assignments, ", ")),
		ExpressionAttributeNames:  exprAttrNames,
		ExpressionAttributeValues: exprAttrValues,
		ConditionExpression:       aws.String("attribute_exists(PK) AND attribute_exists(SK)"),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var cce *types.ConditionalCheckFailedException
		if errors.As(err, &cce) {
			return zero, store.ErrItemNotFound
		}
		return zero, fmt.Errorf("update failed: %w", err)
	}

	var updated T
	if err := attributevalue.UnmarshalMap(out.Attributes, &updated); err != nil {
		return zero, fmt.Errorf("failed to unmarshal updated item: %w", err)
	}

	return updated, nil
}
