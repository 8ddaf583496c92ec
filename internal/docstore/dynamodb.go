package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/firebridge/firebridge/internal/config"
)

// DynamoDBAPI is the subset of the DynamoDB client the store uses. It allows
// mocking in tests.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoDBStore implements Store on a single DynamoDB table with partition
// key "collection" and sort key "id", both strings. Document fields are
// stored as a JSON string in "data".
type DynamoDBStore struct {
	client    DynamoDBAPI
	tableName string
}

func NewDynamoDBStore(ctx context.Context, cfg config.DynamoDBConfig) (*DynamoDBStore, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("dynamodb table name is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}

	return NewDynamoDBStoreWithClient(dynamodb.NewFromConfig(awsCfg), cfg.Table), nil
}

// NewDynamoDBStoreWithClient creates a store around an existing client.
func NewDynamoDBStoreWithClient(client DynamoDBAPI, table string) *DynamoDBStore {
	return &DynamoDBStore{client: client, tableName: table}
}

func (s *DynamoDBStore) GetDocument(ctx context.Context, collection, id string) (*Snapshot, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			"collection": &types.AttributeValueMemberS{Value: collection},
			"id":         &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, s.wrap("getting document", err)
	}
	if resp.Item == nil {
		return missing(collection, id), nil
	}
	return itemToSnapshot(resp.Item)
}

func (s *DynamoDBStore) SetDocument(ctx context.Context, collection, id string, data map[string]any) (*Snapshot, error) {
	encoded, err := encodeData(data)
	if err != nil {
		return nil, err
	}
	updated := now()

	item := map[string]types.AttributeValue{
		"collection":  &types.AttributeValueMemberS{Value: collection},
		"id":          &types.AttributeValueMemberS{Value: id},
		"data":        &types.AttributeValueMemberS{Value: encoded},
		"update_time": &types.AttributeValueMemberS{Value: formatTime(updated)},
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return nil, s.wrap("setting document", err)
	}
	return itemToSnapshot(item)
}

// RunQuery pages through the collection partition until the limit is met.
// The sort key keeps results ordered by id.
func (s *DynamoDBStore) RunQuery(ctx context.Context, q QuerySpec) ([]Snapshot, error) {
	out := []Snapshot{}
	var startKey map[string]types.AttributeValue

	for {
		input := &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("#c = :c"),
			ExpressionAttributeNames: map[string]string{
				"#c": "collection",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":c": &types.AttributeValueMemberS{Value: q.Collection},
			},
			ScanIndexForward:  aws.Bool(true),
			ExclusiveStartKey: startKey,
		}
		if q.Limit > 0 {
			input.Limit = aws.Int32(int32(q.Limit - len(out)))
		}

		resp, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, s.wrap("querying documents", err)
		}
		for _, item := range resp.Items {
			snap, err := itemToSnapshot(item)
			if err != nil {
				return nil, err
			}
			out = append(out, *snap)
		}

		if q.Limit > 0 && len(out) >= q.Limit {
			return out[:q.Limit], nil
		}
		if resp.LastEvaluatedKey == nil {
			return out, nil
		}
		startKey = resp.LastEvaluatedKey
	}
}

func (s *DynamoDBStore) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	if err != nil {
		return s.wrap("describing table", err)
	}
	return nil
}

func (s *DynamoDBStore) Close() error {
	return nil
}

// wrap annotates err, naming the table when DynamoDB reports it missing.
func (s *DynamoDBStore) wrap(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ResourceNotFoundException" {
		return fmt.Errorf("%s: table %q not found: %w", op, s.tableName, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func getString(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func itemToSnapshot(item map[string]types.AttributeValue) (*Snapshot, error) {
	data, err := decodeData(getString(item, "data"))
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Collection: getString(item, "collection"),
		ID:         getString(item, "id"),
		Exists:     true,
		Data:       data,
		UpdateTime: parseTime(getString(item, "update_time")),
	}, nil
}
