package docstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// mockDynamoDB is an in-memory DynamoDBAPI that serves at most pageSize
// items per Query call to exercise paging.
type mockDynamoDB struct {
	mu       sync.Mutex
	items    map[string]map[string]map[string]types.AttributeValue
	pageSize int

	queryCalls int
	getErr     error
}

func newMockDynamoDB() *mockDynamoDB {
	return &mockDynamoDB{
		items:    make(map[string]map[string]map[string]types.AttributeValue),
		pageSize: 2,
	}
}

func (m *mockDynamoDB) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	coll := getString(params.Key, "collection")
	id := getString(params.Key, "id")
	return &dynamodb.GetItemOutput{Item: m.items[coll][id]}, nil
}

func (m *mockDynamoDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll := getString(params.Item, "collection")
	id := getString(params.Item, "id")
	if m.items[coll] == nil {
		m.items[coll] = make(map[string]map[string]types.AttributeValue)
	}
	m.items[coll][id] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamoDB) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCalls++

	coll := getString(params.ExpressionAttributeValues, ":c")
	ids := make([]string, 0, len(m.items[coll]))
	for id := range m.items[coll] {
		if params.ExclusiveStartKey != nil && id <= getString(params.ExclusiveStartKey, "id") {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	n := m.pageSize
	if params.Limit != nil && int(*params.Limit) < n {
		n = int(*params.Limit)
	}
	out := &dynamodb.QueryOutput{}
	for i, id := range ids {
		if i == n {
			break
		}
		out.Items = append(out.Items, m.items[coll][id])
	}
	if len(ids) > n {
		last := out.Items[len(out.Items)-1]
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"collection": last["collection"],
			"id":         last["id"],
		}
	}
	return out, nil
}

func (m *mockDynamoDB) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{}, nil
}

func TestDynamoDBStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		return NewDynamoDBStoreWithClient(newMockDynamoDB(), "documents")
	})
}

func TestDynamoDBQueryPages(t *testing.T) {
	mock := newMockDynamoDB()
	s := NewDynamoDBStoreWithClient(mock, "documents")
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		if _, err := s.SetDocument(ctx, "nums", id, nil); err != nil {
			t.Fatalf("SetDocument: %v", err)
		}
	}

	docs, err := s.RunQuery(ctx, QuerySpec{Collection: "nums"})
	if err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	if len(docs) != 5 {
		t.Errorf("got %d docs, want 5", len(docs))
	}
	if mock.queryCalls != 3 {
		t.Errorf("Query called %d times, want 3 pages", mock.queryCalls)
	}

	mock.queryCalls = 0
	docs, err = s.RunQuery(ctx, QuerySpec{Collection: "nums", Limit: 3})
	if err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	if len(docs) != 3 || docs[2].ID != "3" {
		t.Errorf("limited query = %v, want ids 1..3", docs)
	}
	if mock.queryCalls != 2 {
		t.Errorf("Query called %d times, want 2", mock.queryCalls)
	}
}

func TestDynamoDBMissingTable(t *testing.T) {
	mock := newMockDynamoDB()
	mock.getErr = &smithy.GenericAPIError{Code: "ResourceNotFoundException", Message: "no table"}
	s := NewDynamoDBStoreWithClient(mock, "documents")

	_, err := s.GetDocument(context.Background(), "c", "1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), `table "documents" not found`) {
		t.Errorf("error = %v, want table name", err)
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		t.Error("wrapped error lost the API error")
	}
}
