package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"

	"github.com/firebridge/firebridge/internal/config"
)

// errItemNotFound is returned by CosmosAPI.ReadItem for a missing item.
var errItemNotFound = errors.New("cosmos item not found")

// CosmosAPI is the subset of container operations the store uses. It allows
// mocking in tests.
type CosmosAPI interface {
	// ReadItem returns the raw item, or errItemNotFound.
	ReadItem(ctx context.Context, partition, id string) ([]byte, error)
	UpsertItem(ctx context.Context, partition string, item []byte) error
	QueryItems(ctx context.Context, partition, query string, params []azcosmos.QueryParameter) ([][]byte, error)
	Ping(ctx context.Context) error
}

// realCosmosClient wraps an azcosmos container client to satisfy CosmosAPI.
type realCosmosClient struct {
	container *azcosmos.ContainerClient
}

func (c *realCosmosClient) ReadItem(ctx context.Context, partition, id string) ([]byte, error) {
	resp, err := c.container.ReadItem(ctx, azcosmos.NewPartitionKeyString(partition), id, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return nil, errItemNotFound
		}
		return nil, err
	}
	return resp.Value, nil
}

func (c *realCosmosClient) UpsertItem(ctx context.Context, partition string, item []byte) error {
	_, err := c.container.UpsertItem(ctx, azcosmos.NewPartitionKeyString(partition), item, nil)
	return err
}

func (c *realCosmosClient) QueryItems(ctx context.Context, partition, query string, params []azcosmos.QueryParameter) ([][]byte, error) {
	pager := c.container.NewQueryItemsPager(query, azcosmos.NewPartitionKeyString(partition), &azcosmos.QueryOptions{
		QueryParameters: params,
	})
	var items [][]byte
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, resp.Items...)
	}
	return items, nil
}

func (c *realCosmosClient) Ping(ctx context.Context) error {
	_, err := c.container.Read(ctx, nil)
	return err
}

// CosmosStore implements Store on an Azure Cosmos DB container partitioned
// by "/collection".
type CosmosStore struct {
	client CosmosAPI
}

type cosmosDocument struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	Data       map[string]any `json:"data"`
	UpdateTime string         `json:"update_time"`
}

func NewCosmosStore(ctx context.Context, cfg config.CosmosConfig) (*CosmosStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("cosmos endpoint is required")
	}
	if cfg.MasterKey == "" {
		return nil, fmt.Errorf("cosmos master key is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("cosmos database name is required")
	}
	if cfg.Container == "" {
		return nil, fmt.Errorf("cosmos container name is required")
	}

	cred, err := azcosmos.NewKeyCredential(cfg.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("creating cosmos key credential: %w", err)
	}
	client, err := azcosmos.NewClientWithKey(cfg.Endpoint, cred, &azcosmos.ClientOptions{
		ClientOptions: policy.ClientOptions{},
	})
	if err != nil {
		return nil, fmt.Errorf("creating cosmos client: %w", err)
	}
	container, err := client.NewContainer(cfg.Database, cfg.Container)
	if err != nil {
		return nil, fmt.Errorf("getting container client: %w", err)
	}

	return NewCosmosStoreWithClient(&realCosmosClient{container: container}), nil
}

// NewCosmosStoreWithClient creates a store around an existing client.
func NewCosmosStoreWithClient(client CosmosAPI) *CosmosStore {
	return &CosmosStore{client: client}
}

func (s *CosmosStore) GetDocument(ctx context.Context, collection, id string) (*Snapshot, error) {
	raw, err := s.client.ReadItem(ctx, collection, id)
	if errors.Is(err, errItemNotFound) {
		return missing(collection, id), nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return decodeCosmos(raw)
}

func (s *CosmosStore) SetDocument(ctx context.Context, collection, id string, data map[string]any) (*Snapshot, error) {
	if data == nil {
		data = map[string]any{}
	}
	doc := cosmosDocument{
		ID:         id,
		Collection: collection,
		Data:       data,
		UpdateTime: formatTime(now()),
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling document: %w", err)
	}
	if err := s.client.UpsertItem(ctx, collection, raw); err != nil {
		return nil, fmt.Errorf("setting document: %w", err)
	}
	return decodeCosmos(raw)
}

func (s *CosmosStore) RunQuery(ctx context.Context, q QuerySpec) ([]Snapshot, error) {
	query := "SELECT * FROM c WHERE c.collection = @collection ORDER BY c.id"
	params := []azcosmos.QueryParameter{{Name: "@collection", Value: q.Collection}}
	if q.Limit > 0 {
		query += " OFFSET 0 LIMIT @limit"
		params = append(params, azcosmos.QueryParameter{Name: "@limit", Value: q.Limit})
	}

	items, err := s.client.QueryItems(ctx, q.Collection, query, params)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}

	out := make([]Snapshot, 0, len(items))
	for _, raw := range items {
		snap, err := decodeCosmos(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *CosmosStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *CosmosStore) Close() error {
	return nil
}

func decodeCosmos(raw []byte) (*Snapshot, error) {
	var doc cosmosDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling document: %w", err)
	}
	if doc.Data == nil {
		doc.Data = map[string]any{}
	}
	return &Snapshot{
		Collection: doc.Collection,
		ID:         doc.ID,
		Exists:     true,
		Data:       doc.Data,
		UpdateTime: parseTime(doc.UpdateTime),
	}, nil
}
