package docstore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/firebridge/firebridge/internal/config"
)

// FirestoreStore implements Store on Cloud Firestore. Collections and
// documents map one to one. The client honors FIRESTORE_EMULATOR_HOST.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(ctx context.Context, cfg config.FirestoreConfig) (*FirestoreStore, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firestore project_id is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	var (
		client *firestore.Client
		err    error
	)
	if cfg.Database != "" {
		client, err = firestore.NewClientWithDatabase(ctx, cfg.ProjectID, cfg.Database, opts...)
	} else {
		client, err = firestore.NewClient(ctx, cfg.ProjectID, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &FirestoreStore{client: client}, nil
}

func (s *FirestoreStore) GetDocument(ctx context.Context, collection, id string) (*Snapshot, error) {
	doc, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return missing(collection, id), nil
		}
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return firestoreSnapshot(collection, doc), nil
}

func (s *FirestoreStore) SetDocument(ctx context.Context, collection, id string, data map[string]any) (*Snapshot, error) {
	if data == nil {
		data = map[string]any{}
	}
	res, err := s.client.Collection(collection).Doc(id).Set(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("setting document: %w", err)
	}
	return &Snapshot{
		Collection: collection,
		ID:         id,
		Exists:     true,
		Data:       data,
		UpdateTime: res.UpdateTime,
	}, nil
}

func (s *FirestoreStore) RunQuery(ctx context.Context, q QuerySpec) ([]Snapshot, error) {
	query := s.client.Collection(q.Collection).OrderBy(firestore.DocumentID, firestore.Asc)
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	out := []Snapshot{}
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("querying documents: %w", err)
		}
		out = append(out, *firestoreSnapshot(q.Collection, doc))
	}
	return out, nil
}

func (s *FirestoreStore) Ping(ctx context.Context) error {
	_, err := s.client.Collections(ctx).Next()
	if err != nil && !errors.Is(err, iterator.Done) {
		return err
	}
	return nil
}

func (s *FirestoreStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func firestoreSnapshot(collection string, doc *firestore.DocumentSnapshot) *Snapshot {
	return &Snapshot{
		Collection: collection,
		ID:         doc.Ref.ID,
		Exists:     doc.Exists(),
		Data:       doc.Data(),
		UpdateTime: doc.UpdateTime,
	}
}
