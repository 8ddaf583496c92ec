package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// documentsBucket holds one nested bucket per collection.
var documentsBucket = []byte("documents")

// BoltStore implements Store on an embedded bbolt file. Collections are
// nested buckets keyed by document ID, so cursor order is ID order.
type BoltStore struct {
	db *bbolt.DB
}

// boltRecord is the stored form of one document.
type boltRecord struct {
	Data       map[string]any `json:"data"`
	UpdateTime string         `json:"update_time"`
}

// NewBoltStore opens or creates the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating documents bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) GetDocument(ctx context.Context, collection, id string) (*Snapshot, error) {
	var snap *Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		coll := tx.Bucket(documentsBucket).Bucket([]byte(collection))
		if coll == nil {
			return nil
		}
		v := coll.Get([]byte(id))
		if v == nil {
			return nil
		}
		var err error
		snap, err = decodeRecord(collection, id, v)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("getting document %s/%s: %w", collection, id, err)
	}
	if snap == nil {
		return missing(collection, id), nil
	}
	return snap, nil
}

func (s *BoltStore) SetDocument(ctx context.Context, collection, id string, data map[string]any) (*Snapshot, error) {
	if data == nil {
		data = map[string]any{}
	}
	updated := now()
	v, err := json.Marshal(boltRecord{Data: data, UpdateTime: formatTime(updated)})
	if err != nil {
		return nil, fmt.Errorf("encoding document data: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		coll, err := tx.Bucket(documentsBucket).CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}
		return coll.Put([]byte(id), v)
	})
	if err != nil {
		return nil, fmt.Errorf("setting document %s/%s: %w", collection, id, err)
	}
	return decodeRecord(collection, id, v)
}

func (s *BoltStore) RunQuery(ctx context.Context, q QuerySpec) ([]Snapshot, error) {
	out := []Snapshot{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		coll := tx.Bucket(documentsBucket).Bucket([]byte(q.Collection))
		if coll == nil {
			return nil
		}
		c := coll.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if q.Limit > 0 && len(out) >= q.Limit {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			snap, err := decodeRecord(q.Collection, string(k), v)
			if err != nil {
				return err
			}
			out = append(out, *snap)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", q.Collection, err)
	}
	return out, nil
}

func (s *BoltStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(documentsBucket) == nil {
			return errors.New("documents bucket missing")
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// decodeRecord copies v, which is only valid inside its transaction.
func decodeRecord(collection, id string, v []byte) (*Snapshot, error) {
	var rec boltRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, fmt.Errorf("decoding document data: %w", err)
	}
	if rec.Data == nil {
		rec.Data = map[string]any{}
	}
	return &Snapshot{
		Collection: collection,
		ID:         id,
		Exists:     true,
		Data:       rec.Data,
		UpdateTime: parseTime(rec.UpdateTime),
	}, nil
}
