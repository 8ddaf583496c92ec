package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/firebridge/firebridge/internal/docstore"
	fberr "github.com/firebridge/firebridge/internal/errors"
	"github.com/firebridge/firebridge/internal/publish"
)

// Document is the JSON form of a document snapshot.
type Document struct {
	Collection string         `json:"collection" doc:"Collection name"`
	ID         string         `json:"id" doc:"Document ID"`
	Data       map[string]any `json:"data" doc:"Document fields"`
	UpdateTime time.Time      `json:"update_time" doc:"Time of the last write"`
}

func documentFrom(snap docstore.Snapshot) Document {
	data := snap.Data
	if data == nil {
		data = map[string]any{}
	}
	return Document{
		Collection: snap.Collection,
		ID:         snap.ID,
		Data:       data,
		UpdateTime: snap.UpdateTime,
	}
}

// DocumentInput addresses one document.
type DocumentInput struct {
	Collection string `path:"collection" doc:"Collection name"`
	ID         string `path:"id" doc:"Document ID"`
}

// DocumentOutput returns one document.
type DocumentOutput struct {
	Body Document
}

// PutDocumentInput writes one document.
type PutDocumentInput struct {
	Collection string         `path:"collection" doc:"Collection name"`
	ID         string         `path:"id" doc:"Document ID"`
	Body       map[string]any `doc:"Document fields"`
}

// CollectionInput selects documents of a collection.
type CollectionInput struct {
	Collection string `path:"collection" doc:"Collection name"`
	Limit      int    `query:"limit" minimum:"0" doc:"Maximum number of documents; 0 means no limit"`
	Mode       string `query:"mode" enum:"strict,lenient" default:"strict" doc:"In lenient mode a failed query returns no documents instead of an error"`
}

// CollectionOutput lists documents.
type CollectionOutput struct {
	Body struct {
		Documents []Document `json:"documents" doc:"Documents ordered by ID"`
	}
}

func (s *Server) registerDocumentRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-document",
		Method:      http.MethodGet,
		Path:        "/v1/documents/{collection}/{id}",
		Summary:     "Fetch a document",
		Tags:        []string{"Documents"},
	}, s.getDocument)

	huma.Register(s.api, huma.Operation{
		OperationID: "put-document",
		Method:      http.MethodPut,
		Path:        "/v1/documents/{collection}/{id}",
		Summary:     "Write a document",
		Tags:        []string{"Documents"},
	}, s.putDocument)

	huma.Register(s.api, huma.Operation{
		OperationID: "query-collection",
		Method:      http.MethodGet,
		Path:        "/v1/collections/{collection}",
		Summary:     "Fetch the documents of a collection",
		Tags:        []string{"Documents"},
	}, s.queryCollection)
}

func (s *Server) getDocument(ctx context.Context, input *DocumentInput) (*DocumentOutput, error) {
	ref, err := s.docs.Doc(input.Collection, input.ID)
	if err != nil {
		return nil, apiError(err)
	}
	defer ref.Release()

	snap, err := publish.Document(s.sched, ref).Await(ctx)
	if err != nil {
		return nil, apiError(err)
	}
	if snap == nil || !snap.Exists {
		return nil, apiError(fberr.ErrNotFound.WithMessage("document %s/%s does not exist", input.Collection, input.ID))
	}
	return &DocumentOutput{Body: documentFrom(*snap)}, nil
}

// putDocument writes straight to the store; writes are not part of the
// bridge.
func (s *Server) putDocument(ctx context.Context, input *PutDocumentInput) (*DocumentOutput, error) {
	if err := docstore.ValidateCollection(input.Collection); err != nil {
		return nil, apiError(err)
	}
	if err := docstore.ValidateDocumentID(input.ID); err != nil {
		return nil, apiError(err)
	}
	snap, err := s.docs.Store().SetDocument(ctx, input.Collection, input.ID, input.Body)
	if err != nil {
		return nil, apiError(err)
	}
	return &DocumentOutput{Body: documentFrom(*snap)}, nil
}

func (s *Server) queryCollection(ctx context.Context, input *CollectionInput) (*CollectionOutput, error) {
	q, err := s.docs.Collection(input.Collection)
	if err != nil {
		return nil, apiError(err)
	}
	defer q.Release()

	p := publish.Query(s.sched, q, input.Limit)
	if input.Mode == "lenient" {
		p = publish.QueryLenient(s.sched, q, input.Limit)
	}
	snaps, err := p.Await(ctx)
	if err != nil {
		return nil, apiError(err)
	}

	out := &CollectionOutput{}
	out.Body.Documents = make([]Document, 0, len(snaps))
	for _, snap := range snaps {
		out.Body.Documents = append(out.Body.Documents, documentFrom(snap))
	}
	return out, nil
}
