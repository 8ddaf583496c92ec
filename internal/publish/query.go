package publish

import (
	"context"
	"log/slog"

	"github.com/firebridge/firebridge/internal/bridge"
	"github.com/firebridge/firebridge/internal/docstore"
)

// Query fetches the documents q matches, in the order the backend returns
// them. When limit is positive the query is narrowed with q.Limit(limit) and
// the narrowed query is the one dispatched.
func Query(s *bridge.Scheduler, q docstore.Querier, limit int) *bridge.Publisher[[]docstore.Snapshot] {
	return bridge.New(s, OpQuery, q, queryOp(q, limit))
}

// QueryLenient is Query with every failure turned into an empty result.
func QueryLenient(s *bridge.Scheduler, q docstore.Querier, limit int) *bridge.Publisher[[]docstore.Snapshot] {
	op := queryOp(q, limit)
	return bridge.New(s, OpQueryLenient, q, func(ctx context.Context, done func([]docstore.Snapshot, error)) {
		op(ctx, func(snaps []docstore.Snapshot, err error) {
			if err != nil {
				slog.Debug("Lenient query failed, returning no documents", "error", err)
				done([]docstore.Snapshot{}, nil)
				return
			}
			done(snaps, nil)
		})
	})
}

func queryOp(q docstore.Querier, limit int) bridge.Operation[[]docstore.Snapshot] {
	return func(ctx context.Context, done func([]docstore.Snapshot, error)) {
		target := q
		if limit > 0 {
			target = q.Limit(limit)
		}
		target.GetDocuments(ctx, done)
	}
}
