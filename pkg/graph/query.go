package graph

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Query selects an index prefix per spec §4.2 (Type first, else
// Property+Value, else the full index — administrative listing only),
// asks the store for Limit+1 keys so it can tell whether more remain,
// extracts each node id from the key, and fetches the matching nodes
// concurrently. Nodes that no longer resolve are skipped — tolerating
// index staleness from a crash-interrupted delete rather than failing
// the whole query.
func (db *DB) Query(ctx context.Context, opts QueryOptions) (*QueryResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	prefix := db.indexPrefixFor(opts)
	keys, _, _, err := db.store.List(ctx, prefix, opts.Limit+1, opts.Cursor)
	if err != nil {
		return nil, err
	}

	hasMore := len(keys) > opts.Limit
	if hasMore {
		keys = keys[:opts.Limit]
	}

	nodes := make([]*Node, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			id := nodeIDFromIndexKey(key)
			n, err := db.GetNode(gctx, id)
			if err != nil {
				return err
			}
			nodes[i] = n // left nil if the node no longer resolves
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n != nil {
			items = append(items, n)
		}
	}

	result := &QueryResult{Items: items, HasMore: hasMore}
	if hasMore && len(keys) > 0 {
		last := keys[len(keys)-1]
		result.Cursor = &last
	}
	return result, nil
}
