package graph

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/metrik-tech/lily/pkg/kvstore"
)

// CreateNode allocates a fresh id, writes the node record, then writes
// one index entry per property. It does not verify natural-key
// uniqueness — that discipline belongs to the identity tracker's
// query-before-create pattern (spec §3, §5).
func (db *DB) CreateNode(ctx context.Context, properties map[string]any) (*Node, error) {
	n := &Node{
		ID:         newID(),
		Properties: properties,
		InEdges:    []EdgeID{},
		OutEdges:   []EdgeID{},
	}

	if err := db.putNode(ctx, n); err != nil {
		return nil, err
	}
	if err := db.writeIndexEntries(ctx, n.ID, n.Properties); err != nil {
		return nil, err
	}

	return n, nil
}

// GetNode performs a single point read. It returns (nil, nil) if the
// node does not exist — callers check for a nil result rather than a
// sentinel error, matching spec §7's "absent" Not Found convention.
func (db *DB) GetNode(ctx context.Context, id NodeID) (*Node, error) {
	raw, err := db.store.Get(ctx, db.nodeKey(id))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var n Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// UpdateNode reads the node, deletes index entries for every current
// property (not merely those being changed), merges delta over the
// properties map (delta overwrites), writes the node back, and writes
// index entries for every resulting property.
//
// Deleting-all-then-writing-all is simpler than diffing and is correct
// for the small property maps this graph deals with (spec §4.2).
func (db *DB) UpdateNode(ctx context.Context, id NodeID, delta map[string]any) (*Node, error) {
	n, err := db.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, nil
	}

	if err := db.deleteIndexEntries(ctx, n.ID, n.Properties); err != nil {
		return nil, err
	}

	if n.Properties == nil {
		n.Properties = make(map[string]any)
	}
	for k, v := range delta {
		n.Properties[k] = v
	}

	if err := db.putNode(ctx, n); err != nil {
		return nil, err
	}
	if err := db.writeIndexEntries(ctx, n.ID, n.Properties); err != nil {
		return nil, err
	}

	return n, nil
}

// DeleteNode reads the node; for each edge in inEdges ∪ outEdges,
// invokes DeleteEdge; deletes all index entries for its properties;
// deletes the node record. Returns false if the node did not exist.
func (db *DB) DeleteNode(ctx context.Context, id NodeID) (bool, error) {
	n, err := db.GetNode(ctx, id)
	if err != nil {
		return false, err
	}
	if n == nil {
		return false, nil
	}

	incident := make([]EdgeID, 0, len(n.InEdges)+len(n.OutEdges))
	incident = append(incident, n.InEdges...)
	incident = append(incident, n.OutEdges...)
	for _, eid := range incident {
		if _, err := db.DeleteEdge(ctx, eid); err != nil {
			return false, err
		}
	}

	if err := db.deleteIndexEntries(ctx, n.ID, n.Properties); err != nil {
		return false, err
	}

	if err := db.store.Delete(ctx, db.nodeKey(id)); err != nil {
		return false, err
	}

	return true, nil
}

func (db *DB) putNode(ctx context.Context, n *Node) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return db.store.Put(ctx, db.nodeKey(n.ID), raw)
}

type indexRecord struct {
	NodeID NodeID `json:"nodeId"`
	Value  any    `json:"value"`
}

func (db *DB) writeIndexEntries(ctx context.Context, id NodeID, properties map[string]any) error {
	for k, v := range properties {
		raw, err := json.Marshal(indexRecord{NodeID: id, Value: v})
		if err != nil {
			return err
		}
		key := db.indexKey(k, propValueKey(v), id)
		if err := db.store.Put(ctx, key, raw); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) deleteIndexEntries(ctx context.Context, id NodeID, properties map[string]any) error {
	for k, v := range properties {
		key := db.indexKey(k, propValueKey(v), id)
		if err := db.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
