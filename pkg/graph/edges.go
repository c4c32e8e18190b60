package graph

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/metrik-tech/lily/pkg/kvstore"
)

// CreateEdge reads both endpoints; if either is missing, fails with
// ErrEndpointMissing. It allocates a fresh id, appends it to
// fromNode.outEdges and toNode.inEdges, rewrites both node records, then
// writes the edge record.
//
// Endpoint records are not locked — two concurrent CreateEdge calls that
// both read the same endpoint before either writes it back can lose one
// append (spec §5). The edge record itself always persists.
func (db *DB) CreateEdge(ctx context.Context, fromID, toID NodeID, edgeType string, properties map[string]any) (*Edge, error) {
	from, err := db.GetNode(ctx, fromID)
	if err != nil {
		return nil, err
	}
	to, err := db.GetNode(ctx, toID)
	if err != nil {
		return nil, err
	}
	if from == nil || to == nil {
		return nil, ErrEndpointMissing
	}

	e := &Edge{
		ID:         newID(),
		Type:       edgeType,
		FromNodeID: fromID,
		ToNodeID:   toID,
		Properties: properties,
	}

	from.OutEdges = append(from.OutEdges, e.ID)
	if err := db.putNode(ctx, from); err != nil {
		return nil, err
	}

	// fromID == toID is legal (a self-loop); reuse the in-memory from copy
	// so the OutEdges append just made is not clobbered by the stale copy
	// of the same node read into to.
	if toID == fromID {
		to = from
	}
	to.InEdges = append(to.InEdges, e.ID)
	if err := db.putNode(ctx, to); err != nil {
		return nil, err
	}

	if err := db.putEdge(ctx, e); err != nil {
		return nil, err
	}

	return e, nil
}

// GetEdge performs a single point read, returning (nil, nil) if absent.
func (db *DB) GetEdge(ctx context.Context, id EdgeID) (*Edge, error) {
	raw, err := db.store.Get(ctx, db.edgeKey(id))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var e Edge
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// UpdateEdge merges delta over the edge's properties map and writes it
// back. No edge indexes exist, so there is no index bookkeeping.
func (db *DB) UpdateEdge(ctx context.Context, id EdgeID, delta map[string]any) (*Edge, error) {
	e, err := db.GetEdge(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, nil
	}

	if e.Properties == nil {
		e.Properties = make(map[string]any)
	}
	for k, v := range delta {
		e.Properties[k] = v
	}

	if err := db.putEdge(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// DeleteEdge reads the edge, removes its id from each endpoint's
// adjacency list (rewriting each endpoint), then deletes the edge
// record. Absent endpoints are tolerated silently — they represent
// acceptable skew from a crash-interrupted write, not corruption.
func (db *DB) DeleteEdge(ctx context.Context, id EdgeID) (bool, error) {
	e, err := db.GetEdge(ctx, id)
	if err != nil {
		return false, err
	}
	if e == nil {
		return false, nil
	}

	if err := db.removeFromAdjacency(ctx, e.FromNodeID, id, false); err != nil {
		return false, err
	}
	if err := db.removeFromAdjacency(ctx, e.ToNodeID, id, true); err != nil {
		return false, err
	}

	if err := db.store.Delete(ctx, db.edgeKey(id)); err != nil {
		return false, err
	}

	return true, nil
}

func (db *DB) removeFromAdjacency(ctx context.Context, nodeID NodeID, edgeID EdgeID, inbound bool) error {
	n, err := db.GetNode(ctx, nodeID)
	if err != nil {
		return err
	}
	if n == nil {
		return nil
	}

	if inbound {
		n.InEdges = removeString(n.InEdges, edgeID)
	} else {
		n.OutEdges = removeString(n.OutEdges, edgeID)
	}

	return db.putNode(ctx, n)
}

func removeString(list []EdgeID, target EdgeID) []EdgeID {
	out := list[:0]
	for _, v := range list {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

func (db *DB) putEdge(ctx context.Context, e *Edge) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return db.store.Put(ctx, db.edgeKey(e.ID), raw)
}
