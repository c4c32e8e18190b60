package graph

import "context"

// GetConnectedNodes reads the node, selects outEdges or inEdges, fetches
// each edge, keeps those matching edgeType if provided, fetches the
// opposite endpoint of each surviving edge, drops missing endpoints, and
// returns the node list.
func (db *DB) GetConnectedNodes(ctx context.Context, nodeID NodeID, direction Direction, edgeType string) ([]*Node, error) {
	n, err := db.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, nil
	}

	var edgeIDs []EdgeID
	switch direction {
	case DirOut:
		edgeIDs = n.OutEdges
	case DirIn:
		edgeIDs = n.InEdges
	default:
		edgeIDs = append(append([]EdgeID{}, n.OutEdges...), n.InEdges...)
	}

	var result []*Node
	for _, eid := range edgeIDs {
		e, err := db.GetEdge(ctx, eid)
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}
		if edgeType != "" && e.Type != edgeType {
			continue
		}

		otherID := e.ToNodeID
		if direction == DirIn {
			otherID = e.FromNodeID
		} else if direction == DirBoth && e.FromNodeID == nodeID {
			otherID = e.ToNodeID
		} else if direction == DirBoth {
			otherID = e.FromNodeID
		}

		other, err := db.GetNode(ctx, otherID)
		if err != nil {
			return nil, err
		}
		if other == nil {
			continue
		}
		result = append(result, other)
	}

	return result, nil
}

// Traverse performs a depth-bounded walk that yields each node at most
// once, per spec §4.2 and §9 ("generator-style traversal" is an
// implementation detail — a plain recursive function sharing a visited
// set and a result buffer is equivalent and simpler than an async
// producer).
func (db *DB) Traverse(ctx context.Context, startID NodeID, opts TraverseOptions) ([]*Node, error) {
	maxDepth := opts.MaxDepth
	if maxDepth == 0 {
		maxDepth = 3
	}

	visited := map[NodeID]bool{startID: true}
	var result []*Node

	var walk func(id NodeID, depth int) error
	walk = func(id NodeID, depth int) error {
		if depth >= maxDepth {
			return nil
		}

		var frontier []*Node
		switch opts.Direction {
		case DirOut, DirIn:
			neighbors, err := db.GetConnectedNodes(ctx, id, opts.Direction, opts.EdgeType)
			if err != nil {
				return err
			}
			frontier = neighbors
		default:
			out, err := db.GetConnectedNodes(ctx, id, DirOut, opts.EdgeType)
			if err != nil {
				return err
			}
			in, err := db.GetConnectedNodes(ctx, id, DirIn, opts.EdgeType)
			if err != nil {
				return err
			}
			frontier = append(out, in...)
		}

		for _, n := range frontier {
			if visited[n.ID] {
				continue
			}
			visited[n.ID] = true
			result = append(result, n)
			if err := walk(n.ID, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(startID, 0); err != nil {
		return nil, err
	}
	return result, nil
}
