// Package graph turns a flat, ordered key-value store (pkg/kvstore) into
// a schema-light property graph: typed nodes, typed directed edges,
// secondary indexes on node properties, neighborhood queries, and
// depth-bounded traversal.
//
// The graph layer owns all key layout and index maintenance. It does not
// enforce natural-key uniqueness — callers (the identity tracker) are
// responsible for query-before-create discipline; see the package
// identity for that.
//
// Example Usage:
//
//	db := graph.New(kvstore.NewMemStore())
//
//	n, err := db.CreateNode(ctx, map[string]any{
//		"type":   "USER",
//		"userId": "u1",
//	})
//
//	found, err := db.Query(ctx, graph.QueryOptions{Type: "USER"})
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Errors returned by graph operations. Store failures are never wrapped
// in these — they propagate unchanged from the underlying kvstore.Store.
var (
	// ErrEndpointMissing is returned by CreateEdge when fromId or toId
	// does not resolve to an existing node.
	ErrEndpointMissing = errors.New("graph: edge endpoint missing")
)

// NodeID and EdgeID are plain strings but given names here for
// readability at call sites; the graph layer does not distinguish them
// by Go type since both travel through the same JSON properties maps.
type (
	NodeID = string
	EdgeID = string
)

// Node is a vertex in the property graph. Properties is a free-form,
// JSON-serializable map; by convention it always carries at least
// "type", "firstSeen", and "lastSeen", plus a type-specific natural key
// ("userId", "ip", or "fingerprint").
type Node struct {
	ID         NodeID         `json:"id"`
	Properties map[string]any `json:"properties"`
	InEdges    []EdgeID       `json:"inEdges"`
	OutEdges   []EdgeID       `json:"outEdges"`
}

// Type returns the node's "type" property as a string, or "" if absent
// or not a string.
func (n *Node) Type() string {
	if n == nil || n.Properties == nil {
		return ""
	}
	t, _ := n.Properties["type"].(string)
	return t
}

// Edge is a directed, typed relationship between two nodes. Properties
// by convention always carries "firstSeen", "lastSeen", and an integer
// "count".
type Edge struct {
	ID         EdgeID         `json:"id"`
	Type       string         `json:"type"`
	FromNodeID NodeID         `json:"fromNodeId"`
	ToNodeID   NodeID         `json:"toNodeId"`
	Properties map[string]any `json:"properties"`
}

// Count returns the edge's "count" property as an int, defaulting to 0
// if absent or not numeric. JSON numbers decode to float64, so both
// shapes are tolerated.
func (e *Edge) Count() int {
	if e == nil || e.Properties == nil {
		return 0
	}
	switch v := e.Properties["count"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// LastSeen returns the edge's "lastSeen" property as a string, or "" if
// absent.
func (e *Edge) LastSeen() string {
	if e == nil || e.Properties == nil {
		return ""
	}
	s, _ := e.Properties["lastSeen"].(string)
	return s
}

// Direction selects which adjacency list a neighborhood query walks.
type Direction string

const (
	DirOut  Direction = "out"
	DirIn   Direction = "in"
	DirBoth Direction = "both"
)

// QueryOptions selects an index prefix for Query, mirroring the
// selection rules in spec §4.2: Type takes precedence, then
// Property+Value together, otherwise the full index is scanned
// (administrative listing only).
type QueryOptions struct {
	Type     string
	Property string
	Value    any
	Limit    int
	Cursor   *string
}

// QueryResult is the page returned by Query.
type QueryResult struct {
	Items    []*Node
	Cursor   *string
	HasMore  bool
}

// TraverseOptions configures Traverse.
type TraverseOptions struct {
	MaxDepth  int // default 3 when zero
	Direction Direction
	EdgeType  string // empty matches any edge type
}

// propValueKey renders a property value into the canonical string used
// inside an index key. JSON encoding gives every comparable Go value
// (string, number, bool, nested map) a stable, deterministic
// representation so the same logical value always produces the same
// index row.
func propValueKey(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	// Strings are the overwhelmingly common case (userId, ip,
	// fingerprint, type); strip the surrounding quotes JSON adds so
	// index keys stay human-readable, e.g. index:type:USER:<id> rather
	// than index:type:"USER":<id>.
	if s, ok := v.(string); ok {
		return s
	}
	// Re-encode through a generic value so a struct and the
	// map[string]any it decodes to after a store round trip render
	// identically (JSON objects come out with sorted keys).
	var generic any
	if err := json.Unmarshal(b, &generic); err == nil {
		if nb, err := json.Marshal(generic); err == nil {
			return string(nb)
		}
	}
	return string(b)
}
