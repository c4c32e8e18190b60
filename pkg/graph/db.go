package graph

import (
	"strings"

	"github.com/metrik-tech/lily/pkg/idgen"
	"github.com/metrik-tech/lily/pkg/kvstore"
)

// Default key prefixes, per spec §4.2.
const (
	DefaultNodePrefix  = "node:"
	DefaultEdgePrefix  = "edge:"
	DefaultIndexPrefix = "index:"
)

// DB is a property graph built over a kvstore.Store. It owns all key
// layout and index maintenance; the store itself promises nothing
// beyond point get/put/delete and prefix-ordered listing.
type DB struct {
	store       kvstore.Store
	nodePrefix  string
	edgePrefix  string
	indexPrefix string
}

// Option configures a DB at construction time.
type Option func(*DB)

// WithPrefixes overrides the default node/edge/index key prefixes.
// Empty strings are ignored (the default is kept for that prefix).
func WithPrefixes(node, edge, index string) Option {
	return func(db *DB) {
		if node != "" {
			db.nodePrefix = node
		}
		if edge != "" {
			db.edgePrefix = edge
		}
		if index != "" {
			db.indexPrefix = index
		}
	}
}

// New builds a graph DB over the given store.
func New(store kvstore.Store, opts ...Option) *DB {
	db := &DB{
		store:       store,
		nodePrefix:  DefaultNodePrefix,
		edgePrefix:  DefaultEdgePrefix,
		indexPrefix: DefaultIndexPrefix,
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

func (db *DB) nodeKey(id NodeID) string { return db.nodePrefix + id }
func (db *DB) edgeKey(id EdgeID) string { return db.edgePrefix + id }

func (db *DB) indexKey(propKey, propValKey string, id NodeID) string {
	return db.indexPrefix + propKey + ":" + propValKey + ":" + id
}

// indexPrefixFor builds the prefix Query scans for the given selection;
// see spec §4.2's prefix-selection rules.
func (db *DB) indexPrefixFor(opts QueryOptions) string {
	if opts.Type != "" {
		return db.indexPrefix + "type:" + opts.Type + ":"
	}
	if opts.Property != "" && opts.Value != nil {
		return db.indexPrefix + opts.Property + ":" + propValueKey(opts.Value) + ":"
	}
	return db.indexPrefix
}

// nodeIDFromIndexKey extracts the node id as the substring after the
// last ':' of an index key, per spec §4.2.
func nodeIDFromIndexKey(key string) string {
	i := strings.LastIndex(key, ":")
	if i < 0 {
		return key
	}
	return key[i+1:]
}

// newID allocates a fresh opaque identifier for a node or edge.
func newID() string { return idgen.New() }
