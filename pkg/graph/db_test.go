package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metrik-tech/lily/pkg/kvstore"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	return New(kvstore.NewMemStore())
}

func TestCreateAndGetNode(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	n, err := db.CreateNode(ctx, map[string]any{"type": "USER", "userId": "u1"})
	require.NoError(t, err)
	require.NotEmpty(t, n.ID)

	got, err := db.GetNode(ctx, n.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "USER", got.Type())
	assert.Equal(t, "u1", got.Properties["userId"])
}

func TestGetNode_MissingReturnsNilNotError(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	got, err := db.GetNode(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQuery_ByTypeAndByProperty(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := db.CreateNode(ctx, map[string]any{"type": "USER", "userId": "u1"})
	require.NoError(t, err)
	_, err = db.CreateNode(ctx, map[string]any{"type": "USER", "userId": "u2"})
	require.NoError(t, err)
	_, err = db.CreateNode(ctx, map[string]any{"type": "IP", "ip": "1.1.1.1"})
	require.NoError(t, err)

	t.Run("by_type", func(t *testing.T) {
		res, err := db.Query(ctx, QueryOptions{Type: "USER"})
		require.NoError(t, err)
		assert.Len(t, res.Items, 2)
	})

	t.Run("by_property_and_value", func(t *testing.T) {
		res, err := db.Query(ctx, QueryOptions{Property: "ip", Value: "1.1.1.1"})
		require.NoError(t, err)
		require.Len(t, res.Items, 1)
		assert.Equal(t, "IP", res.Items[0].Type())
	})

	t.Run("no_match_returns_empty_not_nil_error", func(t *testing.T) {
		res, err := db.Query(ctx, QueryOptions{Property: "ip", Value: "9.9.9.9"})
		require.NoError(t, err)
		assert.Empty(t, res.Items)
	})
}

func TestQuery_Pagination(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	for i := 0; i < 5; i++ {
		_, err := db.CreateNode(ctx, map[string]any{"type": "USER", "userId": i})
		require.NoError(t, err)
	}

	res, err := db.Query(ctx, QueryOptions{Type: "USER", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	assert.True(t, res.HasMore)
	require.NotNil(t, res.Cursor)

	res2, err := db.Query(ctx, QueryOptions{Type: "USER", Limit: 2, Cursor: res.Cursor})
	require.NoError(t, err)
	assert.Len(t, res2.Items, 2)
	assert.True(t, res2.HasMore)
}

func TestUpdateNode_RewritesIndexEntries(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	n, err := db.CreateNode(ctx, map[string]any{"type": "USER", "userId": "u1", "lastSeen": "t0"})
	require.NoError(t, err)

	updated, err := db.UpdateNode(ctx, n.ID, map[string]any{"lastSeen": "t1"})
	require.NoError(t, err)
	assert.Equal(t, "t1", updated.Properties["lastSeen"])

	res, err := db.Query(ctx, QueryOptions{Property: "lastSeen", Value: "t0"})
	require.NoError(t, err)
	assert.Empty(t, res.Items, "stale index entry for the old value should be gone")

	res, err = db.Query(ctx, QueryOptions{Property: "lastSeen", Value: "t1"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, n.ID, res.Items[0].ID)
}

func TestUpdateNode_Missing(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	got, err := db.UpdateNode(ctx, "nope", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCreateEdge_UpdatesAdjacencyOnBothEndpoints(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	a, err := db.CreateNode(ctx, map[string]any{"type": "USER", "userId": "u1"})
	require.NoError(t, err)
	b, err := db.CreateNode(ctx, map[string]any{"type": "IP", "ip": "1.1.1.1"})
	require.NoError(t, err)

	e, err := db.CreateEdge(ctx, a.ID, b.ID, "USES_IP", map[string]any{"count": 1})
	require.NoError(t, err)

	fromNode, err := db.GetNode(ctx, a.ID)
	require.NoError(t, err)
	assert.Contains(t, fromNode.OutEdges, e.ID)

	toNode, err := db.GetNode(ctx, b.ID)
	require.NoError(t, err)
	assert.Contains(t, toNode.InEdges, e.ID)
}

func TestCreateEdge_MissingEndpointFails(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	a, err := db.CreateNode(ctx, map[string]any{"type": "USER", "userId": "u1"})
	require.NoError(t, err)

	_, err = db.CreateEdge(ctx, a.ID, "nope", "USES_IP", nil)
	assert.ErrorIs(t, err, ErrEndpointMissing)
}

func TestCreateEdge_SelfLoop(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	a, err := db.CreateNode(ctx, map[string]any{"type": "USER", "userId": "u1"})
	require.NoError(t, err)

	e, err := db.CreateEdge(ctx, a.ID, a.ID, "SELF", nil)
	require.NoError(t, err)

	n, err := db.GetNode(ctx, a.ID)
	require.NoError(t, err)
	assert.Contains(t, n.OutEdges, e.ID)
	assert.Contains(t, n.InEdges, e.ID)
}

func TestDeleteNode_CascadesToIncidentEdges(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	a, err := db.CreateNode(ctx, map[string]any{"type": "USER", "userId": "u1"})
	require.NoError(t, err)
	b, err := db.CreateNode(ctx, map[string]any{"type": "IP", "ip": "1.1.1.1"})
	require.NoError(t, err)
	e, err := db.CreateEdge(ctx, a.ID, b.ID, "USES_IP", nil)
	require.NoError(t, err)

	ok, err := db.DeleteNode(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	gotEdge, err := db.GetEdge(ctx, e.ID)
	require.NoError(t, err)
	assert.Nil(t, gotEdge, "edge incident to a deleted node should be cascade-deleted")

	bNode, err := db.GetNode(ctx, b.ID)
	require.NoError(t, err)
	assert.NotContains(t, bNode.InEdges, e.ID)
}

func TestDeleteNode_MissingReturnsFalse(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	ok, err := db.DeleteNode(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteNode_RemovesIndexEntries(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	n, err := db.CreateNode(ctx, map[string]any{"type": "USER", "userId": "u1"})
	require.NoError(t, err)

	_, err = db.DeleteNode(ctx, n.ID)
	require.NoError(t, err)

	res, err := db.Query(ctx, QueryOptions{Property: "userId", Value: "u1"})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
}
