package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metrik-tech/lily/pkg/graph"
	"github.com/metrik-tech/lily/pkg/kvstore"
)

func newTestTracker(t *testing.T, opts ...TrackerOption) (*Tracker, *graph.DB) {
	t.Helper()
	db := graph.New(kvstore.NewMemStore())
	return New(db, opts...), db
}

func TestRecordConnection_CreatesUserIPAndFingerprintNodes(t *testing.T) {
	ctx := context.Background()
	tracker, db := newTestTracker(t)

	err := tracker.RecordConnection(ctx, "u1", "1.1.1.1", "fp1", "Mozilla/5.0 (Windows NT; Chrome/120.0)", "2026-01-01T00:00:00Z")
	require.NoError(t, err)

	users, err := db.Query(ctx, graph.QueryOptions{Type: TypeUser})
	require.NoError(t, err)
	require.Len(t, users.Items, 1)
	assert.Equal(t, "u1", users.Items[0].Properties[PropUserID])

	ips, err := db.Query(ctx, graph.QueryOptions{Type: TypeIP})
	require.NoError(t, err)
	require.Len(t, ips.Items, 1)
	assert.Equal(t, "1.1.1.1", ips.Items[0].Properties[PropIP])

	fps, err := db.Query(ctx, graph.QueryOptions{Type: TypeFingerprint})
	require.NoError(t, err)
	require.Len(t, fps.Items, 1)
	assert.Equal(t, "fp1", fps.Items[0].Properties[PropFingerprint])
}

func TestRecordConnection_IsIdempotentByNaturalKey(t *testing.T) {
	ctx := context.Background()
	tracker, db := newTestTracker(t)

	for i := 0; i < 3; i++ {
		err := tracker.RecordConnection(ctx, "u1", "1.1.1.1", "fp1", "", "2026-01-01T00:00:00Z")
		require.NoError(t, err)
	}

	users, err := db.Query(ctx, graph.QueryOptions{Type: TypeUser})
	require.NoError(t, err)
	assert.Len(t, users.Items, 1, "recording the same connection repeatedly must not create duplicate nodes")

	conns, err := tracker.GetUserConnections(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, conns.IPs, 1)
	assert.Equal(t, 3, conns.IPs[0].Stats.Count)
}

func TestRecordConnection_DefaultsEmptyTimestampToClock(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	tracker, _ := newTestTracker(t, WithClock(func() time.Time { return fixed }))

	err := tracker.RecordConnection(ctx, "u1", "1.1.1.1", "fp1", "", "")
	require.NoError(t, err)

	conns, err := tracker.GetUserConnections(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, conns.IPs, 1)
	assert.Equal(t, fixed.Format(timeLayout), conns.IPs[0].Stats.LastSeen)
}

func TestGetUserConnections_UnknownUserReturnsEmptyNotError(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker(t)

	conns, err := tracker.GetUserConnections(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, conns.IPs)
	assert.Empty(t, conns.Fingerprints)
}

func TestGetUserConnections_AttachesFingerprintMetadata(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker(t)

	err := tracker.RecordConnection(ctx, "u1", "1.1.1.1", "fp1", "Mozilla/5.0 (iPhone; CPU iPhone OS) Mobile/15E148", "2026-01-01T00:00:00Z")
	require.NoError(t, err)

	conns, err := tracker.GetUserConnections(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, conns.Fingerprints, 1)
	require.NotNil(t, conns.Fingerprints[0].Metadata)
	assert.Equal(t, "mobile", conns.Fingerprints[0].Metadata.DeviceType)
}

func TestGetConnectionGraph_ScoresEachUserAndDedupsSharedNodes(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker, _ := newTestTracker(t, WithClock(func() time.Time { return fixed }))

	require.NoError(t, tracker.RecordConnection(ctx, "u1", "1.1.1.1", "fp1", "", fixed.Format(timeLayout)))
	require.NoError(t, tracker.RecordConnection(ctx, "u2", "1.1.1.1", "fp2", "", fixed.Format(timeLayout)))

	g, err := tracker.GetConnectionGraph(ctx, ConnectionGraphOptions{})
	require.NoError(t, err)

	var userNodes, ipNodes int
	for _, n := range g.Nodes {
		switch n.Type {
		case TypeUser:
			userNodes++
			assert.NotEmpty(t, n.Risk)
			require.NotNil(t, n.RiskScore)
		case TypeIP:
			ipNodes++
		}
	}
	assert.Equal(t, 2, userNodes)
	assert.Equal(t, 1, ipNodes, "the shared IP node must appear once, not once per user")
	assert.Len(t, g.Links, 4, "per user: one USES_IP link to the shared IP and one USES_FINGERPRINT link to their own fingerprint")
}

func TestGetConnectionGraph_SharedNodeKeepsFirstEmittedStats(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker, _ := newTestTracker(t, WithClock(func() time.Time { return fixed }))

	// u1 sees the shared IP once (count 1); u2 sees it three times
	// (count 3). Whichever user's edge is processed first must win the
	// node's Stats — later users must not silently overwrite it.
	require.NoError(t, tracker.RecordConnection(ctx, "u1", "9.9.9.9", "fp1", "", fixed.Format(timeLayout)))
	for i := 0; i < 3; i++ {
		require.NoError(t, tracker.RecordConnection(ctx, "u2", "9.9.9.9", "fp2", "", fixed.Format(timeLayout)))
	}

	g, err := tracker.GetConnectionGraph(ctx, ConnectionGraphOptions{})
	require.NoError(t, err)

	var ipNode *GraphNode
	for i := range g.Nodes {
		if g.Nodes[i].Type == TypeIP {
			ipNode = &g.Nodes[i]
		}
	}
	require.NotNil(t, ipNode)
	assert.Contains(t, []int{1, 3}, ipNode.Stats.Count, "the shared IP node's stats must come from whichever user's edge was emitted first, not be clobbered by whichever user was processed last")

	// Each link, by contrast, legitimately carries its own user's edge
	// stats regardless of node emission order.
	userIDBySource := map[string]string{}
	for _, n := range g.Nodes {
		if n.Type == TypeUser {
			userIDBySource[n.ID] = n.Label
		}
	}
	countsByUser := map[string]int{}
	for _, l := range g.Links {
		countsByUser[userIDBySource[l.Source]] = l.Stats.Count
	}
	assert.Equal(t, 1, countsByUser["u1"])
	assert.Equal(t, 3, countsByUser["u2"])
}

func TestGetConnectionGraph_VeryRapidIdentityChangeMatchesScenarioS5(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	evalTime := base.Add(time.Minute) // within the 5-minute rapid-change window
	tracker, _ := newTestTracker(t, WithClock(func() time.Time { return evalTime }))

	// (u1, ip1, fpA) at T, then (u1, ip2, fpA) 500ms later: the fpA edge
	// already exists, so its lastSeen merely advances to T+500ms rather
	// than a new edge being created, landing on the exact same instant as
	// the new ip2 edge.
	require.NoError(t, tracker.RecordConnection(ctx, "u1", "1.1.1.1", "fpA", "", base.Format(timeLayout)))
	require.NoError(t, tracker.RecordConnection(ctx, "u1", "2.2.2.2", "fpA", "", base.Add(500*time.Millisecond).Format(timeLayout)))

	g, err := tracker.GetConnectionGraph(ctx, ConnectionGraphOptions{})
	require.NoError(t, err)

	var user *GraphNode
	for i := range g.Nodes {
		if g.Nodes[i].Type == TypeUser {
			user = &g.Nodes[i]
		}
	}
	require.NotNil(t, user)
	require.NotNil(t, user.RiskScore)
	assert.Equal(t, 15, *user.RiskScore, "spec §8 S5: exactly one rapid pair (k=1, score 15), not two, despite the existing fpA edge's lastSeen landing on the same instant as the new ip edge")
	assert.Equal(t, "LOW", user.Risk)
}

func TestGetConnectionGraph_ExcludesActivityOutsideWindow(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker, _ := newTestTracker(t, WithClock(func() time.Time { return fixed }))

	old := fixed.Add(-48 * time.Hour).Format(timeLayout)
	require.NoError(t, tracker.RecordConnection(ctx, "u1", "1.1.1.1", "fp1", "", old))

	g, err := tracker.GetConnectionGraph(ctx, ConnectionGraphOptions{Hours: 24})
	require.NoError(t, err)
	assert.Empty(t, g.Nodes, "a user whose only activity predates the window contributes nothing")
}

func TestGetConnectionGraph_AppliesRiskThreshold(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker, _ := newTestTracker(t, WithClock(func() time.Time { return fixed }))

	require.NoError(t, tracker.RecordConnection(ctx, "u1", "1.1.1.1", "fp1", "", fixed.Format(timeLayout)))

	g, err := tracker.GetConnectionGraph(ctx, ConnectionGraphOptions{RiskThreshold: 1})
	require.NoError(t, err)
	assert.Empty(t, g.Nodes, "a single quiet connection scores 0 and should be dropped by any positive threshold")
}

func TestGetConnectionGraphPaged_FollowsFullCursorChain(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker, _ := newTestTracker(t, WithClock(func() time.Time { return fixed }), WithBatchSize(1))

	for i := 0; i < 3; i++ {
		userID := string(rune('a' + i))
		require.NoError(t, tracker.RecordConnection(ctx, userID, "1.1.1.1", "fp1", "", fixed.Format(timeLayout)))
	}

	g, err := tracker.GetConnectionGraphPaged(ctx, ConnectionGraphOptions{})
	require.NoError(t, err)

	var userCount int
	for _, n := range g.Nodes {
		if n.Type == TypeUser {
			userCount++
		}
	}
	assert.Equal(t, 3, userCount, "paged variant must follow every USER index page, not just the first")
}

func TestWithPerUserSerialization_SameUserRunsSequentially(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker(t, WithPerUserSerialization())

	done := make(chan error, 2)
	go func() {
		done <- tracker.RecordConnection(ctx, "u1", "1.1.1.1", "fp1", "", "2026-01-01T00:00:00Z")
	}()
	go func() {
		done <- tracker.RecordConnection(ctx, "u1", "2.2.2.2", "fp2", "", "2026-01-01T00:00:01Z")
	}()

	require.NoError(t, <-done)
	require.NoError(t, <-done)

	conns, err := tracker.GetUserConnections(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, conns.IPs, 2)
}
