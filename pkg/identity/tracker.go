package identity

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/metrik-tech/lily/pkg/graph"
)

// timeLayout is the constant-precision ISO-8601 UTC format the
// tracker's own clock formats "now" with. Millisecond precision (always
// zero-padded to three digits) keeps the format fixed-width, so
// lexicographic string comparison stays correct (spec §3 "Ordering")
// while still giving the risk engine's sub-second "rapid change" factor
// something to measure. Timestamps supplied directly by callers (as in
// every spec §8 scenario) pass through unchanged — parsing, via
// parseTimestamp, tolerates either precision.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Clock returns the current time; swappable so tests can control "now"
// without sleeping.
type Clock func() time.Time

// Tracker upserts USER, IP, and FINGERPRINT nodes and USES_IP /
// USES_FINGERPRINT edges onto a graph.DB, and projects risk-scored
// connection views for callers.
type Tracker struct {
	db         *graph.DB
	classifier UAClassifier
	clock      Clock
	risk       *RiskEngine
	serializer *Serializer // nil unless WithPerUserSerialization is set
	batchSize  int
}

// TrackerOption configures a Tracker at construction time.
type TrackerOption func(*Tracker)

// WithClock overrides the default time.Now clock. Intended for tests.
func WithClock(c Clock) TrackerOption {
	return func(t *Tracker) { t.clock = c }
}

// WithUAClassifier overrides the default reference UA classifier.
func WithUAClassifier(c UAClassifier) TrackerOption {
	return func(t *Tracker) { t.classifier = c }
}

// WithRiskEngine overrides the default RiskEngine.
func WithRiskEngine(r *RiskEngine) TrackerOption {
	return func(t *Tracker) { t.risk = r }
}

// WithBatchSize sets the page size GetConnectionGraph fetches per
// query({type:"USER"}) call. Defaults to 100.
func WithBatchSize(n int) TrackerOption {
	return func(t *Tracker) {
		if n > 0 {
			t.batchSize = n
		}
	}
}

// WithPerUserSerialization enables the optional per-user mailbox
// (spec §9, resolved in SPEC_FULL §4.3.2) that forces RecordConnection
// calls for the same userId to run one at a time, closing the
// lost-adjacency-update race spec §5 describes. Disabled by default.
func WithPerUserSerialization() TrackerOption {
	return func(t *Tracker) { t.serializer = NewSerializer() }
}

// New builds a Tracker over the given graph.DB.
func New(db *graph.DB, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		db:         db,
		classifier: DefaultUAClassifier{},
		clock:      time.Now,
		risk:       NewRiskEngine(),
		batchSize:  100,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) now() string {
	return t.clock().UTC().Format(timeLayout)
}

// RecordConnection upserts USER/IP/FINGERPRINT nodes and the two
// USES_IP/USES_FINGERPRINT edges for one observed session (spec §4.3).
// An empty timestamp defaults to the tracker's clock.
func (t *Tracker) RecordConnection(ctx context.Context, userID, ip, fingerprint, userAgent, timestamp string) error {
	if timestamp == "" {
		timestamp = t.now()
	}

	record := func() error { return t.recordConnection(ctx, userID, ip, fingerprint, userAgent, timestamp) }

	if t.serializer != nil {
		return t.serializer.Run(ctx, userID, record)
	}
	return record()
}

func (t *Tracker) recordConnection(ctx context.Context, userID, ip, fingerprint, userAgent, timestamp string) error {
	var userNode, ipNode, fpNode *graph.Node

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := t.getOrCreateUserNode(gctx, userID, timestamp)
		userNode = n
		return err
	})
	g.Go(func() error {
		n, err := t.getOrCreateIPNode(gctx, ip, timestamp)
		ipNode = n
		return err
	})
	g.Go(func() error {
		n, err := t.getOrCreateFingerprintNode(gctx, fingerprint, userAgent, timestamp)
		fpNode = n
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	// The two edge upserts run one after the other: both rewrite the
	// user node's outEdges, so running them concurrently could let one
	// append overwrite the other.
	if _, err := t.getOrCreateEdge(ctx, userNode, ipNode.ID, EdgeUsesIP, timestamp); err != nil {
		return err
	}
	_, err := t.getOrCreateEdge(ctx, userNode, fpNode.ID, EdgeUsesFingerprint, timestamp)
	return err
}

func (t *Tracker) getOrCreateUserNode(ctx context.Context, userID, timestamp string) (*graph.Node, error) {
	return t.getOrCreateNode(ctx, TypeUser, PropUserID, userID, timestamp, nil)
}

func (t *Tracker) getOrCreateIPNode(ctx context.Context, ip, timestamp string) (*graph.Node, error) {
	return t.getOrCreateNode(ctx, TypeIP, PropIP, ip, timestamp, nil)
}

func (t *Tracker) getOrCreateFingerprintNode(ctx context.Context, fingerprint, userAgent, timestamp string) (*graph.Node, error) {
	extra := map[string]any{
		"metadata": t.classifier.Classify(userAgent).ApplyDefaults(),
	}
	return t.getOrCreateNode(ctx, TypeFingerprint, PropFingerprint, fingerprint, timestamp, extra)
}

// getOrCreateNode queries the naturalKeyProp index for naturalKeyValue;
// if a node exists, its lastSeen is updated and returned, otherwise a
// new node is created with firstSeen = lastSeen = timestamp plus any
// extra properties (spec §4.3 step 1).
func (t *Tracker) getOrCreateNode(ctx context.Context, nodeType, naturalKeyProp, naturalKeyValue, timestamp string, extra map[string]any) (*graph.Node, error) {
	res, err := t.db.Query(ctx, graph.QueryOptions{Property: naturalKeyProp, Value: naturalKeyValue, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(res.Items) > 0 {
		return t.db.UpdateNode(ctx, res.Items[0].ID, map[string]any{"lastSeen": timestamp})
	}

	props := map[string]any{
		"type":         nodeType,
		naturalKeyProp: naturalKeyValue,
		"firstSeen":    timestamp,
		"lastSeen":     timestamp,
	}
	for k, v := range extra {
		props[k] = v
	}
	return t.db.CreateNode(ctx, props)
}

// getOrCreateEdge scans userNode's outEdges, fetches each edge, and
// looks for one matching (edgeType, toID). If found, its lastSeen is
// set to timestamp and its count incremented; otherwise a new edge is
// created with count = 1 (spec §4.3 step 2).
func (t *Tracker) getOrCreateEdge(ctx context.Context, userNode *graph.Node, toID, edgeType, timestamp string) (*graph.Edge, error) {
	for _, eid := range userNode.OutEdges {
		e, err := t.db.GetEdge(ctx, eid)
		if err != nil {
			return nil, err
		}
		if e == nil || e.Type != edgeType || e.ToNodeID != toID {
			continue
		}
		return t.db.UpdateEdge(ctx, e.ID, map[string]any{
			"lastSeen": timestamp,
			"count":    e.Count() + 1,
		})
	}

	return t.db.CreateEdge(ctx, userNode.ID, toID, edgeType, map[string]any{
		"firstSeen": timestamp,
		"lastSeen":  timestamp,
		"count":     1,
	})
}

// GetUserConnections projects a USER's USES_IP and USES_FINGERPRINT
// edges into the flat ips/fingerprints view spec §6 describes. A user
// with no recorded connections (including one that was never seen)
// returns empty, not nil, slices.
func (t *Tracker) GetUserConnections(ctx context.Context, userID string) (*UserConnections, error) {
	out := &UserConnections{IPs: []IPConnection{}, Fingerprints: []FingerprintConnection{}}

	userNode, err := t.findUserNode(ctx, userID)
	if err != nil {
		return nil, err
	}
	if userNode == nil {
		return out, nil
	}

	for _, eid := range userNode.OutEdges {
		e, err := t.db.GetEdge(ctx, eid)
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}

		switch e.Type {
		case EdgeUsesIP:
			toNode, err := t.db.GetNode(ctx, e.ToNodeID)
			if err != nil {
				return nil, err
			}
			if toNode == nil {
				continue
			}
			ip, _ := toNode.Properties[PropIP].(string)
			out.IPs = append(out.IPs, IPConnection{IP: ip, Stats: statsFromEdge(e)})
		case EdgeUsesFingerprint:
			toNode, err := t.db.GetNode(ctx, e.ToNodeID)
			if err != nil {
				return nil, err
			}
			if toNode == nil {
				continue
			}
			fp, _ := toNode.Properties[PropFingerprint].(string)
			out.Fingerprints = append(out.Fingerprints, FingerprintConnection{
				Fingerprint: fp,
				Metadata:    metadataFromNode(toNode),
				Stats:       statsFromEdge(e),
			})
		}
	}

	return out, nil
}

// GetConnectionGraph projects every USER node in a single
// query({type:"USER"}) page into a risk-scored node/link graph (spec
// §4.3, §6). Like the rest of this tracker it reads the graph's current
// USER index page as-is; callers tracking more users than one page
// holds should use GetConnectionGraphPaged instead.
func (t *Tracker) GetConnectionGraph(ctx context.Context, opts ConnectionGraphOptions) (*ConnectionGraph, error) {
	res, err := t.db.Query(ctx, graph.QueryOptions{Type: TypeUser, Limit: t.batchSize})
	if err != nil {
		return nil, err
	}
	return t.buildConnectionGraph(ctx, res.Items, opts)
}

// GetConnectionGraphPaged is GetConnectionGraph generalized to follow
// the USER index's full cursor chain (SPEC_FULL §4.3.1), so deployments
// tracking more users than fit in one query page still get every user
// scored rather than silently only the first page.
func (t *Tracker) GetConnectionGraphPaged(ctx context.Context, opts ConnectionGraphOptions) (*ConnectionGraph, error) {
	var users []*graph.Node
	var cursor *string
	for {
		res, err := t.db.Query(ctx, graph.QueryOptions{Type: TypeUser, Limit: t.batchSize, Cursor: cursor})
		if err != nil {
			return nil, err
		}
		users = append(users, res.Items...)
		if !res.HasMore {
			break
		}
		cursor = res.Cursor
	}
	return t.buildConnectionGraph(ctx, users, opts)
}

func (t *Tracker) buildConnectionGraph(ctx context.Context, users []*graph.Node, opts ConnectionGraphOptions) (*ConnectionGraph, error) {
	hours := opts.Hours
	if hours == 0 {
		hours = 24
	}
	cutoff := t.clock().UTC().Add(-time.Duration(hours) * time.Hour)

	nodes := make(map[string]GraphNode)
	links := make(map[string]GraphLink)

	for _, u := range users {
		userID, _ := u.Properties[PropUserID].(string)

		var ipEdges, fpEdges []ActivityEdge
		var ipLinks, fpLinks []linkCandidate

		for _, eid := range u.OutEdges {
			e, err := t.db.GetEdge(ctx, eid)
			if err != nil {
				return nil, err
			}
			if e == nil {
				continue
			}
			ts, err := parseTimestamp(e.LastSeen())
			if err != nil {
				continue
			}

			toNode, err := t.db.GetNode(ctx, e.ToNodeID)
			if err != nil {
				return nil, err
			}
			if toNode == nil {
				continue
			}

			switch e.Type {
			case EdgeUsesIP:
				ip, _ := toNode.Properties[PropIP].(string)
				ipEdges = append(ipEdges, ActivityEdge{Identity: ip, LastSeen: ts})
				if !ts.Before(cutoff) {
					ipLinks = append(ipLinks, linkCandidate{node: toNode, edge: e, label: ip})
				}
			case EdgeUsesFingerprint:
				fp, _ := toNode.Properties[PropFingerprint].(string)
				fpEdges = append(fpEdges, ActivityEdge{Identity: fp, LastSeen: ts})
				if !ts.Before(cutoff) {
					fpLinks = append(fpLinks, linkCandidate{node: toNode, edge: e, label: fp})
				}
			}
		}

		if len(ipLinks) == 0 && len(fpLinks) == 0 {
			continue
		}

		result := t.risk.Score(t.clock().UTC(), ipEdges, fpEdges)
		if result.Score < opts.RiskThreshold {
			continue
		}

		level := string(result.Level)
		score := result.Score
		nodes[u.ID] = GraphNode{
			ID:    u.ID,
			Type:  TypeUser,
			Label: userID,
			Risk:  level,
			RiskScore: &score,
			Stats: Stats{Count: len(u.OutEdges)},
		}

		for _, c := range ipLinks {
			if _, ok := nodes[c.node.ID]; !ok {
				nodes[c.node.ID] = GraphNode{
					ID:    c.node.ID,
					Type:  TypeIP,
					Label: c.label,
					Stats: statsFromEdge(c.edge),
				}
			}
			linkID := u.ID + "-" + c.node.ID
			links[linkID] = GraphLink{
				Source: u.ID, Target: c.node.ID, Type: EdgeUsesIP, Stats: statsFromEdge(c.edge),
			}
		}
		for _, c := range fpLinks {
			if _, ok := nodes[c.node.ID]; !ok {
				nodes[c.node.ID] = GraphNode{
					ID:       c.node.ID,
					Type:     TypeFingerprint,
					Label:    c.label,
					Metadata: metadataFromNode(c.node),
					Stats:    statsFromEdge(c.edge),
				}
			}
			linkID := u.ID + "-" + c.node.ID
			links[linkID] = GraphLink{
				Source: u.ID, Target: c.node.ID, Type: EdgeUsesFingerprint, Stats: statsFromEdge(c.edge),
			}
		}
	}

	out := &ConnectionGraph{Nodes: make([]GraphNode, 0, len(nodes)), Links: make([]GraphLink, 0, len(links))}
	for _, n := range nodes {
		out.Nodes = append(out.Nodes, n)
	}
	for _, l := range links {
		out.Links = append(out.Links, l)
	}
	return out, nil
}

type linkCandidate struct {
	node  *graph.Node
	edge  *graph.Edge
	label string
}

func (t *Tracker) findUserNode(ctx context.Context, userID string) (*graph.Node, error) {
	res, err := t.db.Query(ctx, graph.QueryOptions{Property: PropUserID, Value: userID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(res.Items) == 0 {
		return nil, nil
	}
	return res.Items[0], nil
}

func statsFromEdge(e *graph.Edge) Stats {
	firstSeen, _ := e.Properties["firstSeen"].(string)
	return Stats{FirstSeen: firstSeen, LastSeen: e.LastSeen(), Count: e.Count()}
}

func metadataFromNode(n *graph.Node) *DeviceMetadata {
	raw, ok := n.Properties["metadata"]
	if !ok {
		return nil
	}
	switch m := raw.(type) {
	case DeviceMetadata:
		return &m
	case map[string]any:
		get := func(k string) string { s, _ := m[k].(string); return s }
		return &DeviceMetadata{
			Browser:        get("browser"),
			BrowserVersion: get("browserVersion"),
			OS:             get("os"),
			OSVersion:      get("osVersion"),
			Device:         get("device"),
			DeviceType:     get("deviceType"),
			CPU:            get("cpu"),
		}
	default:
		return nil
	}
}
