package identity

import (
	"sort"
	"time"
)

// parseTimestamp parses a timestamp stamped onto a node or edge by this
// package. time.Parse tolerates a fractional-seconds component that
// isn't declared in the layout literal, so both the whole-second
// timestamps spec §8's scenarios use literally and the tracker's own
// millisecond-formatted "now" values parse correctly.
func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// Level is the coarse risk bucket a Score falls into.
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// FactorDetails carries the raw count and window a Factor was computed
// over, so callers get structured access instead of re-parsing Reason.
type FactorDetails struct {
	Count       int       `json:"count"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
}

// Factor is one independent additive contribution to a user's risk
// score.
type Factor struct {
	Score   int           `json:"score"`
	Reason  string        `json:"reason"`
	Details FactorDetails `json:"details"`
}

// RiskResult is a user's computed risk.
type RiskResult struct {
	Score   int      `json:"score"`
	Level   Level    `json:"level"`
	Factors []Factor `json:"factors"`
}

// ActivityEdge is the minimal shape RiskEngine needs from an edge: the
// distinct identity it points at (an IP string or a fingerprint string)
// and when it was last seen.
type ActivityEdge struct {
	Identity string
	LastSeen time.Time
}

// RiskEngine scores time-windowed identity churn for a single user from
// their IP and fingerprint edge activity (spec §4.4). It never fails:
// empty input scores 0/LOW/no factors.
type RiskEngine struct {
	manyIPs24hThreshold int
	manyIPs24hCap       int
	rapidIPs1hThreshold int
	rapidIPs1hCap       int
	manyFPs24hThreshold int
	manyFPs24hCap       int
	rapidChangeWindow   time.Duration
	rapidChangeDelta    time.Duration
	rapidChangeCap      int
	highThreshold       int
	mediumThreshold     int
}

// RiskEngineOption configures a RiskEngine at construction time,
// overriding one of the four factors' window, threshold, or cap from
// the spec §4.4 defaults.
type RiskEngineOption func(*RiskEngine)

// WithManyIPs24h overrides factor 1's threshold and cap.
func WithManyIPs24h(threshold, cap int) RiskEngineOption {
	return func(r *RiskEngine) { r.manyIPs24hThreshold, r.manyIPs24hCap = threshold, cap }
}

// WithRapidIPs1h overrides factor 2's threshold and cap.
func WithRapidIPs1h(threshold, cap int) RiskEngineOption {
	return func(r *RiskEngine) { r.rapidIPs1hThreshold, r.rapidIPs1hCap = threshold, cap }
}

// WithManyFPs24h overrides factor 3's threshold and cap.
func WithManyFPs24h(threshold, cap int) RiskEngineOption {
	return func(r *RiskEngine) { r.manyFPs24hThreshold, r.manyFPs24hCap = threshold, cap }
}

// WithRapidChange overrides factor 4's lookback window, adjacent-pair
// delta, and cap.
func WithRapidChange(window, delta time.Duration, cap int) RiskEngineOption {
	return func(r *RiskEngine) { r.rapidChangeWindow, r.rapidChangeDelta, r.rapidChangeCap = window, delta, cap }
}

// WithLevelThresholds overrides the score cutoffs for MEDIUM and HIGH.
func WithLevelThresholds(medium, high int) RiskEngineOption {
	return func(r *RiskEngine) { r.mediumThreshold, r.highThreshold = medium, high }
}

// NewRiskEngine constructs a RiskEngine with the spec §4.4 reference
// windows, thresholds, and caps, overridable per factor via options.
func NewRiskEngine(opts ...RiskEngineOption) *RiskEngine {
	r := &RiskEngine{
		manyIPs24hThreshold: 3,
		manyIPs24hCap:       30,
		rapidIPs1hThreshold: 2,
		rapidIPs1hCap:       40,
		manyFPs24hThreshold: 2,
		manyFPs24hCap:       35,
		rapidChangeWindow:   5 * time.Minute,
		rapidChangeDelta:    time.Second,
		rapidChangeCap:      35,
		mediumThreshold:     40,
		highThreshold:       70,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RiskEngine) levelFor(score int) Level {
	switch {
	case score >= r.highThreshold:
		return LevelHigh
	case score >= r.mediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Score computes the risk for one user given their IP and fingerprint
// edge activity, evaluated as of now.
func (r *RiskEngine) Score(now time.Time, ipEdges, fpEdges []ActivityEdge) RiskResult {
	var factors []Factor

	cutoff24h := now.Add(-24 * time.Hour)
	cutoff1h := now.Add(-1 * time.Hour)
	cutoffRapid := now.Add(-r.rapidChangeWindow)

	// Factor 1: distinct IPs in the last 24h.
	if n := distinctSince(ipEdges, cutoff24h); n > r.manyIPs24hThreshold {
		factors = append(factors, Factor{
			Score:  capScore(n*10, r.manyIPs24hCap),
			Reason: "Multiple IPs in 24 hours",
			Details: FactorDetails{
				Count: n, WindowStart: cutoff24h, WindowEnd: now,
			},
		})
	}

	// Factor 2: distinct IPs in the last hour.
	if n := distinctSince(ipEdges, cutoff1h); n > r.rapidIPs1hThreshold {
		factors = append(factors, Factor{
			Score:  capScore(n*15, r.rapidIPs1hCap),
			Reason: "Rapid IP switching",
			Details: FactorDetails{
				Count: n, WindowStart: cutoff1h, WindowEnd: now,
			},
		})
	}

	// Factor 3: distinct fingerprints in the last 24h.
	if n := distinctSince(fpEdges, cutoff24h); n > r.manyFPs24hThreshold {
		factors = append(factors, Factor{
			Score:  capScore(n*15, r.manyFPs24hCap),
			Reason: "Multiple fingerprints in 24 hours",
			Details: FactorDetails{
				Count: n, WindowStart: cutoff24h, WindowEnd: now,
			},
		})
	}

	// Factor 4: adjacent identity events closer together than
	// rapidChangeDelta, within the last rapidChangeWindow.
	if k := rapidChangeCount(ipEdges, fpEdges, cutoffRapid, r.rapidChangeDelta); k >= 1 {
		factors = append(factors, Factor{
			Score:  capScore(k*15, r.rapidChangeCap),
			Reason: "Very rapid identity changes",
			Details: FactorDetails{
				Count: k, WindowStart: cutoffRapid, WindowEnd: now,
			},
		})
	}

	total := 0
	for _, f := range factors {
		total += f.Score
	}
	if total > 100 {
		total = 100
	}

	return RiskResult{Score: total, Level: r.levelFor(total), Factors: factors}
}

func capScore(raw, cap int) int {
	if raw > cap {
		return cap
	}
	return raw
}

// distinctSince counts distinct Identity values among edges whose
// LastSeen is at or after cutoff.
func distinctSince(edges []ActivityEdge, cutoff time.Time) int {
	seen := make(map[string]struct{})
	for _, e := range edges {
		if e.LastSeen.Before(cutoff) {
			continue
		}
		seen[e.Identity] = struct{}{}
	}
	return len(seen)
}

// rapidChangeCount builds a unified, time-sorted event list from every
// IP and fingerprint edge at or after cutoff, and counts adjacent pairs
// strictly less than delta apart. Returns 0 if fewer than two events
// fall in the window (spec §4.4 factor 4).
//
// A single recordConnection call can touch several edges (a new IP edge
// plus an existing fingerprint edge whose lastSeen simply advances) that
// all land on the exact same instant. Those are one identity-change
// event, not one per edge, so edges sharing an instant collapse to a
// single event before adjacent gaps are measured — otherwise the same
// session would be double-counted as if two changes had happened back
// to back (spec §8 Scenario S5).
func rapidChangeCount(ipEdges, fpEdges []ActivityEdge, cutoff time.Time, delta time.Duration) int {
	seen := make(map[int64]struct{})
	var events []time.Time
	add := func(t time.Time) {
		key := t.UnixNano()
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		events = append(events, t)
	}
	for _, e := range ipEdges {
		if !e.LastSeen.Before(cutoff) {
			add(e.LastSeen)
		}
	}
	for _, e := range fpEdges {
		if !e.LastSeen.Before(cutoff) {
			add(e.LastSeen)
		}
	}

	if len(events) < 2 {
		return 0
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Before(events[j]) })

	count := 0
	for i := 1; i < len(events); i++ {
		if events[i].Sub(events[i-1]) < delta {
			count++
		}
	}
	return count
}
