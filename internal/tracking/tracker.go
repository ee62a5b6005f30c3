// Package tracking gives UI elements a stable identity across perception frames.
//
// Element IDs from the parser are renumbered every frame. The Tracker matches the
// new elements against its existing tracks by type and center distance with an
// optimal assignment, so callers can refer to "the same button" from step to step.
package tracking

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/v0xg/omniagent/internal/ui"
)

const (
	DefaultMissThreshold     = 3
	DefaultMatchingThreshold = 0.1
)

// ElementTrack is a snapshot of one tracked element
type ElementTrack struct {
	TrackID           string      `json:"track_id"`
	LatestElement     *ui.Element `json:"latest_element"` // nil while the element is missing
	ConsecutiveMisses int         `json:"consecutive_misses"`
	LastSeenFrame     int         `json:"last_seen_frame"`
}

// Missing reports whether the track went unmatched in the latest update
func (t ElementTrack) Missing() bool {
	return t.LatestElement == nil
}

type track struct {
	id        string
	latest    *ui.Element
	lastKnown ui.Element
	misses    int
	lastSeen  int
}

func (t *track) snapshot() ElementTrack {
	s := ElementTrack{
		TrackID:           t.id,
		ConsecutiveMisses: t.misses,
		LastSeenFrame:     t.lastSeen,
	}
	if t.latest != nil {
		el := t.latest.Clone()
		s.LatestElement = &el
	}
	return s
}

// Tracker owns the track table. It is safe for concurrent use.
type Tracker struct {
	mu                sync.Mutex
	tracks            []*track // creation order
	nextID            int
	missThreshold     int
	matchingThreshold float64
	solve             func([][]float64) ([]pair, error)
	logger            *zap.Logger
}

// Option configures a Tracker
type Option func(*Tracker)

// WithMissThreshold sets how many consecutive misses prune a track
func WithMissThreshold(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.missThreshold = n
		}
	}
}

// WithMatchingThreshold sets the maximum normalized center distance for a match
func WithMatchingThreshold(d float64) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.matchingThreshold = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// New creates an empty tracker
func New(opts ...Option) *Tracker {
	t := &Tracker{
		missThreshold:     DefaultMissThreshold,
		matchingThreshold: DefaultMatchingThreshold,
		solve:             assign,
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.Named("tracker")
	t.logger.Debug("tracker initialized",
		zap.Int("miss_threshold", t.missThreshold),
		zap.Float64("matching_threshold", t.matchingThreshold))
	return t
}

type observation struct {
	el     ui.Element
	cx, cy float64
}

// Update matches the elements of one frame against the current tracks and
// returns every surviving track.
func (t *Tracker) Update(elements []ui.Element, frame int) []ElementTrack {
	t.mu.Lock()
	defer t.mu.Unlock()

	obs := make([]observation, 0, len(elements))
	for _, el := range elements {
		cx, cy, ok := el.Bounds.Center()
		if !ok {
			t.logger.Debug("skipping element with invalid bounds",
				zap.Int("element_id", el.ID), zap.Int("frame", frame))
			continue
		}
		obs = append(obs, observation{el: el, cx: cx, cy: cy})
	}

	matchedTrack := make([]bool, len(t.tracks))
	matchedObs := make([]bool, len(obs))

	if len(obs) > 0 && len(t.tracks) > 0 {
		pairs, err := t.solve(t.costMatrix(obs))
		if err != nil {
			t.logger.Warn("assignment failed, treating frame as unmatched",
				zap.Int("frame", frame), zap.Error(err))
			pairs = nil
		}
		for _, p := range pairs {
			tr := t.tracks[p.col]
			el := obs[p.row].el.Clone()
			tr.latest = &el
			tr.lastKnown = el
			tr.misses = 0
			tr.lastSeen = frame
			matchedTrack[p.col] = true
			matchedObs[p.row] = true
		}
		t.logger.Debug("matched elements", zap.Int("frame", frame), zap.Int("matches", len(pairs)))
	}

	survivors := make([]*track, 0, len(t.tracks)+len(obs))
	for i, tr := range t.tracks {
		if matchedTrack[i] {
			survivors = append(survivors, tr)
			continue
		}
		tr.latest = nil
		tr.misses++
		if tr.misses >= t.missThreshold {
			t.logger.Debug("pruning track", zap.String("track_id", tr.id), zap.Int("misses", tr.misses))
			continue
		}
		survivors = append(survivors, tr)
	}

	for i, o := range obs {
		if matchedObs[i] {
			continue
		}
		el := o.el.Clone()
		tr := &track{
			id:        fmt.Sprintf("track_%d", t.nextID),
			latest:    &el,
			lastKnown: el,
			lastSeen:  frame,
		}
		t.nextID++
		survivors = append(survivors, tr)
		t.logger.Debug("created track", zap.String("track_id", tr.id), zap.Int("element_id", el.ID))
	}

	t.tracks = survivors
	return t.snapshotLocked()
}

// Tracks returns the current tracks without updating them
func (t *Tracker) Tracks() []ElementTrack {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// TrackFor returns the id of the track currently holding the element with the
// given snapshot id, or "" if it is not tracked.
func (t *Tracker) TrackFor(elementID int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tr := range t.tracks {
		if tr.latest != nil && tr.latest.ID == elementID {
			return tr.id
		}
	}
	return ""
}

func (t *Tracker) snapshotLocked() []ElementTrack {
	out := make([]ElementTrack, len(t.tracks))
	for i, tr := range t.tracks {
		out[i] = tr.snapshot()
	}
	return out
}

// costMatrix has one row per observation and one column per track.
// Missing tracks still take part, using their last known element.
func (t *Tracker) costMatrix(obs []observation) [][]float64 {
	limit := t.matchingThreshold * t.matchingThreshold
	inf := math.Inf(1)

	cost := make([][]float64, len(obs))
	for i, o := range obs {
		row := make([]float64, len(t.tracks))
		for j, tr := range t.tracks {
			tx, ty, ok := tr.lastKnown.Bounds.Center()
			if !ok || tr.lastKnown.Type != o.el.Type {
				row[j] = inf
				continue
			}
			dx, dy := o.cx-tx, o.cy-ty
			d := dx*dx + dy*dy
			if d > limit {
				row[j] = inf
				continue
			}
			row[j] = d
		}
		cost[i] = row
	}
	return cost
}
