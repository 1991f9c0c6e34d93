// Package tracking associates per-frame detection rectangles with
// persistent plate tracks.
package tracking

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"anpr-tracker/internal/domain/anpr"
)

var ErrInvalidConfig = errors.New("invalid matcher config")

// MatcherConfig holds the association and expiry parameters.
type MatcherConfig struct {
	MatchIoUThreshold float64       // Minimum overlap (inclusive) for a detection to claim a track
	StaleAfter        time.Duration // Unmatched time after which a track expires
	MaxTracks         int           // Upper bound on live tracks; 0 disables the bound
}

func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		MatchIoUThreshold: 0.3,
		StaleAfter:        time.Second,
		MaxTracks:         32,
	}
}

func (c MatcherConfig) Validate() error {
	if c.MatchIoUThreshold <= 0 || c.MatchIoUThreshold > 1 {
		return fmt.Errorf("%w: match IoU threshold %v outside (0,1]", ErrInvalidConfig, c.MatchIoUThreshold)
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("%w: stale window must be positive", ErrInvalidConfig)
	}
	if c.MaxTracks < 0 {
		return fmt.Errorf("%w: max tracks must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Matcher owns the tracked-plate set. It is not safe for concurrent use;
// the engine serializes access.
type Matcher struct {
	cfg    MatcherConfig
	tracks map[uuid.UUID]*anpr.TrackedPlate
	newID  func() uuid.UUID
}

func NewMatcher(cfg MatcherConfig) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Matcher{
		cfg:    cfg,
		tracks: make(map[uuid.UUID]*anpr.TrackedPlate),
		newID:  uuid.New,
	}, nil
}

type candidate struct {
	track *anpr.TrackedPlate
	det   int
	iou   float64
}

// Update runs one association cycle and returns the resulting track set.
//
// Every (track, detection) pair at or above the IoU threshold is a
// candidate. Candidates are accepted greedily by descending overlap, the
// older track winning ties, so each track and each detection is claimed at
// most once per cycle.
func (m *Matcher) Update(detections []anpr.Rect, now time.Time) []anpr.TrackedPlate {
	rects := make([]anpr.Rect, 0, len(detections))
	for _, r := range detections {
		if r.Valid() {
			rects = append(rects, r)
		}
	}

	// Expire first so a detection cannot revive a track that already went stale.
	m.Expire(now)

	var candidates []candidate
	for _, track := range m.tracks {
		for di, r := range rects {
			iou := track.LastRect.IoU(r)
			if iou >= m.cfg.MatchIoUThreshold {
				candidates = append(candidates, candidate{track: track, det: di, iou: iou})
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.iou != b.iou {
			return a.iou > b.iou
		}
		if !a.track.FirstSeen.Equal(b.track.FirstSeen) {
			return a.track.FirstSeen.Before(b.track.FirstSeen)
		}
		if a.track.ID != b.track.ID {
			return a.track.ID.String() < b.track.ID.String()
		}
		return a.det < b.det
	})

	matchedTracks := make(map[uuid.UUID]bool, len(m.tracks))
	matchedDets := make([]bool, len(rects))
	for _, c := range candidates {
		if matchedTracks[c.track.ID] || matchedDets[c.det] {
			continue
		}
		matchedTracks[c.track.ID] = true
		matchedDets[c.det] = true
		c.track.LastRect = rects[c.det]
		c.track.LastSeen = now
		c.track.Misses = 0
	}

	for id, track := range m.tracks {
		if !matchedTracks[id] {
			track.Misses++
		}
	}

	for di, r := range rects {
		if matchedDets[di] {
			continue
		}
		if m.cfg.MaxTracks > 0 && len(m.tracks) >= m.cfg.MaxTracks {
			break
		}
		id := m.newID()
		m.tracks[id] = &anpr.TrackedPlate{
			ID:        id,
			LastRect:  r,
			FirstSeen: now,
			LastSeen:  now,
		}
	}

	return m.Plates()
}

// Expire drops every track left unmatched for longer than StaleAfter and
// reports how many were removed.
func (m *Matcher) Expire(now time.Time) int {
	removed := 0
	for id, track := range m.tracks {
		if now.Sub(track.LastSeen) > m.cfg.StaleAfter {
			delete(m.tracks, id)
			removed++
		}
	}
	return removed
}

// Plates returns copies of all live tracks, oldest first.
func (m *Matcher) Plates() []anpr.TrackedPlate {
	plates := make([]anpr.TrackedPlate, 0, len(m.tracks))
	for _, track := range m.tracks {
		plates = append(plates, *track)
	}
	sortPlates(plates)
	return plates
}

func (m *Matcher) Get(id uuid.UUID) (anpr.TrackedPlate, bool) {
	track, ok := m.tracks[id]
	if !ok {
		return anpr.TrackedPlate{}, false
	}
	return *track, true
}

// FirstWithoutNumber returns the oldest live track that has no validated number.
func (m *Matcher) FirstWithoutNumber() (anpr.TrackedPlate, bool) {
	for _, p := range m.Plates() {
		if !p.HasNumber() {
			return p, true
		}
	}
	return anpr.TrackedPlate{}, false
}

// SetNumber writes a validated number onto a track. An existing number is
// kept unless allowOverwrite is set and the new confidence is at least the
// stored one. It reports whether the track changed.
func (m *Matcher) SetNumber(id uuid.UUID, number string, confidence float64, allowOverwrite bool) bool {
	track, ok := m.tracks[id]
	if !ok || number == "" {
		return false
	}
	if track.HasNumber() {
		if !allowOverwrite || confidence < track.NumberConfidence || number == track.Number {
			return false
		}
	}
	track.Number = number
	track.NumberConfidence = confidence
	return true
}

// Reset drops every track. Dropped ids are never handed out again.
func (m *Matcher) Reset() {
	m.tracks = make(map[uuid.UUID]*anpr.TrackedPlate)
}

func sortPlates(plates []anpr.TrackedPlate) {
	sort.Slice(plates, func(i, j int) bool {
		if !plates[i].FirstSeen.Equal(plates[j].FirstSeen) {
			return plates[i].FirstSeen.Before(plates[j].FirstSeen)
		}
		return plates[i].ID.String() < plates[j].ID.String()
	})
}
