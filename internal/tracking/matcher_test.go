package tracking

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anpr-tracker/internal/domain/anpr"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestMatcher(t *testing.T, mutate func(*MatcherConfig)) *Matcher {
	t.Helper()
	cfg := DefaultMatcherConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewMatcher(cfg)
	require.NoError(t, err)
	return m
}

func rect(x, y, w, h float64) anpr.Rect {
	return anpr.Rect{X: x, Y: y, Width: w, Height: h}
}

func TestMatcherConfigValidate(t *testing.T) {
	t.Parallel()

	bad := []func(*MatcherConfig){
		func(c *MatcherConfig) { c.MatchIoUThreshold = 0 },
		func(c *MatcherConfig) { c.MatchIoUThreshold = 1.5 },
		func(c *MatcherConfig) { c.StaleAfter = 0 },
		func(c *MatcherConfig) { c.MaxTracks = -1 },
	}
	for i, mutate := range bad {
		cfg := DefaultMatcherConfig()
		mutate(&cfg)
		_, err := NewMatcher(cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig, "case %d", i)
	}
}

func TestMatcherUpdate(t *testing.T) {
	t.Parallel()

	t.Run("empty input creates nothing", func(t *testing.T) {
		t.Parallel()
		m := newTestMatcher(t, nil)
		assert.Empty(t, m.Update(nil, t0))
		assert.Empty(t, m.Update([]anpr.Rect{}, t0.Add(time.Second)))
	})

	t.Run("degenerate rects are dropped", func(t *testing.T) {
		t.Parallel()
		m := newTestMatcher(t, nil)
		plates := m.Update([]anpr.Rect{
			rect(0, 0, 0, 10),
			rect(0, 0, 10, -1),
			rect(math.NaN(), 0, 10, 10),
		}, t0)
		assert.Empty(t, plates)
	})

	t.Run("new detection spawns a numberless track", func(t *testing.T) {
		t.Parallel()
		m := newTestMatcher(t, nil)
		plates := m.Update([]anpr.Rect{rect(10, 10, 50, 20)}, t0)
		require.Len(t, plates, 1)
		p := plates[0]
		assert.NotEqual(t, uuid.Nil, p.ID)
		assert.False(t, p.HasNumber())
		assert.Equal(t, t0, p.FirstSeen)
		assert.Equal(t, t0, p.LastSeen)
		assert.Equal(t, rect(10, 10, 50, 20), p.LastRect)
	})

	t.Run("overlapping detection keeps the id", func(t *testing.T) {
		t.Parallel()
		m := newTestMatcher(t, nil)
		first := m.Update([]anpr.Rect{rect(10, 10, 50, 20)}, t0)
		second := m.Update([]anpr.Rect{rect(14, 11, 50, 20)}, t0.Add(100*time.Millisecond))
		require.Len(t, second, 1)
		assert.Equal(t, first[0].ID, second[0].ID)
		assert.Equal(t, rect(14, 11, 50, 20), second[0].LastRect)
		assert.Equal(t, t0, second[0].FirstSeen)
		assert.Equal(t, t0.Add(100*time.Millisecond), second[0].LastSeen)
	})

	t.Run("one detection cannot feed two tracks", func(t *testing.T) {
		t.Parallel()
		m := newTestMatcher(t, nil)
		initial := m.Update([]anpr.Rect{rect(0, 0, 40, 20), rect(10, 0, 40, 20)}, t0)
		require.Len(t, initial, 2)

		// Overlaps both tracks equally; only one may claim it.
		plates := m.Update([]anpr.Rect{rect(5, 0, 40, 20)}, t0.Add(50*time.Millisecond))
		require.Len(t, plates, 2)
		matched := 0
		for _, p := range plates {
			if p.LastSeen.Equal(t0.Add(50 * time.Millisecond)) {
				matched++
			}
		}
		assert.Equal(t, 1, matched)
	})

	t.Run("oldest track wins a contested detection", func(t *testing.T) {
		t.Parallel()
		m := newTestMatcher(t, nil)
		m.Update([]anpr.Rect{rect(0, 0, 40, 20)}, t0)
		older := m.Plates()[0]
		// A second track at the same place, created later via a direct insert.
		younger := anpr.TrackedPlate{ID: uuid.New(), LastRect: rect(0, 0, 40, 20), FirstSeen: t0.Add(time.Millisecond), LastSeen: t0.Add(time.Millisecond)}
		m.tracks[younger.ID] = &younger

		now := t0.Add(100 * time.Millisecond)
		m.Update([]anpr.Rect{rect(0, 0, 40, 20)}, now)
		got, ok := m.Get(older.ID)
		require.True(t, ok)
		assert.Equal(t, now, got.LastSeen)
		assert.Zero(t, got.Misses)

		other, ok := m.Get(younger.ID)
		require.True(t, ok)
		assert.Equal(t, 1, other.Misses)
	})

	t.Run("highest overlap wins before age", func(t *testing.T) {
		t.Parallel()
		m := newTestMatcher(t, nil)
		m.Update([]anpr.Rect{rect(0, 0, 40, 20)}, t0)
		older := m.Plates()[0]
		younger := anpr.TrackedPlate{ID: uuid.New(), LastRect: rect(30, 0, 40, 20), FirstSeen: t0.Add(time.Millisecond), LastSeen: t0.Add(time.Millisecond)}
		m.tracks[younger.ID] = &younger

		now := t0.Add(100 * time.Millisecond)
		m.Update([]anpr.Rect{rect(20, 0, 40, 20)}, now)
		got, _ := m.Get(younger.ID)
		assert.Equal(t, now, got.LastSeen)
		got, _ = m.Get(older.ID)
		assert.Equal(t, t0, got.LastSeen)
	})

	t.Run("stale tracks expire and never come back", func(t *testing.T) {
		t.Parallel()
		m := newTestMatcher(t, func(c *MatcherConfig) { c.StaleAfter = 500 * time.Millisecond })
		plates := m.Update([]anpr.Rect{rect(10, 10, 50, 20)}, t0)
		id := plates[0].ID

		plates = m.Update(nil, t0.Add(400*time.Millisecond))
		require.Len(t, plates, 1, "still inside the staleness window")
		assert.Equal(t, 1, plates[0].Misses)

		plates = m.Update(nil, t0.Add(501*time.Millisecond))
		assert.Empty(t, plates)
		_, ok := m.Get(id)
		assert.False(t, ok)

		plates = m.Update([]anpr.Rect{rect(10, 10, 50, 20)}, t0.Add(600*time.Millisecond))
		require.Len(t, plates, 1)
		assert.NotEqual(t, id, plates[0].ID)
	})

	t.Run("expire without a detection batch", func(t *testing.T) {
		t.Parallel()
		m := newTestMatcher(t, nil)
		plates := m.Update([]anpr.Rect{rect(10, 10, 50, 20), rect(200, 10, 50, 20)}, t0)
		require.Len(t, plates, 2)

		assert.Zero(t, m.Expire(t0.Add(time.Second)), "the bound is exclusive")
		assert.Equal(t, 2, m.Expire(t0.Add(time.Minute)))
		assert.Empty(t, m.Plates())
		_, ok := m.FirstWithoutNumber()
		assert.False(t, ok)
	})

	t.Run("max tracks bounds creation", func(t *testing.T) {
		t.Parallel()
		m := newTestMatcher(t, func(c *MatcherConfig) { c.MaxTracks = 2 })
		plates := m.Update([]anpr.Rect{rect(0, 0, 10, 10), rect(100, 0, 10, 10), rect(200, 0, 10, 10)}, t0)
		assert.Len(t, plates, 2)
	})
}

func TestMatcherTrackCountBound(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t, func(c *MatcherConfig) { c.StaleAfter = 300 * time.Millisecond })
	frames := [][]anpr.Rect{
		{rect(0, 0, 40, 20), rect(100, 0, 40, 20)},
		{rect(2, 0, 40, 20)},
		{},
		{rect(300, 300, 40, 20), rect(400, 300, 40, 20), rect(500, 300, 40, 20)},
		{},
		{},
		{},
		{rect(300, 300, 40, 20)},
	}
	type frame struct {
		at    time.Time
		count int
	}
	var history []frame
	for i, dets := range frames {
		now := t0.Add(time.Duration(i) * 100 * time.Millisecond)
		history = append(history, frame{at: now, count: len(dets)})
		plates := m.Update(dets, now)

		received := 0
		for _, f := range history {
			if now.Sub(f.at) <= 300*time.Millisecond {
				received += f.count
			}
		}
		assert.LessOrEqual(t, len(plates), received, "frame %d", i)
	}
}

func TestSetNumber(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t, nil)
	id := m.Update([]anpr.Rect{rect(0, 0, 40, 20)}, t0)[0].ID

	assert.False(t, m.SetNumber(uuid.New(), "AB1234", 0.9, false), "unknown track")
	assert.True(t, m.SetNumber(id, "AB1234", 0.8, false))
	assert.False(t, m.SetNumber(id, "CD5678", 0.99, false), "first validated wins")
	assert.False(t, m.SetNumber(id, "CD5678", 0.5, true), "lower confidence does not overwrite")
	assert.True(t, m.SetNumber(id, "CD5678", 0.95, true))

	got, _ := m.Get(id)
	assert.Equal(t, "CD5678", got.Number)
	assert.InDelta(t, 0.95, got.NumberConfidence, 1e-9)

	_, ok := m.FirstWithoutNumber()
	assert.False(t, ok)
}

func TestPlatesOrderedByAge(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t, nil)
	ids := []uuid.UUID{
		uuid.MustParse("00000000-0000-0000-0000-000000000003"),
		uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		uuid.MustParse("00000000-0000-0000-0000-000000000002"),
	}
	next := 0
	m.newID = func() uuid.UUID {
		id := ids[next]
		next++
		return id
	}
	m.Update([]anpr.Rect{rect(0, 0, 10, 10)}, t0)
	m.Update([]anpr.Rect{rect(0, 0, 10, 10), rect(100, 0, 10, 10), rect(200, 0, 10, 10)}, t0.Add(time.Millisecond))

	var got []uuid.UUID
	for _, p := range m.Plates() {
		got = append(got, p.ID)
	}
	want := []uuid.UUID{ids[0], ids[1], ids[2]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("plate order mismatch (-want +got):\n%s", diff)
	}

	first, ok := m.FirstWithoutNumber()
	require.True(t, ok)
	assert.Equal(t, ids[0], first.ID)
}
