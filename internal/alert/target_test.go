package alert

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anpr-tracker/internal/domain/anpr"
)

func plate(number string) anpr.TrackedPlate {
	return anpr.TrackedPlate{ID: uuid.New(), Number: number}
}

func TestMachineStates(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	assert.Equal(t, Idle, m.Status().State)

	_, fired := m.Observe([]anpr.TrackedPlate{plate("XY1234")}, time.Now())
	assert.False(t, fired, "idle never fires")

	st := m.SetTarget("xy-123")
	assert.Equal(t, Searching, st.State)
	assert.Equal(t, "XY123", st.Target)

	m.Clear()
	assert.Equal(t, Idle, m.Status().State)

	assert.Equal(t, Idle, m.SetTarget("  ").State)
}

func TestMachineFiresOnce(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	m.SetTarget("XY123")
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	_, fired := m.Observe([]anpr.TrackedPlate{plate("AB9999"), {ID: uuid.New()}}, now)
	assert.False(t, fired)

	match := plate("XY1234")
	ev, fired := m.Observe([]anpr.TrackedPlate{plate("AB9999"), match}, now)
	require.True(t, fired)
	assert.Equal(t, "XY1234", ev.Plate)
	assert.Equal(t, "XY123", ev.Target)
	assert.Equal(t, match.ID, ev.TrackID)
	assert.Equal(t, now, ev.At)
	assert.Equal(t, Triggered, m.Status().State)

	for i := 0; i < 3; i++ {
		_, fired = m.Observe([]anpr.TrackedPlate{match, plate("ZXY1239")}, now)
		assert.False(t, fired, "triggered is terminal")
	}

	m.SetTarget("XY123")
	assert.Equal(t, Searching, m.Status().State)
	_, fired = m.Observe([]anpr.TrackedPlate{match}, now)
	assert.True(t, fired, "a new target re-arms exactly one alert")
	_, fired = m.Observe([]anpr.TrackedPlate{match}, now)
	assert.False(t, fired)
}

func TestMachineSubstringMatch(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	m.SetTarget("B123")
	ev, fired := m.Observe([]anpr.TrackedPlate{plate("AB123C")}, time.Now())
	require.True(t, fired)
	assert.Equal(t, "AB123C", ev.Plate)

	m.SetTarget("B124")
	_, fired = m.Observe([]anpr.TrackedPlate{plate("AB123C")}, time.Now())
	assert.False(t, fired)
}
