package light

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citygrid/trafficsim/pkg/core"
)

func newTestLight(t *testing.T, cycle int, offsetFactor float64) *Light {
	t.Helper()
	l, err := New(Config{
		ID:           "light_test",
		ZoneID:       "zone_a",
		Orientation:  core.OrientVertical,
		CycleLength:  cycle,
		OffsetFactor: offsetFactor,
	})
	require.NoError(t, err)
	return l
}

func TestNew_InvalidCycle(t *testing.T) {
	_, err := New(Config{ID: "x", CycleLength: 0})
	assert.Error(t, err)

	_, err = New(Config{ID: "x", CycleLength: -5})
	assert.Error(t, err)
}

func TestTimings_RedAbsorbsRounding(t *testing.T) {
	cases := []struct {
		cycle     int
		wantGreen int
		wantYellow int
		wantRed   int
	}{
		{100, 45, 10, 45},
		{250, 113, 25, 112},
		{333, 150, 33, 150},
		{241, 108, 24, 109},
	}
	for _, c := range cases {
		l := newTestLight(t, c.cycle, 0)
		g, y, r := l.Timings()
		assert.Equal(t, c.wantGreen, g, "cycle %d green", c.cycle)
		assert.Equal(t, c.wantYellow, y, "cycle %d yellow", c.cycle)
		assert.Equal(t, c.wantRed, r, "cycle %d red", c.cycle)
		assert.Equal(t, c.cycle, g+y+r, "phases must sum to the cycle")
	}
}

func TestStateAt_Cycle100(t *testing.T) {
	l := newTestLight(t, 100, 0)

	for tick := uint64(0); tick < 45; tick++ {
		assert.Equal(t, core.LightGreen, l.StateAt(tick), "tick %d", tick)
	}
	for tick := uint64(45); tick < 55; tick++ {
		assert.Equal(t, core.LightYellow, l.StateAt(tick), "tick %d", tick)
	}
	for tick := uint64(55); tick < 100; tick++ {
		assert.Equal(t, core.LightRed, l.StateAt(tick), "tick %d", tick)
	}
	// Wraps around.
	assert.Equal(t, core.LightGreen, l.StateAt(100))
}

func TestAdvance_MatchesStateAt(t *testing.T) {
	// The state reached by N Advance calls must equal the direct formula,
	// for several cycle/offset combinations.
	for _, cycle := range []int{100, 241, 360} {
		for _, offset := range []float64{0, 0.3, 0.55, 0.99} {
			l := newTestLight(t, cycle, offset)
			ref := newTestLight(t, cycle, offset)
			for n := uint64(1); n <= uint64(2*cycle+7); n++ {
				state, _ := l.Advance()
				require.Equal(t, ref.StateAt(n), state,
					"cycle=%d offset=%v tick=%d", cycle, offset, n)
			}
		}
	}
}

func TestAdvance_ReportsChanges(t *testing.T) {
	l := newTestLight(t, 100, 0)

	var changes int
	for i := 0; i < 100; i++ {
		if _, changed := l.Advance(); changed {
			changes++
		}
	}
	// green->yellow, yellow->red, red->green over one full cycle.
	assert.Equal(t, 3, changes)
	assert.Equal(t, core.LightGreen, l.State())
}

func TestPhaseExclusivity(t *testing.T) {
	// A perpendicular pair offset {0.0, 0.55} must never both be green.
	ew := newTestLight(t, 100, 0.0)
	ns := newTestLight(t, 100, 0.55)

	for tick := uint64(0); tick < 200; tick++ {
		ewState := ew.StateAt(tick)
		nsState := ns.StateAt(tick)
		require.False(t, ewState == core.LightGreen && nsState == core.LightGreen,
			"both approaches green at tick %d", tick)
	}
}

func TestSnapshot_AppliesZoneOffset(t *testing.T) {
	l, err := New(Config{
		ID:          "light_zone_b_w",
		ZoneID:      "zone_b",
		Position:    core.Position{X: 153, Y: 165},
		Orientation: core.OrientVertical,
		Width:       12,
		Height:      36,
		CycleLength: 100,
	})
	require.NoError(t, err)

	snap := l.Snapshot(core.Position{X: 200, Y: 0})
	assert.Equal(t, 353.0, snap.Position.X)
	assert.Equal(t, 165.0, snap.Position.Y)
	assert.Equal(t, core.LightGreen, snap.State)
	assert.Equal(t, "zone_b", snap.ZoneID)
}
