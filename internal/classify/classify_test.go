package classify

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkguard/internal/bounded"
	"parkguard/internal/model"
)

func base() Input {
	return Input{
		TrackID:      1,
		Sector:       model.Sector{Row: 3, Col: 4},
		Dwell:        0.5,
		Amplitude:    0.8,
		StopTotal:    0,
		ParkSeconds:  10,
		AlarmSeconds: 1.5,
	}
}

func TestClassifyRules(t *testing.T) {
	c := New(0, bounded.PolicyFIFO, 10)
	assert.Equal(t, model.StateFree, c.Classify(base()))

	in := base()
	in.Dwell = 1.6
	assert.Equal(t, model.StateCaution, c.Classify(in))

	in = base()
	in.TrackID = 2
	in.Amplitude = 0.01
	assert.Equal(t, model.StateCaution, c.Classify(in))

	in = base()
	in.TrackID = 3
	in.StopTotal = 10.01
	assert.Equal(t, model.StateViolation, c.Classify(in))

	// equal to the threshold is not over it
	in.TrackID = 4
	in.StopTotal = 10
	assert.Equal(t, model.StateFree, c.Classify(in))
}

func TestCautionIsStickyPerSector(t *testing.T) {
	c := New(0, bounded.PolicyFIFO, 10)
	in := base()
	in.Dwell = 2
	require.Equal(t, model.StateCaution, c.Classify(in))

	in.Dwell = 0.1
	assert.Equal(t, model.StateCaution, c.Classify(in))

	other := in
	other.Sector = model.Sector{Row: 3, Col: 5}
	assert.Equal(t, model.StateFree, c.Classify(other))
}

func TestCautionSurvivesViolation(t *testing.T) {
	c := New(0, bounded.PolicyFIFO, 10)
	in := base()
	in.Dwell = 2
	require.Equal(t, model.StateCaution, c.Classify(in))

	in.StopTotal = 11
	require.Equal(t, model.StateViolation, c.Classify(in))
	m, _ := c.Mark(in.TrackID, in.Sector)
	assert.True(t, m.Caution)

	// the stop total was reset by a relocation elsewhere
	in.StopTotal = 0
	in.Dwell = 0.1
	assert.Equal(t, model.StateCaution, c.Classify(in))

	// a violation without an earlier caution leaves the sector free
	fresh := base()
	fresh.TrackID = 5
	fresh.StopTotal = 11
	require.Equal(t, model.StateViolation, c.Classify(fresh))
	fresh.StopTotal = 0
	assert.Equal(t, model.StateFree, c.Classify(fresh))
}

func TestMarkRelocatedForcesFreshDecision(t *testing.T) {
	c := New(0, bounded.PolicyFIFO, 10)
	in := base()
	in.Dwell = 2
	require.Equal(t, model.StateCaution, c.Classify(in))

	c.MarkRelocated(in.TrackID, in.Sector)
	m, ok := c.Mark(in.TrackID, in.Sector)
	require.True(t, ok)
	assert.True(t, m.Relocated)
	assert.Equal(t, model.StateFree, m.State)

	in.Dwell = 0.2
	assert.Equal(t, model.StateFree, c.Classify(in))
	m, _ = c.Mark(in.TrackID, in.Sector)
	assert.False(t, m.Relocated)
}

func TestClassifyNeverFlagsWithoutCause(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	c := New(0, bounded.PolicyFIFO, 50)
	prior := map[[3]int]bool{}
	for i := 0; i < 5000; i++ {
		in := Input{
			TrackID:      rng.Intn(20),
			Sector:       model.Sector{Row: rng.Intn(3), Col: rng.Intn(3)},
			Dwell:        rng.Float64() * 3,
			Amplitude:    rng.Float64() * 0.1,
			StopTotal:    rng.Float64() * 20,
			ParkSeconds:  10,
			AlarmSeconds: 1.5,
		}
		key := [3]int{in.TrackID, in.Sector.Row, in.Sector.Col}
		got := c.Classify(in)
		switch got {
		case model.StateViolation:
			require.Greater(t, in.StopTotal, in.ParkSeconds)
		case model.StateCaution:
			require.True(t, in.Dwell > in.AlarmSeconds || prior[key] || in.Amplitude < DefaultNearZeroAmplitude,
				"caution without cause: %+v", in)
		}
		switch got {
		case model.StateCaution:
			prior[key] = true
		case model.StateFree:
			prior[key] = false
		}
	}
}
