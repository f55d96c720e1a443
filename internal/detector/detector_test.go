package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkguard/internal/model"
	"parkguard/internal/motion"
	"parkguard/internal/zones"
)

func fullFrameZones(park float64) *zones.Set {
	return &zones.Set{Width: 1280, Height: 720, Zones: []zones.Zone{{
		ID:          1,
		Label:       "road",
		Polygon:     []motion.Point{{X: 0, Y: 0}, {X: 1280, Y: 0}, {X: 1280, Y: 720}, {X: 0, Y: 720}},
		ParkSeconds: park,
	}}}
}

func car(track int, x0, y0 float64) model.TrackedObject {
	return model.TrackedObject{TrackID: track, ClassID: 2, BBox: [4]float64{x0, y0, x0 + 200, y0 + 150}, Confidence: 0.9}
}

func frameAt(i int, objs ...model.TrackedObject) model.Frame {
	return model.Frame{TaskID: "cam", Index: int64(i), Timestamp: float64(i) * 0.04, FPS: 25, Width: 1280, Height: 720, Objects: objs}
}

func newDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := New("cam", fullFrameZones(10), Options{}, nil)
	require.NoError(t, err)
	return d
}

func TestNewRequiresZones(t *testing.T) {
	_, err := New("cam", &zones.Set{}, Options{}, nil)
	var cfgErr *zones.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestStationaryCarEscalates(t *testing.T) {
	d := newDetector(t)
	res := d.Process(frameAt(0, car(1, 100, 100)))
	assert.Empty(t, res.Classifications, "one centroid is not enough to classify")

	firstViolation := int64(-1)
	for i := 1; i < 300; i++ {
		res = d.Process(frameAt(i, car(1, 100, 100)))
		require.Len(t, res.Classifications, 1)
		cls := res.Classifications[0]
		switch cls.State {
		case model.StateFree:
			t.Fatalf("frame %d: stationary car classified free", i)
		case model.StateViolation:
			require.Greater(t, cls.ParkSeconds, 10.0)
			if firstViolation < 0 {
				firstViolation = res.FrameIndex
				require.Len(t, res.Park, 1)
				assert.Equal(t, model.CategoryPark, res.Park[0].Category)
				assert.Equal(t, 1, res.Park[0].ZoneID)
				assert.Greater(t, res.Park[0].StopSeconds, 1.5)
			}
		case model.StateCaution:
			require.Len(t, res.Stop, 1)
		}
	}
	assert.InDelta(t, 252, firstViolation, 2)
	assert.Zero(t, d.Evictions().Total())
}

func TestMovingCarStaysFree(t *testing.T) {
	d := newDetector(t)
	for i := 0; i < 20; i++ {
		res := d.Process(frameAt(i, car(2, float64(20*i), 300)))
		for _, cls := range res.Classifications {
			assert.Equal(t, model.StateFree, cls.State, "frame %d", i)
			assert.InDelta(t, 1.0, cls.Amplitude, 1e-9)
		}
		assert.Empty(t, res.Stop)
		assert.Empty(t, res.Park)
	}
}

func TestSkipsOtherClassesAndOutsideZones(t *testing.T) {
	set := &zones.Set{Zones: []zones.Zone{{
		ID:          1,
		Polygon:     []motion.Point{{X: 0, Y: 0}, {X: 400, Y: 0}, {X: 400, Y: 400}, {X: 0, Y: 400}},
		ParkSeconds: 10,
	}}}
	d, err := New("cam", set, Options{}, nil)
	require.NoError(t, err)
	person := model.TrackedObject{TrackID: 3, ClassID: 0, BBox: [4]float64{10, 10, 50, 100}}
	far := car(4, 900, 500)
	res := d.Process(frameAt(0, person, far, car(5, 10, 10)))
	assert.Equal(t, 3, res.Objects)
	assert.Equal(t, 2, res.Skipped)
}

func TestRelocationResetsStop(t *testing.T) {
	d := newDetector(t)
	// three seconds in one sector
	for i := 0; i < 76; i++ {
		d.Process(frameAt(i, car(7, 100, 100)))
	}
	// one sector to the right: centroid moves from x=200 to x=240
	res := d.Process(frameAt(76, car(7, 140, 100)))
	require.Len(t, res.Classifications, 1)
	cls := res.Classifications[0]
	assert.Equal(t, 1, res.AlarmEvents)
	assert.True(t, cls.Relocated)
	assert.Zero(t, cls.ParkSeconds)
	assert.Equal(t, model.StateFree, cls.State)
	assert.Equal(t, model.Sector{Row: 7, Col: 6}, cls.Sector)
}

func TestMinBBoxAreaFilter(t *testing.T) {
	d, err := New("cam", fullFrameZones(10), Options{MinBBoxAreaRatio: 100}, nil)
	require.NoError(t, err)
	d.Process(frameAt(0, car(1, 100, 100)))
	res := d.Process(frameAt(1, car(1, 100, 100)))
	assert.Empty(t, res.Classifications)
	assert.Equal(t, 1, res.Skipped)
}

func TestActivityResets(t *testing.T) {
	a := newActivityGrid(2, 2, 3)
	s := model.Sector{Row: 1, Col: 1}
	a.Update(s, 0.5)
	a.Update(s, 0.7)
	snap := a.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 2, snap[0].Count)
	assert.Equal(t, 0.7, snap[0].Amplitude)
	a.Update(s, 0.9)
	assert.Empty(t, a.Snapshot())
}

func TestClassSet(t *testing.T) {
	s := buildClassSet([]int{2, 7})
	assert.True(t, s.Allowed(2))
	assert.False(t, s.Allowed(0))
	assert.True(t, buildClassSet(nil).Allowed(42))
}
