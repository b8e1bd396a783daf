package tracking

import (
	"context"
	"testing"

	"github.com/golang/geo/r2"
	"go.uber.org/zap"
	"go.viam.com/test"

	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/tracks"
)

func TestSequenceTracker(t *testing.T) {
	frames := Frames{texture(0, 0, 1), texture(1, 0.5, 1), texture(2, 1, 1), texture(3, 1.5, 1)}
	tracker, err := NewSequenceTracker(frames, DefaultTrackRegionOptions(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	db := tracks.New()
	last, err := tracker.Track(context.Background(), db, 7, 0, square(28, 28, 24), false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, last, test.ShouldEqual, 3)
	test.That(t, len(db.MarkersForTrack(7)), test.ShouldEqual, 4)
	for i := 0; i < 4; i++ {
		m, ok := db.MarkerInImageForTrack(i, 7)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, m.X, test.ShouldAlmostEqual, 40+float64(i), 0.15)
		test.That(t, m.Y, test.ShouldAlmostEqual, 40+0.5*float64(i), 0.15)
	}

	back := tracks.New()
	last, err = tracker.Track(context.Background(), back, 1, 3, shifted(square(28, 28, 24), r2.Point{X: 3, Y: 1.5}), true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, last, test.ShouldEqual, 0)
	m, ok := back.MarkerInImageForTrack(0, 1)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, m.X, test.ShouldAlmostEqual, 40, 0.15)
}

func TestSequenceTrackerStops(t *testing.T) {
	frames := Frames{texture(0, 0, 1), texture(1, 0, 1)}
	logger, observed := logging.NewObservedTestLogger(t)
	tracker, err := NewSequenceTracker(frames, DefaultTrackRegionOptions(), logger)
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tracker.Track(ctx, tracks.New(), 0, 0, square(28, 28, 24), false)
	test.That(t, err, test.ShouldEqual, context.Canceled)

	db := tracks.New()
	last, err := tracker.Track(context.Background(), db, 5, 0, square(-5, 28, 24), false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, last, test.ShouldEqual, 0)
	test.That(t, db.NumMarkers(), test.ShouldEqual, 1)
	stopped := observed.FilterMessage("track stopped")
	test.That(t, stopped.Len(), test.ShouldEqual, 1)
	test.That(t, stopped.FilterField(zap.Int("track", 5)).FilterField(zap.Int("image", 1)).Len(), test.ShouldEqual, 1)

	opts := DefaultTrackRegionOptions()
	opts.Sigma = 0
	_, err = NewSequenceTracker(frames, opts, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}
