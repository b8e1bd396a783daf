package tracking

import (
	"context"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/rimage"
	"go.viam.com/sfm/tracks"
)

// FrameAccessor supplies the frames of a sequence.
type FrameAccessor interface {
	NumFrames() int
	Frame(ctx context.Context, index int) (*rimage.FloatImage, error)
}

// Frames is an in-memory FrameAccessor.
type Frames []*rimage.FloatImage

// NumFrames returns the number of frames.
func (f Frames) NumFrames() int { return len(f) }

// Frame returns the frame at index.
func (f Frames) Frame(ctx context.Context, index int) (*rimage.FloatImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if index < 0 || index >= len(f) {
		return nil, errors.Errorf("frame %d out of range [0, %d)", index, len(f))
	}
	return f[index], nil
}

// SequenceTracker extends tracks frame by frame through a sequence.
type SequenceTracker struct {
	frames FrameAccessor
	opts   TrackRegionOptions
	logger logging.Logger
}

// NewSequenceTracker returns a tracker over frames.
func NewSequenceTracker(frames FrameAccessor, opts TrackRegionOptions, logger logging.Logger) (*SequenceTracker, error) {
	if err := opts.Validate(""); err != nil {
		return nil, err
	}
	return &SequenceTracker{frames: frames, opts: opts, logger: logger}, nil
}

// Track follows a region seen as points in frame start, one frame at a time in the given direction,
// until the region can no longer be tracked or the sequence ends. Every tracked position is
// inserted into db as a marker of track, at the fifth point when one is given and at the quad
// centroid otherwise. The context is checked between frames. Track returns the last frame the
// region was tracked into.
func (s *SequenceTracker) Track(
	ctx context.Context,
	db *tracks.Tracks,
	track, start int,
	points []r2.Point,
	backwards bool,
) (int, error) {
	if _, err := QuadFromPoints(points); err != nil {
		return start, err
	}
	step := 1
	if backwards {
		step = -1
	}

	previous, err := s.frames.Frame(ctx, start)
	if err != nil {
		return start, err
	}
	current := append([]r2.Point(nil), points...)
	insertMarker(db, start, track, current)

	last := start
	for frame := start + step; frame >= 0 && frame < s.frames.NumFrames(); frame += step {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		next, err := s.frames.Frame(ctx, frame)
		if err != nil {
			return last, err
		}
		logger := s.logger.WithTrack(track).WithImage(frame)
		tracked, result := TrackRegion(previous, next, current, current, s.opts, logger)
		if !result.IsUsable() {
			logger.Debugw("track stopped", "termination", result.Termination)
			return last, nil
		}
		insertMarker(db, frame, track, tracked)
		previous, current, last = next, tracked, frame
	}
	return last, nil
}

func insertMarker(db *tracks.Tracks, image, track int, points []r2.Point) {
	quad, _ := QuadFromPoints(points)
	center := quad.Centroid()
	if len(points) > 4 {
		center = points[4]
	}
	db.Insert(image, track, center.X, center.Y)
}
