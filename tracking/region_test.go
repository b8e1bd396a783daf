package tracking

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"

	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/rimage"
)

const textureSize = 80

type blob struct {
	x, y, amplitude float64
}

var textureBlobs = func() []blob {
	rng := rand.New(rand.NewSource(7))
	out := make([]blob, 60)
	for i := range out {
		out[i] = blob{
			x:         rng.Float64()*100 - 10,
			y:         rng.Float64()*100 - 10,
			amplitude: 0.3 + 0.7*rng.Float64(),
		}
	}
	return out
}()

// texture renders a sum of Gaussian blobs translated by (dx, dy) and scaled by gain.
func texture(dx, dy, gain float64) *rimage.FloatImage {
	img := rimage.NewFloatImage(textureSize, textureSize, 1)
	const twoSigmaSq = 2 * 3.5 * 3.5
	for y := 0; y < textureSize; y++ {
		for x := 0; x < textureSize; x++ {
			var v float64
			for _, b := range textureBlobs {
				ex := float64(x) - dx - b.x
				ey := float64(y) - dy - b.y
				v += b.amplitude * math.Exp(-(ex*ex+ey*ey)/twoSigmaSq)
			}
			img.Set(x, y, 0, float32(gain*v))
		}
	}
	return img
}

func square(x0, y0, size float64) []r2.Point {
	return []r2.Point{
		{X: x0, Y: y0},
		{X: x0 + size, Y: y0},
		{X: x0 + size, Y: y0 + size},
		{X: x0, Y: y0 + size},
		{X: x0 + size/2, Y: y0 + size/2},
	}
}

func shifted(pts []r2.Point, d r2.Point) []r2.Point {
	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		out[i] = p.Add(d)
	}
	return out
}

func pointsClose(t *testing.T, got, want []r2.Point, tol float64) {
	t.Helper()
	test.That(t, len(got), test.ShouldEqual, len(want))
	for i := range want {
		test.That(t, got[i].X, test.ShouldAlmostEqual, want[i].X, tol)
		test.That(t, got[i].Y, test.ShouldAlmostEqual, want[i].Y, tol)
	}
}

func TestTrackRegionIdentity(t *testing.T) {
	logger := logging.NewTestLogger(t)
	img := texture(0, 0, 1)
	quad := square(28, 28, 24)

	opts := DefaultTrackRegionOptions()
	opts.MinimumCorrelation = 0.9
	for _, model := range Models {
		t.Run(string(model), func(t *testing.T) {
			opts.Mode = model
			got, result := TrackRegion(img, img, quad, quad, opts, logger)
			test.That(t, result.IsUsable(), test.ShouldBeTrue)
			test.That(t, result.Termination, test.ShouldNotEqual, NoConvergence)
			test.That(t, result.Correlation, test.ShouldAlmostEqual, 1, 1e-6)
			test.That(t, result.UsedBruteTranslationInitialization, test.ShouldBeFalse)
			pointsClose(t, got, quad, 1e-3)
		})
	}
}

func TestTrackRegionSubpixelShift(t *testing.T) {
	logger := logging.NewTestLogger(t)
	shift := r2.Point{X: 1.5, Y: -0.75}
	img1 := texture(0, 0, 1)
	img2 := texture(shift.X, shift.Y, 1)
	quad := square(28, 28, 24)
	want := shifted(quad, shift)

	for _, tc := range []struct {
		model Model
		tol   float64
	}{
		{TranslationModel, 0.1},
		{TranslationRotationScaleModel, 0.15},
		{AffineModel, 0.15},
		{HomographyModel, 0.25},
	} {
		t.Run(string(tc.model), func(t *testing.T) {
			opts := DefaultTrackRegionOptions()
			opts.Mode = tc.model
			opts.MaxIterations = 50
			got, result := TrackRegion(img1, img2, quad, quad, opts, logger)
			test.That(t, result.IsUsable(), test.ShouldBeTrue)
			pointsClose(t, got, want, tc.tol)
		})
	}
}

func TestTrackRegionNormalizedIntensities(t *testing.T) {
	shift := r2.Point{X: -1.25, Y: 1}
	img1 := texture(0, 0, 1)
	img2 := texture(shift.X, shift.Y, 1.4)
	quad := square(28, 28, 24)

	opts := DefaultTrackRegionOptions()
	opts.UseNormalizedIntensities = true
	opts.MinimumCorrelation = 0.95
	got, result := TrackRegion(img1, img2, quad, quad, opts, logging.NewTestLogger(t))
	test.That(t, result.IsUsable(), test.ShouldBeTrue)
	pointsClose(t, got, shifted(quad, shift), 0.1)
}

func TestTrackRegionCorrelationFloorFallsBackToBrute(t *testing.T) {
	shift := r2.Point{X: 12, Y: 9}
	img1 := texture(0, 0, 1)
	img2 := texture(shift.X, shift.Y, 1)
	quad := square(28, 28, 24)

	opts := DefaultTrackRegionOptions()
	test.That(t, opts.AttemptRefineBeforeBrute, test.ShouldBeTrue)
	opts.MinimumCorrelation = 0.95
	got, result := TrackRegion(img1, img2, quad, quad, opts, logging.NewTestLogger(t))
	test.That(t, result.IsUsable(), test.ShouldBeTrue)
	test.That(t, result.Correlation, test.ShouldBeGreaterThan, 0.95)
	pointsClose(t, got, shifted(quad, shift), 0.1)
}

func TestTrackRegionBruteInitialization(t *testing.T) {
	shift := r2.Point{X: 9, Y: -6}
	img1 := texture(0, 0, 1)
	img2 := texture(shift.X, shift.Y, 1)
	quad := square(28, 28, 24)

	opts := DefaultTrackRegionOptions()
	opts.AttemptRefineBeforeBrute = false
	got, result := TrackRegion(img1, img2, quad, quad, opts, logging.NewTestLogger(t))
	test.That(t, result.UsedBruteTranslationInitialization, test.ShouldBeTrue)
	test.That(t, result.IsUsable(), test.ShouldBeTrue)
	pointsClose(t, got, shifted(quad, shift), 0.1)
}

func TestTrackRegionBounds(t *testing.T) {
	logger := logging.NewTestLogger(t)
	img := texture(0, 0, 1)
	inside := square(28, 28, 24)
	outside := square(-2, 28, 24)

	got, result := TrackRegion(img, img, outside, inside, DefaultTrackRegionOptions(), logger)
	test.That(t, result.Termination, test.ShouldEqual, SourceOutOfBounds)
	test.That(t, got, test.ShouldResemble, inside)

	got, result = TrackRegion(img, img, inside, shifted(inside, r2.Point{X: 60}), DefaultTrackRegionOptions(), logger)
	test.That(t, result.Termination, test.ShouldEqual, DestinationOutOfBounds)
	test.That(t, got, test.ShouldResemble, shifted(inside, r2.Point{X: 60}))

	_, result = TrackRegion(img, img, inside[:3], inside[:3], DefaultTrackRegionOptions(), logger)
	test.That(t, result.Termination, test.ShouldEqual, ConfigurationError)
}

func TestTrackRegionFellOutOfBounds(t *testing.T) {
	img1 := texture(0, 0, 1)
	img2 := texture(4, 0, 1)
	quad := square(55, 28, 23)

	opts := DefaultTrackRegionOptions()
	opts.UseBruteInitialization = false
	_, result := TrackRegion(img1, img2, quad, quad, opts, logging.NewTestLogger(t))
	test.That(t, result.Termination, test.ShouldEqual, FellOutOfBounds)
	test.That(t, result.IsUsable(), test.ShouldBeFalse)
}

func TestTrackRegionCorrelationGating(t *testing.T) {
	logger := logging.NewTestLogger(t)
	img1 := texture(0, 0, 1)
	img2 := texture(0.5, 0.5, 1)
	quad := square(28, 28, 24)

	opts := DefaultTrackRegionOptions()
	opts.MinimumCorrelation = 0.5
	_, result := TrackRegion(img1, img2, quad, quad, opts, logger)
	test.That(t, result.IsUsable(), test.ShouldBeTrue)
	test.That(t, result.Correlation, test.ShouldBeGreaterThan, 0.5)

	opts.MinimumCorrelation = 1
	_, result = TrackRegion(img1, img2, quad, quad, opts, logger)
	test.That(t, result.Termination, test.ShouldEqual, InsufficientCorrelation)

	opts.MinimumCorrelation = 0.5
	_, result = TrackRegion(img1, img2, quad, quad, opts, logger)
	test.That(t, result.IsUsable(), test.ShouldBeTrue)
}

func TestTrackRegionMask(t *testing.T) {
	logger := logging.NewTestLogger(t)
	img := texture(0, 0, 1)
	quad := square(28, 28, 24)

	opts := DefaultTrackRegionOptions()
	opts.Mask = rimage.NewFloatImage(textureSize, textureSize, 1)
	_, result := TrackRegion(img, img, quad, quad, opts, logger)
	test.That(t, result.Termination, test.ShouldEqual, InsufficientPatternArea)

	opts.Mask.Fill(1)
	got, result := TrackRegion(img, img, quad, quad, opts, logger)
	test.That(t, result.IsUsable(), test.ShouldBeTrue)
	pointsClose(t, got, quad, 1e-3)
}

func TestTerminationString(t *testing.T) {
	test.That(t, InsufficientCorrelation.String(), test.ShouldEqual, "INSUFFICIENT_CORRELATION")
	test.That(t, Termination(99).String(), test.ShouldEqual, "TERMINATION(99)")
	test.That(t, TrackRegionResult{Termination: NoConvergence}.IsUsable(), test.ShouldBeFalse)
	test.That(t, TrackRegionResult{Termination: FunctionTolerance}.IsUsable(), test.ShouldBeTrue)
}
