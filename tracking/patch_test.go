package tracking

import (
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"

	"go.viam.com/sfm/rimage"
)

func rampImage(w, h, depth int) *rimage.FloatImage {
	img := rimage.NewFloatImage(w, h, depth)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for d := 0; d < depth; d++ {
				img.Set(x, y, d, float32(x+10*y+100*d))
			}
		}
	}
	return img
}

func TestSamplePlanarPatch(t *testing.T) {
	img := rampImage(30, 30, 2)
	points := []r2.Point{
		{X: 9.5, Y: 4.5}, {X: 19.5, Y: 4.5}, {X: 19.5, Y: 14.5}, {X: 9.5, Y: 14.5}, {X: 14.5, Y: 9.5},
	}
	patch, center, err := SamplePlanarPatch(img, points, 10, 10, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, patch.Width(), test.ShouldEqual, 10)
	test.That(t, patch.Height(), test.ShouldEqual, 10)
	test.That(t, patch.Depth(), test.ShouldEqual, 2)
	for _, rc := range [][2]int{{0, 0}, {3, 7}, {9, 9}} {
		r, c := rc[0], rc[1]
		test.That(t, patch.At(c, r, 0), test.ShouldAlmostEqual, float32(c+10+10*(r+5)), 1e-3)
		test.That(t, patch.At(c, r, 1), test.ShouldAlmostEqual, float32(c+10+10*(r+5)+100), 1e-3)
	}
	test.That(t, center.X, test.ShouldAlmostEqual, 4.5, 1e-9)
	test.That(t, center.Y, test.ShouldAlmostEqual, 4.5, 1e-9)

	mask := rimage.NewFloatImage(30, 30, 1)
	mask.Fill(0.5)
	masked, _, err := SamplePlanarPatch(img, points, 10, 10, mask)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, masked.At(3, 7, 0), test.ShouldAlmostEqual, patch.At(3, 7, 0)/2, 1e-3)
}

func TestSamplePlanarPatchErrors(t *testing.T) {
	img := rampImage(30, 30, 1)
	_, _, err := SamplePlanarPatch(img, []r2.Point{{X: -1, Y: 0}, {X: 5, Y: 0}, {X: 5, Y: 5}, {X: 0, Y: 5}}, 4, 4, nil)
	test.That(t, err, test.ShouldEqual, ErrPatchOutOfBounds)

	_, _, err = SamplePlanarPatch(img, []r2.Point{{X: 1, Y: 1}}, 4, 4, nil)
	test.That(t, err, test.ShouldNotBeNil)

	_, _, err = SamplePlanarPatch(img, []r2.Point{{X: 1, Y: 1}, {X: 5, Y: 1}, {X: 5, Y: 5}, {X: 1, Y: 5}}, 0, 4, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPickSampling(t *testing.T) {
	q1 := Quad{{X: 0, Y: 0}, {X: 20, Y: 0}, {X: 20, Y: 10}, {X: 0, Y: 10}}
	q2 := Quad{{X: 0, Y: 0}, {X: 15, Y: 0}, {X: 15, Y: 12}, {X: 0, Y: 12}}
	nx, ny := pickSampling(q1, q2)
	test.That(t, nx, test.ShouldEqual, 20)
	test.That(t, ny, test.ShouldEqual, 12)
}
