package tracking

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/sfm/rimage"
	"go.viam.com/sfm/rimage/transform"
)

// ErrPatchOutOfBounds is returned when a quad corner lies outside the sampled image.
var ErrPatchOutOfBounds = errors.New("patch corners are outside the image")

// cornersInBounds reports whether the four corners lie inside img.
func cornersInBounds(img *rimage.FloatImage, quad Quad) bool {
	w, h := float64(img.Width()), float64(img.Height())
	for _, p := range quad {
		if p.X < 0 || p.Y < 0 || p.X >= w || p.Y >= h {
			return false
		}
	}
	return true
}

// canonicalHomography maps the pixel centres of an nx by ny grid onto the quad.
func canonicalHomography(quad Quad, nx, ny int) (transform.Homography, error) {
	fx, fy := float64(nx)-0.5, float64(ny)-0.5
	canonical := []r2.Point{{X: -0.5, Y: -0.5}, {X: fx, Y: -0.5}, {X: fx, Y: fy}, {X: -0.5, Y: fy}}
	return transform.EstimateHomography2D(canonical, quad[:])
}

// pickSampling sizes the canonical grid from the longest horizontal and vertical edges of both
// quads, so that sampling is about as dense as the pixels.
func pickSampling(quad1, quad2 Quad) (int, int) {
	var nx, ny float64
	for _, q := range []Quad{quad1, quad2} {
		nx = max(nx, q[1].Sub(q[0]).Norm(), q[3].Sub(q[2]).Norm())
		ny = max(ny, q[3].Sub(q[0]).Norm(), q[1].Sub(q[2]).Norm())
	}
	return int(nx), int(ny)
}

// SamplePlanarPatch resamples the quad given by the first four points into an nx by ny patch with
// the image's channel count, multiplying by the mask when one is given. The returned point is the
// fifth input point, or the quad centroid if there is none, in patch coordinates.
func SamplePlanarPatch(
	img *rimage.FloatImage,
	points []r2.Point,
	nx, ny int,
	mask *rimage.FloatImage,
) (*rimage.FloatImage, r2.Point, error) {
	quad, err := QuadFromPoints(points)
	if err != nil {
		return nil, r2.Point{}, err
	}
	if nx <= 0 || ny <= 0 {
		return nil, r2.Point{}, errors.Errorf("invalid patch size (%d, %d)", nx, ny)
	}
	if !cornersInBounds(img, quad) {
		return nil, r2.Point{}, ErrPatchOutOfBounds
	}
	h, err := canonicalHomography(quad, nx, ny)
	if err != nil {
		return nil, r2.Point{}, errors.Wrap(err, "cannot map patch onto quad")
	}

	patch := rimage.NewFloatImage(nx, ny, img.Depth())
	for r := 0; r < ny; r++ {
		for c := 0; c < nx; c++ {
			p := h.Apply(r2.Point{X: float64(c), Y: float64(r)})
			weight := 1.0
			if mask != nil {
				weight = rimage.SampleLinear(mask, p.X, p.Y, 0)
			}
			for d := 0; d < img.Depth(); d++ {
				patch.Set(c, r, d, float32(weight*rimage.SampleLinear(img, p.X, p.Y, d)))
			}
		}
	}

	center := quad.Centroid()
	if len(points) > 4 {
		center = points[4]
	}
	inv, err := h.Inverse()
	if err != nil {
		return nil, r2.Point{}, errors.Wrap(err, "cannot invert patch homography")
	}
	return patch, inv.Apply(center), nil
}
