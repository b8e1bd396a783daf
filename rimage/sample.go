package rimage

import (
	"math"

	"go.viam.com/sfm/autodiff"
)

// linearAxis returns the two neighbouring indices along an axis of the given size and the weight
// of the first one. Coordinates outside [0, size-1] clamp to the border pixel.
func linearAxis(v float64, size int) (int, int, float64) {
	i := int(math.Floor(v))
	switch {
	case i < 0:
		return 0, 0, 1
	case i > size-2:
		return size - 1, size - 1, 1
	default:
		return i, i + 1, float64(i+1) - v
	}
}

// SampleLinear bilinearly samples channel c at (x, y). Out of bounds coordinates clamp to the
// nearest border pixel.
func SampleLinear(img *FloatImage, x, y float64, c int) float64 {
	x1, x2, dx := linearAxis(x, img.width)
	y1, y2, dy := linearAxis(y, img.height)

	im11 := float64(img.At(x1, y1, c))
	im12 := float64(img.At(x2, y1, c))
	im21 := float64(img.At(x1, y2, c))
	im22 := float64(img.At(x2, y2, c))

	return dy*(dx*im11+(1-dx)*im12) + (1-dy)*(dx*im21+(1-dx)*im22)
}

// SampleLinearWithDerivative samples an image laid out by BlurredImageAndDerivativesChannels.
// The value comes from channel 0; for differentiable coordinates the x and y gradient channels
// carry the derivative through the chain rule.
func SampleLinearWithDerivative[T autodiff.Scalar[T]](img *FloatImage, x, y T) T {
	xr, yr := x.Real(), y.Real()
	v := SampleLinear(img, xr, yr, 0)
	dx := SampleLinear(img, xr, yr, 1)
	dy := SampleLinear(img, xr, yr, 2)
	return x.Chain2(v, dx, dy, y)
}

// SampleWithDerivative returns the value and x/y gradient at a point of a three channel
// blurred-plus-derivatives image.
func SampleWithDerivative(img *FloatImage, x, y float64) (v, dx, dy float64) {
	return SampleLinear(img, x, y, 0), SampleLinear(img, x, y, 1), SampleLinear(img, x, y, 2)
}
