package rimage

import (
	"math"

	"go.viam.com/sfm/utils"
)

const gaussianTruncation = 0.004

func gaussian(x, sigma float64) float64 {
	return 1 / math.Sqrt(2*math.Pi*sigma*sigma) * math.Exp(-(x*x)/(2*sigma*sigma))
}

func gaussianDerivative(x, sigma float64) float64 {
	return -x / (sigma * sigma) * gaussian(x, sigma)
}

// gaussianInversePositive solves gaussian(x, sigma) = y for the positive x.
func gaussianInversePositive(y, sigma float64) float64 {
	return math.Sqrt(-2 * sigma * sigma * math.Log(y*sigma*math.Sqrt(2*math.Pi)))
}

// ComputeGaussianKernel returns an odd-width sampled Gaussian and its derivative. The kernel is
// truncated where it falls below 0.4% of the unit peak. The kernel sums to one; the derivative is
// scaled so that convolving a unit ramp gives one.
func ComputeGaussianKernel(sigma float64) (kernel, derivative []float64) {
	halfWidth := gaussianInversePositive(gaussianTruncation, sigma)
	width := utils.Lround(2 * halfWidth)
	if width%2 == 0 {
		width++
	}
	if width < 1 {
		width = 1
	}
	kernel = make([]float64, width)
	derivative = make([]float64, width)
	half := width / 2
	for i := -half; i <= half; i++ {
		kernel[i+half] = gaussian(float64(i), sigma)
		derivative[i+half] = gaussianDerivative(float64(i), sigma)
	}

	var sum float64
	for _, k := range kernel {
		sum += math.Abs(k)
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	var factor float64
	for i := -half; i <= half; i++ {
		factor -= float64(i) * derivative[i+half]
	}
	if factor != 0 {
		for i := range derivative {
			derivative[i] /= factor
		}
	}
	return kernel, derivative
}

// ConvolveHorizontal convolves channel srcChannel of src along x and writes it to channel
// dstChannel of dst. Samples beyond the border repeat the edge pixel.
func ConvolveHorizontal(src *FloatImage, srcChannel int, kernel []float64, dst *FloatImage, dstChannel int) {
	half := len(kernel) / 2
	w := src.width
	utils.ParallelForEachRow(src.height, func(y int) {
		for x := 0; x < w; x++ {
			var sum float64
			for k := -half; k <= half; k++ {
				sx := utils.ClampInt(x-k, 0, w-1)
				sum += float64(src.At(sx, y, srcChannel)) * kernel[k+half]
			}
			dst.Set(x, y, dstChannel, float32(sum))
		}
	})
}

// ConvolveVertical is ConvolveHorizontal along y.
func ConvolveVertical(src *FloatImage, srcChannel int, kernel []float64, dst *FloatImage, dstChannel int) {
	half := len(kernel) / 2
	h := src.height
	utils.ParallelForEachRow(h, func(y int) {
		for x := 0; x < src.width; x++ {
			var sum float64
			for k := -half; k <= half; k++ {
				sy := utils.ClampInt(y-k, 0, h-1)
				sum += float64(src.At(x, sy, srcChannel)) * kernel[k+half]
			}
			dst.Set(x, y, dstChannel, float32(sum))
		}
	})
}

// ConvolveGaussian blurs channel 0 of img.
func ConvolveGaussian(img *FloatImage, sigma float64) *FloatImage {
	kernel, _ := ComputeGaussianKernel(sigma)
	tmp := NewFloatImage(img.width, img.height, 1)
	out := NewFloatImage(img.width, img.height, 1)
	ConvolveHorizontal(img, 0, kernel, tmp, 0)
	ConvolveVertical(tmp, 0, kernel, out, 0)
	return out
}

// BlurredImageAndDerivativesChannels returns a three channel image holding the Gaussian blurred
// channel 0 of img, its x derivative and its y derivative.
func BlurredImageAndDerivativesChannels(img *FloatImage, sigma float64) *FloatImage {
	kernel, derivative := ComputeGaussianKernel(sigma)
	w, h := img.width, img.height

	// Blur along y first, then split into blur and x derivative along x.
	blurY := NewFloatImage(w, h, 1)
	ConvolveVertical(img, 0, kernel, blurY, 0)

	out := NewFloatImage(w, h, 3)
	ConvolveHorizontal(blurY, 0, kernel, out, 0)
	ConvolveHorizontal(blurY, 0, derivative, out, 1)

	// The y derivative blurs along x and differentiates along y.
	blurX := NewFloatImage(w, h, 1)
	ConvolveHorizontal(img, 0, kernel, blurX, 0)
	ConvolveVertical(blurX, 0, derivative, out, 2)
	return out
}
