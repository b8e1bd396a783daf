// Package rimage contains float images and the sampling and filtering used by region tracking.
package rimage

import (
	"image"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// FloatImage is a row-major, channel-interleaved float32 image. Intensities of images built from
// bytes are scaled to [0, 1].
type FloatImage struct {
	width  int
	height int
	depth  int
	data   []float32
}

// NewFloatImage returns a zeroed image.
func NewFloatImage(width, height, depth int) *FloatImage {
	if width < 0 || height < 0 || depth < 1 {
		panic(errors.Errorf("invalid float image dimensions %dx%dx%d", width, height, depth))
	}
	return &FloatImage{width, height, depth, make([]float32, width*height*depth)}
}

// FloatImageFromFloats wraps data without copying it.
func FloatImageFromFloats(data []float32, width, height, depth int) (*FloatImage, error) {
	if width <= 0 || height <= 0 || depth <= 0 {
		return nil, errors.Errorf("invalid float image dimensions %dx%dx%d", width, height, depth)
	}
	if len(data) < width*height*depth {
		return nil, errors.Errorf("float buffer has %d values, need %d", len(data), width*height*depth)
	}
	return &FloatImage{width, height, depth, data[:width*height*depth]}, nil
}

// FloatImageFromBytes copies an interleaved byte buffer, scaling by 1/255. stride is the number of
// bytes per row; zero means tightly packed.
func FloatImageFromBytes(data []byte, width, height, depth, stride int) (*FloatImage, error) {
	if width <= 0 || height <= 0 || depth <= 0 {
		return nil, errors.Errorf("invalid byte image dimensions %dx%dx%d", width, height, depth)
	}
	if stride == 0 {
		stride = width * depth
	}
	if stride < width*depth || len(data) < stride*(height-1)+width*depth {
		return nil, errors.Errorf("byte buffer of %d bytes with stride %d too small for %dx%dx%d",
			len(data), stride, width, height, depth)
	}
	img := NewFloatImage(width, height, depth)
	for y := 0; y < height; y++ {
		row := data[y*stride : y*stride+width*depth]
		for i, b := range row {
			img.data[y*width*depth+i] = float32(b) / 255
		}
	}
	return img, nil
}

// FloatImageFromGray converts a gray image to a single channel float image.
func FloatImageFromGray(gray *image.Gray) *FloatImage {
	b := gray.Bounds()
	img := NewFloatImage(b.Dx(), b.Dy(), 1)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			img.data[y*img.width+x] = float32(gray.GrayAt(b.Min.X+x, b.Min.Y+y).Y) / 255
		}
	}
	return img
}

// FloatImageFromImage converts any image to a single channel float image by luminance.
func FloatImageFromImage(src image.Image) *FloatImage {
	if gray, ok := src.(*image.Gray); ok {
		return FloatImageFromGray(gray)
	}
	b := src.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), src, b.Min, draw.Src)
	return FloatImageFromGray(gray)
}

// Width returns the width in pixels.
func (img *FloatImage) Width() int { return img.width }

// Height returns the height in pixels.
func (img *FloatImage) Height() int { return img.height }

// Depth returns the number of channels.
func (img *FloatImage) Depth() int { return img.depth }

// Data returns the backing buffer.
func (img *FloatImage) Data() []float32 { return img.data }

// Bounds returns the image rectangle.
func (img *FloatImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, img.width, img.height)
}

// In reports whether the pixel is inside the image.
func (img *FloatImage) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < img.width && y < img.height
}

func (img *FloatImage) kxy(x, y, c int) int {
	return (y*img.width+x)*img.depth + c
}

// At returns channel c of pixel (x, y).
func (img *FloatImage) At(x, y, c int) float32 {
	return img.data[img.kxy(x, y, c)]
}

// Set stores channel c of pixel (x, y).
func (img *FloatImage) Set(x, y, c int, v float32) {
	img.data[img.kxy(x, y, c)] = v
}

// Fill sets every value.
func (img *FloatImage) Fill(v float32) {
	for i := range img.data {
		img.data[i] = v
	}
}

// Clone returns a deep copy.
func (img *FloatImage) Clone() *FloatImage {
	out := NewFloatImage(img.width, img.height, img.depth)
	copy(out.data, img.data)
	return out
}

// Channel extracts channel c as a single channel image.
func (img *FloatImage) Channel(c int) *FloatImage {
	out := NewFloatImage(img.width, img.height, 1)
	for i := range out.data {
		out.data[i] = img.data[i*img.depth+c]
	}
	return out
}

// ToGray converts channel 0 to an 8-bit gray image, clamping to [0, 1].
func (img *FloatImage) ToGray() *image.Gray {
	gray := image.NewGray(img.Bounds())
	for y := 0; y < img.height; y++ {
		for x := 0; x < img.width; x++ {
			v := math.Round(float64(img.At(x, y, 0)) * 255)
			gray.Pix[y*gray.Stride+x] = uint8(math.Max(0, math.Min(255, v)))
		}
	}
	return gray
}
