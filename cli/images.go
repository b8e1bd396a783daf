package cli

import (
	"image"

	"github.com/disintegration/imaging"
	_ "github.com/lmittmann/ppm" // register ppm
	"github.com/pkg/errors"
)

func loadImage(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open %q", path)
	}
	return img, nil
}

// loadGray decodes an image file and converts it to gray levels.
func loadGray(path string) (*image.Gray, error) {
	img, err := loadImage(path)
	if err != nil {
		return nil, err
	}
	return toGray(imaging.Grayscale(img)), nil
}

// toGray keeps the first channel of an image whose channels are already equal.
func toGray(src *image.NRGBA) *image.Gray {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	gray := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < w; x++ {
			gray.Pix[y*gray.Stride+x] = row[4*x]
		}
	}
	return gray
}
