package cli

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/urfave/cli/v2"

	"go.viam.com/sfm/rimage/transform"
)

// UndistortAction removes, or with --distort applies, lens distortion to an image.
func UndistortAction(c *cli.Context) error {
	logger := loggerFor(c, "undistort")

	options, err := transform.LoadCameraIntrinsicsOptions(c.Path(flagIntrinsics))
	if err != nil {
		return err
	}
	intrinsics := transform.NewCameraIntrinsicsFromOptions(*options)
	intrinsics.SetThreadCount(c.Int(flagThreads))

	img, err := loadImage(c.Path(flagImage))
	if err != nil {
		return err
	}
	out, err := resampleImage(intrinsics, img, c.Float64(flagOverscan), c.Bool(flagDistort))
	if err != nil {
		return err
	}
	if err := imaging.Save(out, c.Path(flagOutput)); err != nil {
		return err
	}
	logger.Infow("wrote image", "path", c.Path(flagOutput), "distort", c.Bool(flagDistort))
	return nil
}

// resampleImage runs the distortion lookup over all four channels of img.
func resampleImage(
	intrinsics *transform.CameraIntrinsics,
	img image.Image,
	overscan float64,
	distort bool,
) (*image.NRGBA, error) {
	const channels = 4
	src := imaging.Clone(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))

	resample := intrinsics.UndistortBytes
	if distort {
		resample = intrinsics.DistortBytes
	}
	if err := resample(src.Pix, dst.Pix, w, h, overscan, channels); err != nil {
		return nil, err
	}
	return dst, nil
}
