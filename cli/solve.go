package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"go.viam.com/sfm/reconstruction"
	"go.viam.com/sfm/rimage/transform"
	"go.viam.com/sfm/tracks"
)

// SolveAction reconstructs a scene from a tracks file and prints the cameras.
func SolveAction(c *cli.Context) error {
	logger := loggerFor(c, "solve")

	markers, err := tracks.Load(c.Path(flagTracks))
	if err != nil {
		return err
	}
	intrinsicsOptions, err := transform.LoadCameraIntrinsicsOptions(c.Path(flagIntrinsics))
	if err != nil {
		return err
	}
	options := reconstruction.DefaultReconstructionOptions()
	if path := c.Path(flagOptions); path != "" {
		loaded, err := reconstruction.LoadReconstructionOptions(path)
		if err != nil {
			return err
		}
		options = *loaded
	}

	solve := reconstruction.Solve
	if c.Bool(flagModal) {
		solve = reconstruction.SolveModal
	}
	intrinsics := transform.NewCameraIntrinsicsFromOptions(*intrinsicsOptions)
	res, err := solve(c.Context, markers, intrinsics, options, progressPrinter(c.App.ErrWriter), logger)
	if err != nil {
		return errors.Wrap(err, "reconstruction failed")
	}

	fmt.Fprintln(c.App.Writer, renderCameras(res))
	fmt.Fprintln(c.App.Writer, renderSummary(res))

	if path := c.Path(flagPlot); path != "" {
		if err := plotImageErrors(res, path); err != nil {
			return err
		}
		logger.Infow("wrote error plot", "path", path)
	}
	return nil
}

func progressPrinter(w io.Writer) reconstruction.ProgressFunc {
	return func(progress float64, message string) {
		fmt.Fprintf(w, "[%3.0f%%] %s\n", 100*progress, message)
	}
}

// renderCameras prints one row per reconstructed camera with its center and reprojection error.
func renderCameras(res *reconstruction.Result) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Image", "Center", "Error (px)"})
	for _, camera := range res.Reconstruction.AllCameras() {
		center := camera.Center()
		t.AppendRow([]interface{}{
			camera.Image,
			fmt.Sprintf("X:%.3f, Y:%.3f, Z:%.3f", center.X, center.Y, center.Z),
			fmt.Sprintf("%.4f", res.ReprojectionErrorForImage(camera.Image)),
		})
	}
	return t.Render()
}

func renderSummary(res *reconstruction.Result) string {
	t := table.NewWriter()
	t.AppendRows([]table.Row{
		{"Stage", res.Stage},
		{"Cameras", res.Reconstruction.NumCameras()},
		{"Points", res.Reconstruction.NumPoints()},
		{"Focal length", fmt.Sprintf("%.3f", res.Intrinsics.FocalLength())},
		{"Mean error", fmt.Sprintf("%.4f", res.Stats.Mean)},
		{"Median error", fmt.Sprintf("%.4f", res.Stats.Median)},
		{"95th percentile", fmt.Sprintf("%.4f", res.Stats.P95)},
		{"Max error", fmt.Sprintf("%.4f", res.Stats.Max)},
	})
	if len(res.FailedImages) > 0 {
		failed := lo.Map(res.FailedImages, func(image, _ int) string { return fmt.Sprint(image) })
		t.AppendRow(table.Row{"Failed images", strings.Join(failed, ", ")})
	}
	return t.Render()
}

// plotImageErrors saves a line plot of the reprojection error of every reconstructed image.
func plotImageErrors(res *reconstruction.Result, path string) error {
	cameras := res.Reconstruction.AllCameras()
	if len(cameras) == 0 {
		return errors.New("no cameras to plot")
	}
	pts := make(plotter.XYs, 0, len(cameras))
	for _, camera := range cameras {
		pts = append(pts, plotter.XY{X: float64(camera.Image), Y: res.ReprojectionErrorForImage(camera.Image)})
	}

	p := plot.New()
	p.Title.Text = "Reprojection error per image"
	p.X.Label.Text = "Image"
	p.Y.Label.Text = "RMS error (px)"
	p.Add(plotter.NewGrid())

	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return err
	}
	line.Width = vg.Points(1)
	p.Add(line, points)
	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}
