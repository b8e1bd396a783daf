package cli

import (
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/sfm/rimage"
	"go.viam.com/sfm/tracking"
)

// TrackAction tracks a quad between two frames and prints the result.
func TrackAction(c *cli.Context) error {
	logger := loggerFor(c, "track")

	quad1, err := parseQuad(c.String(flagQuad1))
	if err != nil {
		return errors.Wrap(err, "invalid --quad1")
	}
	quad2 := quad1
	if s := c.String(flagQuad2); s != "" {
		if quad2, err = parseQuad(s); err != nil {
			return errors.Wrap(err, "invalid --quad2")
		}
		if len(quad2) != len(quad1) {
			return errors.Errorf("quads have %d and %d points", len(quad1), len(quad2))
		}
	}

	options := tracking.DefaultTrackRegionOptions()
	if path := c.Path(flagOptions); path != "" {
		loaded, err := tracking.LoadTrackRegionOptions(path)
		if err != nil {
			return err
		}
		options = *loaded
	}

	img1, err := loadImage(c.Path(flagImage1))
	if err != nil {
		return err
	}
	img2, err := loadImage(c.Path(flagImage2))
	if err != nil {
		return err
	}

	tracked, result := tracking.TrackRegion(
		rimage.FloatImageFromImage(img1), rimage.FloatImageFromImage(img2),
		quad1, quad2, options, logger)
	fmt.Fprintln(c.App.Writer, renderTrack(quad2, tracked, result))

	if path := c.Path(flagPlot); path != "" {
		if err := plotTrack(img2, quad2, tracked, result.IsUsable(), path); err != nil {
			return err
		}
		logger.Infow("wrote track plot", "path", path)
	}
	if !result.IsUsable() {
		return errors.Errorf("tracking failed: %s", result.Termination)
	}
	return nil
}

// parseQuad reads whitespace separated "x,y" pairs. At least the four corners are required; any
// further points are carried along by the warp.
func parseQuad(s string) ([]r2.Point, error) {
	fields := strings.Fields(s)
	if len(fields) < 4 {
		return nil, errors.Errorf("need at least 4 points, got %d", len(fields))
	}
	points := make([]r2.Point, 0, len(fields))
	for _, field := range fields {
		xy := strings.Split(field, ",")
		if len(xy) != 2 {
			return nil, errors.Errorf("point %q is not of the form x,y", field)
		}
		x, err := strconv.ParseFloat(xy[0], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "point %q", field)
		}
		y, err := strconv.ParseFloat(xy[1], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "point %q", field)
		}
		points = append(points, r2.Point{X: x, Y: y})
	}
	return points, nil
}

func renderTrack(initial, tracked []r2.Point, result tracking.TrackRegionResult) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("%s after %d iterations, correlation %.4f",
		result.Termination, result.Iterations, result.Correlation))
	t.AppendHeader(table.Row{"#", "Initial", "Tracked"})
	for i := range tracked {
		t.AppendRow([]interface{}{
			i,
			fmt.Sprintf("%.3f, %.3f", initial[i].X, initial[i].Y),
			fmt.Sprintf("%.3f, %.3f", tracked[i].X, tracked[i].Y),
		})
	}
	return t.Render()
}

// plotTrack draws the initial guess in red and the tracked quad in green, or orange when the
// track is not usable.
func plotTrack(img image.Image, initial, tracked []r2.Point, usable bool, outName string) error {
	dc := gg.NewContext(img.Bounds().Dx(), img.Bounds().Dy())
	dc.DrawImage(img, 0, 0)
	dc.SetLineWidth(1)

	drawQuad := func(points []r2.Point) {
		for i := 0; i < 4; i++ {
			dc.LineTo(points[i].X, points[i].Y)
		}
		dc.ClosePath()
		dc.Stroke()
		for _, p := range points[4:] {
			dc.DrawCircle(p.X, p.Y, 2)
			dc.Fill()
		}
	}

	dc.SetRGB(1, 0, 0)
	drawQuad(initial)
	if usable {
		dc.SetRGB(0, 1, 0)
	} else {
		dc.SetRGB(1, 0.5, 0)
	}
	drawQuad(tracked)
	return dc.SavePNG(outName)
}
