// Package cli contains the sfm command line tool.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"

	"go.viam.com/sfm/logging"
)

const (
	// Flags.
	flagDebug      = "debug"
	flagTracks     = "tracks"
	flagIntrinsics = "intrinsics"
	flagOptions    = "options"
	flagModal      = "modal"
	flagPlot       = "plot"
	flagImage      = "image"
	flagImage1     = "image1"
	flagImage2     = "image2"
	flagQuad1      = "quad1"
	flagQuad2      = "quad2"
	flagConfig     = "config"
	flagDetector   = "detector"
	flagThreshold  = "threshold"
	flagCount      = "count"
	flagMargin     = "margin"
	flagDistance   = "min-distance"
	flagOutput     = "output"
	flagOverscan   = "overscan"
	flagDistort    = "distort"
	flagThreads    = "threads"
)

var app = &cli.App{
	Name:            "sfm",
	Usage:           "track planar regions and reconstruct scenes from image sequences",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    flagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Before: func(c *cli.Context) error {
		if c.Bool(flagDebug) {
			logging.EnableDebugLogging()
		}
		return nil
	},
	Commands: []*cli.Command{
		{
			Name:      "solve",
			Usage:     "reconstruct cameras and points from pixel tracks",
			UsageText: "sfm solve --tracks FILE --intrinsics FILE [--options FILE] [--modal] [--plot FILE]",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     flagTracks,
					Usage:    "JSON file of markers",
					Required: true,
				},
				&cli.PathFlag{
					Name:     flagIntrinsics,
					Usage:    "JSON file of camera intrinsics",
					Required: true,
				},
				&cli.PathFlag{
					Name:  flagOptions,
					Usage: "JSON file of reconstruction options",
				},
				&cli.BoolFlag{
					Name:  flagModal,
					Usage: "solve for rotations only",
				},
				&cli.PathFlag{
					Name:  flagPlot,
					Usage: "write a per image reprojection error plot to `FILE`",
				},
			},
			Action: SolveAction,
		},
		{
			Name:      "track",
			Usage:     "track a quad from one frame into another",
			UsageText: `sfm track --image1 FILE --image2 FILE --quad1 "x,y x,y x,y x,y" [--quad2 ...] [--plot FILE]`,
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     flagImage1,
					Usage:    "frame containing the pattern",
					Required: true,
				},
				&cli.PathFlag{
					Name:     flagImage2,
					Usage:    "frame to search",
					Required: true,
				},
				&cli.StringFlag{
					Name:     flagQuad1,
					Usage:    "corners of the pattern in the first frame",
					Required: true,
				},
				&cli.StringFlag{
					Name:  flagQuad2,
					Usage: "initial guess in the second frame, defaults to the first quad",
				},
				&cli.PathFlag{
					Name:  flagOptions,
					Usage: "JSON file of track region options",
				},
				&cli.PathFlag{
					Name:  flagPlot,
					Usage: "draw the tracked quad over the second frame into `FILE`",
				},
			},
			Action: TrackAction,
		},
		{
			Name:      "detect",
			Usage:     "detect feature points in an image",
			UsageText: "sfm detect --image FILE [--detector fast|moravec] [--config FILE] [--plot FILE]",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     flagImage,
					Usage:    "image to search",
					Required: true,
				},
				&cli.StringFlag{
					Name:  flagDetector,
					Usage: "fast or moravec",
					Value: "fast",
				},
				&cli.PathFlag{
					Name:  flagConfig,
					Usage: "JSON file of detector settings, overrides the other detector flags",
				},
				&cli.IntFlag{
					Name:  flagMargin,
					Usage: "ignore features this close to the border",
					Value: 16,
				},
				&cli.Float64Flag{
					Name:  flagThreshold,
					Usage: "FAST contrast threshold",
					Value: 20,
				},
				&cli.IntFlag{
					Name:  flagCount,
					Usage: "maximum number of features, zero for no limit",
				},
				&cli.Float64Flag{
					Name:  flagDistance,
					Usage: "minimum distance between features",
				},
				&cli.PathFlag{
					Name:  flagPlot,
					Usage: "draw the features into `FILE`",
				},
			},
			Action: DetectAction,
		},
		{
			Name:      "undistort",
			Usage:     "remove lens distortion from an image",
			UsageText: "sfm undistort --image FILE --intrinsics FILE --output FILE [--distort]",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     flagImage,
					Usage:    "input image",
					Required: true,
				},
				&cli.PathFlag{
					Name:     flagIntrinsics,
					Usage:    "JSON file of camera intrinsics",
					Required: true,
				},
				&cli.PathFlag{
					Name:     flagOutput,
					Usage:    "output image",
					Required: true,
				},
				&cli.Float64Flag{
					Name:  flagOverscan,
					Usage: "fraction of extra border to include",
				},
				&cli.BoolFlag{
					Name:  flagDistort,
					Usage: "apply distortion instead of removing it",
				},
				&cli.IntFlag{
					Name:  flagThreads,
					Usage: "resampling workers",
					Value: 1,
				},
			},
			Action: UndistortAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}

// loggerFor logs to the app's error writer so command output stays clean.
func loggerFor(c *cli.Context, name string) logging.Logger {
	logger := logging.NewBlankLogger(name)
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	if !c.Bool(flagDebug) {
		logger.SetLevel(logging.INFO)
	}
	return logger
}
