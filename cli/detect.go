package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/sfm/vision/keypoints"
)

const defaultMoravecCount = 200

// DetectAction runs a feature detector on an image and prints the features.
func DetectAction(c *cli.Context) error {
	logger := loggerFor(c, "detect")

	config, err := detectorConfig(c)
	if err != nil {
		return err
	}
	gray, err := loadGray(c.Path(flagImage))
	if err != nil {
		return err
	}
	features, err := keypoints.Detect(gray, config)
	if err != nil {
		return err
	}
	// FAST has no count limit of its own.
	if config.Type == keypoints.DetectorFAST && config.MaxCount > 0 && len(features) > config.MaxCount {
		features = features[:config.MaxCount]
	}
	logger.Debugw("detected features", "detector", config.Type, "count", len(features))

	fmt.Fprintln(c.App.Writer, renderFeatures(features))
	if path := c.Path(flagPlot); path != "" {
		if err := keypoints.PlotFeatures(gray, features, path); err != nil {
			return err
		}
		logger.Infow("wrote feature plot", "path", path)
	}
	return nil
}

// detectorConfig reads the config file when one is given and builds one from the flags otherwise.
func detectorConfig(c *cli.Context) (*keypoints.DetectorConfig, error) {
	if path := c.Path(flagConfig); path != "" {
		return keypoints.LoadDetectorConfiguration(path)
	}
	config := &keypoints.DetectorConfig{
		Type:        keypoints.DetectorType(c.String(flagDetector)),
		Margin:      c.Int(flagMargin),
		MinDistance: c.Float64(flagDistance),
		MaxCount:    c.Int(flagCount),
	}
	switch config.Type {
	case keypoints.DetectorFAST:
		config.FAST = &keypoints.FASTConfig{
			NMatchesCircle: 9,
			NMSWinSize:     3,
			Threshold:      c.Float64(flagThreshold),
		}
	case keypoints.DetectorMoravec:
		if config.MaxCount == 0 {
			config.MaxCount = defaultMoravecCount
		}
	default:
		return nil, errors.Errorf("unknown detector %q", config.Type)
	}
	if err := config.Validate("detector"); err != nil {
		return nil, err
	}
	return config, nil
}

func renderFeatures(features []keypoints.Feature) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "X", "Y", "Score", "Size"})
	for i, f := range features {
		t.AppendRow(table.Row{i, f.X, f.Y, fmt.Sprintf("%.2f", f.Score), f.Size})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", len(features)})
	return t.Render()
}
