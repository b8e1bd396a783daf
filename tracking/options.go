package tracking

import (
	"encoding/json"
	"math"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/sfm/rimage"
)

// TrackRegionOptions configures TrackRegion.
type TrackRegionOptions struct {
	Mode Model `json:"mode"`

	// MinimumCorrelation rejects converged results whose correlation is not above it. Zero skips
	// the check. With the default of zero and AttemptRefineBeforeBrute, a refinement that settles
	// in a false minimum still reports a tolerance termination and the brute force search never
	// runs; motions of more than a few pixels need a floor such as 0.75 to fall back to it.
	MinimumCorrelation float64 `json:"minimum_correlation"`
	MaxIterations      int     `json:"max_iterations"`

	UseESM                 bool `json:"use_esm"`
	UseBruteInitialization bool `json:"use_brute_initialization"`
	// AttemptRefineBeforeBrute tries a plain refinement first and only runs the brute force search
	// when that fails.
	AttemptRefineBeforeBrute bool `json:"attempt_refine_before_brute"`
	UseNormalizedIntensities bool `json:"use_normalized_intensities"`

	Sigma float64 `json:"sigma"`

	// The solve stops successfully once no corner moves more than this between iterations.
	MinimumCornerShiftTolerancePixels float64 `json:"minimum_corner_shift_tolerance_pixels"`

	// Mask optionally weights the pixels of image1; zero weights exclude them.
	Mask *rimage.FloatImage `json:"-"`
}

// DefaultTrackRegionOptions returns the usual tracker settings.
func DefaultTrackRegionOptions() TrackRegionOptions {
	return TrackRegionOptions{
		Mode:                              TranslationModel,
		MinimumCorrelation:                0,
		MaxIterations:                     20,
		UseESM:                            true,
		UseBruteInitialization:            true,
		AttemptRefineBeforeBrute:          true,
		UseNormalizedIntensities:          false,
		Sigma:                             0.9,
		MinimumCornerShiftTolerancePixels: 0.005,
	}
}

// Validate ensures all parts of the options are valid.
func (opts *TrackRegionOptions) Validate(path string) error {
	var err error
	if !opts.Mode.Valid() {
		err = multierr.Combine(err, utils.NewConfigValidationError(path, errors.Errorf("unknown mode %q", opts.Mode)))
	}
	if opts.MaxIterations <= 0 {
		err = multierr.Combine(err, utils.NewConfigValidationError(path,
			errors.Errorf("max_iterations must be positive, got %d", opts.MaxIterations)))
	}
	if !(opts.Sigma > 0) {
		err = multierr.Combine(err, utils.NewConfigValidationError(path, errors.Errorf("sigma must be positive, got %v", opts.Sigma)))
	}
	if opts.MinimumCorrelation < 0 || opts.MinimumCorrelation > 1 || math.IsNaN(opts.MinimumCorrelation) {
		err = multierr.Combine(err, utils.NewConfigValidationError(path,
			errors.Errorf("minimum_correlation must be in [0, 1], got %v", opts.MinimumCorrelation)))
	}
	if opts.MinimumCornerShiftTolerancePixels < 0 {
		err = multierr.Combine(err, utils.NewConfigValidationError(path,
			errors.Errorf("minimum_corner_shift_tolerance_pixels must not be negative, got %v",
				opts.MinimumCornerShiftTolerancePixels)))
	}
	return err
}

// LoadTrackRegionOptions reads tracker options from a JSON file. Fields missing from the file keep
// their default values.
func LoadTrackRegionOptions(path string) (*TrackRegionOptions, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(f.Close)

	opts := DefaultTrackRegionOptions()
	if err := json.NewDecoder(f).Decode(&opts); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	if err := opts.Validate(path); err != nil {
		return nil, err
	}
	return &opts, nil
}
