package reconstruction

import (
	"encoding/json"
	"math"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// RefineFlags selects the intrinsics refined by bundle adjustment. The bit positions are stable
// and may be persisted.
type RefineFlags int

// The refinable intrinsics.
const (
	RefineFocalLength    RefineFlags = 1 << 0
	RefinePrincipalPoint RefineFlags = 1 << 1
	RefineRadialK1       RefineFlags = 1 << 2
	RefineRadialK2       RefineFlags = 1 << 4

	refineAll = RefineFocalLength | RefinePrincipalPoint | RefineRadialK1 | RefineRadialK2
)

// Has reports whether every bit of other is set.
func (f RefineFlags) Has(other RefineFlags) bool {
	return f&other == other
}

func (f RefineFlags) String() string {
	var parts []string
	for _, flag := range []struct {
		bit  RefineFlags
		name string
	}{
		{RefineFocalLength, "focal_length"},
		{RefinePrincipalPoint, "principal_point"},
		{RefineRadialK1, "k1"},
		{RefineRadialK2, "k2"},
	} {
		if f.Has(flag.bit) {
			parts = append(parts, flag.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ReconstructionOptions configures Solve and SolveModal.
type ReconstructionOptions struct {
	Keyframe1 int `json:"keyframe1"`
	Keyframe2 int `json:"keyframe2"`
	// SelectKeyframes picks the keyframes from the tracks and writes them back to the options.
	SelectKeyframes bool `json:"select_keyframes"`

	RefineIntrinsics RefineFlags `json:"refine_intrinsics"`

	// SuccessThreshold is the largest RMS reprojection error, in pixels, at which a newly added
	// image is kept. Zero disables the check.
	SuccessThreshold float64 `json:"success_threshold"`
	// UseFallbackReconstruction retries images that failed with more tolerant resection
	// strategies once the incremental pass is done.
	UseFallbackReconstruction bool `json:"use_fallback_reconstruction"`
}

// DefaultReconstructionOptions returns the usual settings.
func DefaultReconstructionOptions() ReconstructionOptions {
	return ReconstructionOptions{
		Keyframe1:        0,
		Keyframe2:        1,
		SuccessThreshold: 1,
	}
}

// Validate ensures all parts of the options are valid.
func (opts *ReconstructionOptions) Validate(path string) error {
	var err error
	if !opts.SelectKeyframes {
		if opts.Keyframe1 < 0 || opts.Keyframe2 < 0 {
			err = multierr.Combine(err, utils.NewConfigValidationError(path,
				errors.Errorf("keyframes must not be negative, got %d and %d", opts.Keyframe1, opts.Keyframe2)))
		}
		if opts.Keyframe1 == opts.Keyframe2 {
			err = multierr.Combine(err, utils.NewConfigValidationError(path,
				errors.Errorf("keyframes must differ, both are %d", opts.Keyframe1)))
		}
	}
	if opts.RefineIntrinsics&^refineAll != 0 {
		err = multierr.Combine(err, utils.NewConfigValidationError(path,
			errors.Errorf("unknown refine_intrinsics bits %#x", int(opts.RefineIntrinsics&^refineAll))))
	}
	if opts.SuccessThreshold < 0 || math.IsNaN(opts.SuccessThreshold) {
		err = multierr.Combine(err, utils.NewConfigValidationError(path,
			errors.Errorf("success_threshold must not be negative, got %v", opts.SuccessThreshold)))
	}
	return err
}

// LoadReconstructionOptions reads options from a JSON file. Fields missing from the file keep their
// default values.
func LoadReconstructionOptions(path string) (*ReconstructionOptions, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(f.Close)

	opts := DefaultReconstructionOptions()
	if err := json.NewDecoder(f).Decode(&opts); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	if err := opts.Validate(path); err != nil {
		return nil, err
	}
	return &opts, nil
}
