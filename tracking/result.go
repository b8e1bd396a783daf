package tracking

import "fmt"

// Termination is the outcome of a region track.
type Termination int

// The possible outcomes. The first three are successful convergence.
const (
	ParameterTolerance Termination = iota
	FunctionTolerance
	GradientTolerance
	NoConvergence
	DidNotRun
	NumericalFailure

	SourceOutOfBounds
	DestinationOutOfBounds
	FellOutOfBounds
	InsufficientCorrelation
	InsufficientPatternArea
	ConfigurationError
)

var terminationNames = map[Termination]string{
	ParameterTolerance:      "PARAMETER_TOLERANCE",
	FunctionTolerance:       "FUNCTION_TOLERANCE",
	GradientTolerance:       "GRADIENT_TOLERANCE",
	NoConvergence:           "NO_CONVERGENCE",
	DidNotRun:               "DID_NOT_RUN",
	NumericalFailure:        "NUMERICAL_FAILURE",
	SourceOutOfBounds:       "SOURCE_OUT_OF_BOUNDS",
	DestinationOutOfBounds:  "DESTINATION_OUT_OF_BOUNDS",
	FellOutOfBounds:         "FELL_OUT_OF_BOUNDS",
	InsufficientCorrelation: "INSUFFICIENT_CORRELATION",
	InsufficientPatternArea: "INSUFFICIENT_PATTERN_AREA",
	ConfigurationError:      "CONFIGURATION_ERROR",
}

func (t Termination) String() string {
	if name, ok := terminationNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TERMINATION(%d)", int(t))
}

// TrackRegionResult describes a finished region track.
type TrackRegionResult struct {
	Termination Termination
	// Correlation is the weighted Pearson correlation of the aligned samples once a solve has run.
	Correlation float64
	Iterations  int

	UsedBruteTranslationInitialization bool
}

// IsUsable reports whether the tracked position can be trusted.
func (r TrackRegionResult) IsUsable() bool {
	switch r.Termination {
	case ParameterTolerance, FunctionTolerance, GradientTolerance:
		return true
	default:
		return false
	}
}
