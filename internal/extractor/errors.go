package extractor

import (
	"errors"
	"fmt"

	"vinyl-cover-extractor/internal/geometry"
)

// ErrExtractionFailed matches every Failure. Callers that only need to know
// whether to fall back to the original image test for it with errors.Is.
var ErrExtractionFailed = errors.New("cover extraction failed")

// Reason classifies why an extraction failed.
type Reason string

const (
	ReasonSegmentation           Reason = "segmentation"
	ReasonInsufficientLines      Reason = "insufficient_lines"
	ReasonInsufficientPairs      Reason = "insufficient_pairs"
	ReasonDegenerateIntersection Reason = "degenerate_intersection"
	ReasonCornerOrder            Reason = "corner_order"
	ReasonOutOfBounds            Reason = "out_of_bounds"
	ReasonWarp                   Reason = "warp"
	ReasonInvalidInput           Reason = "invalid_input"
)

// Failure is the typed "extraction failed" outcome.
type Failure struct {
	Reason Reason
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("cover extraction failed: %s", f.Reason)
	}
	return fmt.Sprintf("cover extraction failed: %s: %v", f.Reason, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Is makes every Failure match ErrExtractionFailed.
func (f *Failure) Is(target error) bool {
	return target == ErrExtractionFailed
}

func fail(reason Reason, err error) *Failure {
	return &Failure{Reason: reason, Err: err}
}

// ReasonOf returns the failure reason carried by err, or "" when err is not
// an extraction failure.
func ReasonOf(err error) Reason {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return ""
}

// geometryReason maps geometry sentinels onto failure reasons.
func geometryReason(err error) Reason {
	switch {
	case errors.Is(err, geometry.ErrInsufficientLines):
		return ReasonInsufficientLines
	case errors.Is(err, geometry.ErrInsufficientPairs):
		return ReasonInsufficientPairs
	case errors.Is(err, geometry.ErrDegenerateIntersection):
		return ReasonDegenerateIntersection
	case errors.Is(err, geometry.ErrCornerOrder):
		return ReasonCornerOrder
	case errors.Is(err, geometry.ErrOutOfBounds):
		return ReasonOutOfBounds
	default:
		return ReasonInsufficientPairs
	}
}
