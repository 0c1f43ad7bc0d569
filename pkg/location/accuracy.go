package location

import (
	"fmt"
	"math"
)

// Rating is an ordered accuracy tier; lower values are better.
type Rating int

const (
	RatingExcellent Rating = iota
	RatingGood
	RatingAcceptable
	RatingPoor
)

func (r Rating) String() string {
	switch r {
	case RatingExcellent:
		return "excellent"
	case RatingGood:
		return "good"
	case RatingAcceptable:
		return "acceptable"
	default:
		return "poor"
	}
}

// MarshalText encodes the rating by name.
func (r Rating) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a rating name.
func (r *Rating) UnmarshalText(text []byte) error {
	switch string(text) {
	case "excellent":
		*r = RatingExcellent
	case "good":
		*r = RatingGood
	case "acceptable":
		*r = RatingAcceptable
	case "poor":
		*r = RatingPoor
	default:
		return fmt.Errorf("unknown accuracy rating %q", text)
	}
	return nil
}

// Thresholds are the accuracy cutoffs, in meters, for each tier.
// A value at a cutoff belongs to the better tier.
type Thresholds struct {
	Excellent  float64 `yaml:"excellent" json:"excellent"`
	Good       float64 `yaml:"good" json:"good"`
	Acceptable float64 `yaml:"acceptable" json:"acceptable"`
}

// DefaultThresholds are the product-tuned cutoffs used in the field.
var DefaultThresholds = Thresholds{
	Excellent:  5,
	Good:       10,
	Acceptable: 20,
}

// Validate checks the cutoffs are positive and strictly increasing.
func (t Thresholds) Validate() error {
	if t.Excellent <= 0 || t.Good <= 0 || t.Acceptable <= 0 {
		return fmt.Errorf("accuracy thresholds must be positive: %+v", t)
	}
	if !(t.Excellent < t.Good && t.Good < t.Acceptable) {
		return fmt.Errorf("accuracy thresholds must increase: %+v", t)
	}
	return nil
}

// Classify maps a horizontal accuracy onto a tier.
func (t Thresholds) Classify(accuracy float64) Rating {
	switch {
	case accuracy <= t.Excellent:
		return RatingExcellent
	case accuracy <= t.Good:
		return RatingGood
	case accuracy <= t.Acceptable:
		return RatingAcceptable
	default:
		return RatingPoor
	}
}

// RequiresConfirmation reports whether a pin at this accuracy may be far
// enough off that the rep should confirm it before saving.
func (t Thresholds) RequiresConfirmation(accuracy float64) bool {
	return accuracy > t.Acceptable
}

// Classify rates accuracy against DefaultThresholds.
func Classify(accuracy float64) Rating {
	return DefaultThresholds.Classify(accuracy)
}

// RequiresConfirmation checks accuracy against DefaultThresholds.
func RequiresConfirmation(accuracy float64) bool {
	return DefaultThresholds.RequiresConfirmation(accuracy)
}

// FormatAccuracy renders an accuracy for display, e.g. "< 1m", "4.2m", "37m".
func FormatAccuracy(accuracy float64) string {
	switch {
	case accuracy < 1:
		return "< 1m"
	case accuracy < 10:
		return fmt.Sprintf("%.1fm", accuracy)
	default:
		return fmt.Sprintf("%dm", int(math.Round(accuracy)))
	}
}
