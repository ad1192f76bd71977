package results

import "math"

// Score breakpoints shared by the grade and the qualitative label.
const (
	scoreA = 90
	scoreB = 80
	scoreC = 70
	scoreD = 60

	SkewnessLimit     = 1.0
	KurtosisLimit     = 3.0
	VeryHighThreshold = 0.9
	NormalityAlpha    = 0.05
)

// Grade maps a 0–100 quality score to a letter.
func Grade(score float64) string {
	switch {
	case score >= scoreA:
		return "A"
	case score >= scoreB:
		return "B"
	case score >= scoreC:
		return "C"
	case score >= scoreD:
		return "D"
	default:
		return "F"
	}
}

// QualityLabel maps a quality score to its qualitative level.
func QualityLabel(score float64) string {
	switch {
	case score >= scoreA:
		return "Excellent"
	case score >= scoreB:
		return "Good"
	case score >= scoreC:
		return "Fair"
	default:
		return "Needs Improvement"
	}
}

func HighSkewness(v float64) bool { return math.Abs(v) > SkewnessLimit }

func HighKurtosis(v float64) bool { return math.Abs(v) > KurtosisLimit }

// CorrelationLevel classifies |v| against the caller threshold and the
// fixed very-high threshold.
type CorrelationLevel int

const (
	LevelNormal CorrelationLevel = iota
	LevelHigh
	LevelVeryHigh
)

func Classify(v, threshold float64) CorrelationLevel {
	a := math.Abs(v)
	switch {
	case math.IsNaN(a):
		return LevelNormal
	case a > VeryHighThreshold:
		return LevelVeryHigh
	case a > threshold:
		return LevelHigh
	default:
		return LevelNormal
	}
}
