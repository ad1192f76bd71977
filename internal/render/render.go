// Package render turns normalized results into HTML fragments and plain text.
package render

import (
	"fmt"
	"math"

	"ingestdesk/internal/results"
)

const defaultThreshold = 0.8

// Options controls rendering. A zero Threshold falls back to the payload's
// own threshold and then to 0.8.
type Options struct {
	CorrelationThreshold float64
}

// ChatEntry is one message of the recommendation chat.
type ChatEntry struct {
	Role string
	Text string
}

func Grade(score float64) string { return results.Grade(score) }

func QualityLabel(score float64) string { return results.QualityLabel(score) }

func (o Options) threshold(fromPayload *float64) float64 {
	if o.CorrelationThreshold > 0 {
		return o.CorrelationThreshold
	}
	if fromPayload != nil && *fromPayload > 0 {
		return *fromPayload
	}
	return defaultThreshold
}

func fixed(v float64, digits int) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.*f", digits, v)
}

func levelName(l results.CorrelationLevel) string {
	switch l {
	case results.LevelVeryHigh:
		return "very high"
	case results.LevelHigh:
		return "high"
	default:
		return ""
	}
}

func isNormal(sw *results.ShapiroWilk) bool { return sw.PValue > results.NormalityAlpha }
