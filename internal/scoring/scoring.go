// Package scoring computes the composite quality score of a single turn.
package scoring

import (
	"math"

	"github.com/mbd888/callwatch/internal/transcript"
)

const (
	weightConfidence = 0.5
	weightKeyword    = 0.4
	weightFlow       = 0.1

	// flowComponent is held constant until conversational-flow signals exist.
	flowComponent = 100.0

	penaltyKeyword    = 15.0
	penaltyConfidence = 10.0

	criticalKeywordFloor    = 0.5
	criticalConfidenceFloor = 0.6
)

// Breakdown exposes the intermediate terms of a score for diagnostics.
type Breakdown struct {
	Base      float64 `json:"base"`
	Penalty   float64 `json:"penalty"`
	Composite int     `json:"composite"`
}

// Scorer turns pre-computed turn signals into a bounded 0-100 score.
// It holds no state and is safe for concurrent use.
type Scorer struct{}

// New returns a Scorer.
func New() *Scorer { return &Scorer{} }

// Score returns the composite score and its label.
func (s *Scorer) Score(t transcript.Turn) (int, transcript.Label) {
	b := s.Explain(t)
	return b.Composite, transcript.LabelFor(b.Composite)
}

// Explain returns the score together with the base and penalty terms.
func (s *Scorer) Explain(t transcript.Turn) Breakdown {
	base := weightConfidence*(t.Confidence*100) +
		weightKeyword*(t.KeywordMatchScore*100) +
		weightFlow*flowComponent

	var penalty float64
	if t.Critical {
		if t.KeywordMatchScore < criticalKeywordFloor {
			penalty += penaltyKeyword
		}
		if t.Confidence < criticalConfidenceFloor {
			penalty += penaltyConfidence
		}
	}

	return Breakdown{
		Base:      base,
		Penalty:   penalty,
		Composite: clamp(roundHalfUp(base - penalty)),
	}
}

// roundHalfUp rounds .5 toward positive infinity.
func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
