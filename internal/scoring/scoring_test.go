package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mbd888/callwatch/internal/transcript"
)

func TestScore_NonCriticalTurn(t *testing.T) {
	score, label := New().Score(transcript.Turn{Confidence: 0.9, KeywordMatchScore: 0.9})
	assert.Equal(t, 91, score)
	assert.Equal(t, transcript.LabelOK, label)
}

func TestScore_CriticalTurnBothPenalties(t *testing.T) {
	b := New().Explain(transcript.Turn{Confidence: 0.5, KeywordMatchScore: 0.3, Critical: true})
	assert.InDelta(t, 47, b.Base, 1e-9)
	assert.InDelta(t, 25, b.Penalty, 1e-9)
	assert.Equal(t, 22, b.Composite)
	assert.Equal(t, transcript.LabelCritical, transcript.LabelFor(b.Composite))
}

func TestScore_PenaltiesOnlyOnCritical(t *testing.T) {
	s := New()
	plain, _ := s.Score(transcript.Turn{Confidence: 0.5, KeywordMatchScore: 0.3})
	crit, _ := s.Score(transcript.Turn{Confidence: 0.5, KeywordMatchScore: 0.3, Critical: true})
	assert.Equal(t, 47, plain)
	assert.Equal(t, 22, crit)

	// only the keyword penalty
	kwOnly, _ := s.Score(transcript.Turn{Confidence: 0.8, KeywordMatchScore: 0.4, Critical: true})
	assert.Equal(t, 51, kwOnly) // 40 + 16 + 10 - 15
}

func TestScore_Clamped(t *testing.T) {
	s := New()
	low, label := s.Score(transcript.Turn{Critical: true})
	assert.Equal(t, 0, low) // 10 - 25
	assert.Equal(t, transcript.LabelCritical, label)

	high, _ := s.Score(transcript.Turn{Confidence: 1, KeywordMatchScore: 1})
	assert.Equal(t, 100, high)
}

func TestScore_RoundsHalfUp(t *testing.T) {
	// 0.5*25 + 0.4*50 + 10 = 42.5
	score, _ := New().Score(transcript.Turn{Confidence: 0.25, KeywordMatchScore: 0.5})
	assert.Equal(t, 43, score)
}

func TestScore_InvariantsOverGrid(t *testing.T) {
	s := New()
	for _, critical := range []bool{false, true} {
		for c := 0; c <= 20; c++ {
			for k := 0; k <= 20; k++ {
				turn := transcript.Turn{
					Confidence:        float64(c) / 20,
					KeywordMatchScore: float64(k) / 20,
					Critical:          critical,
				}
				score, label := s.Score(turn)
				assert.GreaterOrEqual(t, score, 0)
				assert.LessOrEqual(t, score, 100)
				assert.Equal(t, transcript.LabelFor(score), label)
			}
		}
	}
}

func TestScore_MonotonicForNonCritical(t *testing.T) {
	s := New()
	for fixed := 0; fixed <= 10; fixed++ {
		f := float64(fixed) / 10
		prevC, prevK := -1, -1
		for step := 0; step <= 100; step++ {
			v := float64(step) / 100
			byConf, _ := s.Score(transcript.Turn{Confidence: v, KeywordMatchScore: f})
			byKw, _ := s.Score(transcript.Turn{Confidence: f, KeywordMatchScore: v})
			assert.GreaterOrEqual(t, byConf, prevC)
			assert.GreaterOrEqual(t, byKw, prevK)
			prevC, prevK = byConf, byKw
		}
	}
}
