package transcript

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/callwatch/internal/validation"
)

func validTurn() Turn {
	return Turn{
		TurnNumber:        1,
		Timestamp:         "00:05",
		Speaker:           SpeakerAgent,
		Text:              "Buenos días, le habla Ana de Cobranzas Norte.",
		Confidence:        0.92,
		KeywordMatchScore: 0.88,
		ExpectedIntent:    IntentGreeting,
	}
}

func TestLabelFor(t *testing.T) {
	tests := []struct {
		score int
		want  Label
	}{
		{100, LabelOK},
		{80, LabelOK},
		{79, LabelWarn},
		{60, LabelWarn},
		{59, LabelCritical},
		{0, LabelCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LabelFor(tt.score), "score %d", tt.score)
	}
}

func TestSpeakerCanonical(t *testing.T) {
	assert.Equal(t, SpeakerAgent, Speaker("Agent AI").Canonical())
	assert.Equal(t, SpeakerAgent, Speaker("agent").Canonical())
	assert.Equal(t, SpeakerCustomer, Speaker("Customer").Canonical())
	assert.Equal(t, Speaker(""), Speaker("Supervisor").Canonical())
	assert.True(t, Speaker("Agent AI").IsAgent())
	assert.False(t, SpeakerCustomer.IsAgent())
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"01:30", 90, false},
		{"125:09", 7509, false},
		{"1:05", 65, false},
		{"00:60", 0, true},
		{"0:5", 0, true},
		{"abc", 0, true},
		{":30", 0, true},
		{"-1:30", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrBadClock, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
	assert.Equal(t, "02:05", FormatClock(125))
}

func TestValidate_Accepts(t *testing.T) {
	assert.NoError(t, validTurn().Validate())

	empty := validTurn()
	empty.Text = ""
	assert.NoError(t, empty.Validate(), "empty text is allowed")
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Turn)
		field  string
	}{
		{"confidence above one", func(tr *Turn) { tr.Confidence = 1.2 }, "confidence"},
		{"confidence NaN", func(tr *Turn) { tr.Confidence = math.NaN() }, "confidence"},
		{"keyword below zero", func(tr *Turn) { tr.KeywordMatchScore = -0.1 }, "keywordMatchScore"},
		{"unknown intent", func(tr *Turn) { tr.ExpectedIntent = "small_talk" }, "expectedIntent"},
		{"unknown speaker", func(tr *Turn) { tr.Speaker = "Bot" }, "speaker"},
		{"zero turn number", func(tr *Turn) { tr.TurnNumber = 0 }, "turnNumber"},
		{"bad timestamp", func(tr *Turn) { tr.Timestamp = "5s" }, "timestamp"},
		{"blank rule id", func(tr *Turn) { tr.RuleTriggered = []string{" "} }, "ruleTriggered"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := validTurn()
			tt.mutate(&tr)
			err := tr.Validate()
			require.Error(t, err)

			var verrs validation.ValidationErrors
			require.True(t, errors.As(err, &verrs))
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.field, verrs[0].Field)
		})
	}
}

func TestNewScoredTurn_DoesNotShareSlices(t *testing.T) {
	in := validTurn()
	in.RuleTriggered = []string{"late_call"}

	st := NewScoredTurn(in, 91, LabelOK, []string{"late_call", "harsh_tone"})
	st.RuleTriggered[0] = "mutated"

	assert.Equal(t, []string{"late_call"}, in.RuleTriggered)
	assert.Equal(t, 91, st.CompositeScore)

	c := st.Clone()
	c.RuleTriggered[1] = "changed"
	assert.Equal(t, "harsh_tone", st.RuleTriggered[1])
}
