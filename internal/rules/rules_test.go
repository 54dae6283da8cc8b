package rules

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/callwatch/internal/eventlog"
	"github.com/mbd888/callwatch/internal/transcript"
)

func TestEvaluate_MissingDisclosure(t *testing.T) {
	e := NewEvaluator()

	fired := e.Evaluate(transcript.Turn{
		Speaker:           transcript.SpeakerAgent,
		ExpectedIntent:    transcript.IntentMiniMiranda,
		KeywordMatchScore: 0.3,
	})
	assert.Equal(t, []string{MissingDisclosure}, fired)

	assert.Empty(t, e.Evaluate(transcript.Turn{
		ExpectedIntent:    transcript.IntentMiniMiranda,
		KeywordMatchScore: 0.5,
	}), "boundary is strict")

	assert.Empty(t, e.Evaluate(transcript.Turn{
		ExpectedIntent:    transcript.IntentGreeting,
		KeywordMatchScore: 0.1,
	}))
}

func TestEvaluate_MissingConsent(t *testing.T) {
	e := NewEvaluator()
	consent := func(text string) []string {
		return e.Evaluate(transcript.Turn{
			Speaker:        transcript.SpeakerCustomer,
			ExpectedIntent: transcript.IntentConsent,
			Text:           text,
		})
	}

	assert.Equal(t, []string{MissingConsent}, consent("No estoy de acuerdo"))
	assert.Equal(t, []string{MissingConsent}, consent(""))
	assert.Empty(t, consent("Sí, claro"))
	assert.Empty(t, consent("SI"))
	assert.Empty(t, consent("Bueno, ACEPTO"))
}

func TestEvaluate_AmountMismatch(t *testing.T) {
	e := NewEvaluator()
	assert.Equal(t, []string{AmountMismatch}, e.Evaluate(transcript.Turn{
		ExpectedIntent:    transcript.IntentAmount,
		KeywordMatchScore: 0.55,
	}))
	assert.Empty(t, e.Evaluate(transcript.Turn{
		ExpectedIntent:    transcript.IntentAmount,
		KeywordMatchScore: 0.6,
	}))
}

func TestEvaluate_HarshToneOnlyForAgent(t *testing.T) {
	e := NewEvaluator()
	agent := transcript.Turn{Speaker: "Agent AI", Text: "Tiene que PAGAR YA", ExpectedIntent: transcript.IntentPromiseToPay}
	assert.Equal(t, []string{HarshTone}, e.Evaluate(agent))

	customer := agent
	customer.Speaker = transcript.SpeakerCustomer
	assert.Empty(t, e.Evaluate(customer))
}

func TestEvaluate_MultipleInCatalogOrder(t *testing.T) {
	e := NewEvaluator()
	fired := e.Evaluate(transcript.Turn{
		Speaker:        transcript.SpeakerAgent,
		ExpectedIntent: transcript.IntentConsent,
		Text:           "Hay que pagar ya, no hay otra opción",
	})
	// "pagar ya" has no affirmative token, so both rules fire
	assert.Equal(t, []string{MissingConsent, HarshTone}, fired)
}

func TestEvaluate_CustomPatterns(t *testing.T) {
	e := NewEvaluator(
		WithConsentPattern(regexp.MustCompile(`(?i)\byes\b`)),
		WithHarshPattern(regexp.MustCompile(`(?i)pay now`)),
	)
	assert.Empty(t, e.Evaluate(transcript.Turn{ExpectedIntent: transcript.IntentConsent, Text: "Yes I agree"}))
	assert.Equal(t, []string{HarshTone}, e.Evaluate(transcript.Turn{Speaker: transcript.SpeakerAgent, Text: "pay now"}))
}

func TestUnion(t *testing.T) {
	got := Union([]string{LateCall, "custom", LateCall}, []string{MissingDisclosure, LateCall})
	assert.Equal(t, []string{LateCall, "custom", MissingDisclosure}, got)
	assert.Empty(t, Union(nil, nil))
}

func TestResolve_CatalogOrderSkipsUnknown(t *testing.T) {
	e := NewEvaluator()
	defs := e.Resolve([]string{"zeta", LateCall, HarshTone, MissingDisclosure, "alpha", LateCall})

	require.Len(t, defs, 3)
	ids := make([]string, len(defs))
	for i, d := range defs {
		ids[i] = d.ID
	}
	assert.Equal(t, []string{MissingDisclosure, HarshTone, LateCall}, ids)

	assert.Equal(t, eventlog.SeverityMajor, defs[0].Severity)
	assert.Equal(t, ActionEscalate, defs[0].SuggestedAction)
	assert.Equal(t, eventlog.SeverityMinor, defs[2].Severity)
	assert.Equal(t, ActionQAFlag, defs[2].SuggestedAction)

	assert.Empty(t, e.Resolve([]string{"anything_goes"}))
}

func TestCatalog(t *testing.T) {
	cat := NewEvaluator().Catalog()
	require.Len(t, cat, 5)
	assert.Equal(t, MissingDisclosure, cat[0].ID)
	assert.Equal(t, LateCall, cat[4].ID)
	assert.True(t, cat[4].SourceOnly)

	// late_call never fires on its own
	assert.Empty(t, NewEvaluator().Evaluate(transcript.Turn{Speaker: transcript.SpeakerAgent}))
}
