// Package transcript defines the value types that flow through call evaluation:
// the incoming Turn produced by a transcription source and the ScoredTurn
// derived from it.
//
// Turns are immutable once handed to the engine. Slices are copied whenever
// a derived value is built so a caller holding the original never observes
// changes.
package transcript

import (
	"strings"
	"time"
)

// Speaker identifies who produced an utterance.
type Speaker string

const (
	SpeakerAgent    Speaker = "Agent"
	SpeakerCustomer Speaker = "Customer"
)

// speakerAliases maps spellings used by upstream sources to canonical speakers.
var speakerAliases = map[string]Speaker{
	"agent":    SpeakerAgent,
	"agent ai": SpeakerAgent,
	"customer": SpeakerCustomer,
}

// Canonical returns the canonical speaker for s, or "" when s is unknown.
func (s Speaker) Canonical() Speaker {
	return speakerAliases[strings.ToLower(strings.TrimSpace(string(s)))]
}

// IsAgent reports whether the utterance was produced by the agent side.
func (s Speaker) IsAgent() bool {
	return s.Canonical() == SpeakerAgent
}

// Intent is the call-flow stage a turn is expected to cover.
type Intent string

const (
	IntentGreeting       Intent = "greeting"
	IntentVerifyIdentity Intent = "verify_identity"
	IntentMiniMiranda    Intent = "mini_miranda"
	IntentConsent        Intent = "consent"
	IntentAmount         Intent = "amount"
	IntentPromiseToPay   Intent = "promise_to_pay"
	IntentWrapup         Intent = "wrapup"
)

// Intents lists every recognized call-flow stage in call order.
var Intents = []Intent{
	IntentGreeting,
	IntentVerifyIdentity,
	IntentMiniMiranda,
	IntentConsent,
	IntentAmount,
	IntentPromiseToPay,
	IntentWrapup,
}

// Valid reports whether i is a recognized stage.
func (i Intent) Valid() bool {
	for _, known := range Intents {
		if i == known {
			return true
		}
	}
	return false
}

// Label buckets a composite score.
type Label string

const (
	LabelOK       Label = "ok"
	LabelWarn     Label = "warn"
	LabelCritical Label = "critical"
)

// Label thresholds on the 0-100 composite scale.
const (
	OKThreshold   = 80
	WarnThreshold = 60
)

// LabelFor maps a composite score to its label.
func LabelFor(score int) Label {
	switch {
	case score >= OKThreshold:
		return LabelOK
	case score >= WarnThreshold:
		return LabelWarn
	default:
		return LabelCritical
	}
}

// Turn is one utterance with its pre-computed quality signals.
type Turn struct {
	TurnNumber        int      `json:"turnNumber" yaml:"turnNumber"`
	Timestamp         string   `json:"timestamp" yaml:"timestamp"`
	Speaker           Speaker  `json:"speaker" yaml:"speaker"`
	Text              string   `json:"text" yaml:"text"`
	Confidence        float64  `json:"confidence" yaml:"confidence"`
	KeywordMatchScore float64  `json:"keywordMatchScore" yaml:"keywordMatchScore"`
	Critical          bool     `json:"critical" yaml:"critical"`
	ExpectedIntent    Intent   `json:"expectedIntent" yaml:"expectedIntent"`
	RuleTriggered     []string `json:"ruleTriggered" yaml:"ruleTriggered"`
}

// Clone returns a deep copy of t.
func (t Turn) Clone() Turn {
	c := t
	if t.RuleTriggered != nil {
		c.RuleTriggered = append([]string(nil), t.RuleTriggered...)
	}
	return c
}

// ScoredTurn is a Turn plus its composite score and label. The embedded
// RuleTriggered holds the union of source-attached and evaluated rule ids.
type ScoredTurn struct {
	Turn
	CompositeScore int   `json:"compositeScore"`
	Label          Label `json:"label"`
}

// NewScoredTurn derives a scored turn from t without sharing its slices.
func NewScoredTurn(t Turn, score int, label Label, triggered []string) ScoredTurn {
	st := ScoredTurn{Turn: t.Clone(), CompositeScore: score, Label: label}
	st.RuleTriggered = append([]string{}, triggered...)
	return st
}

// Clone returns a deep copy of st.
func (st ScoredTurn) Clone() ScoredTurn {
	c := st
	c.Turn = st.Turn.Clone()
	return c
}

// CallMeta describes the call a transcript belongs to.
type CallMeta struct {
	CallID       string    `json:"callId" yaml:"callId"`
	CustomerName string    `json:"customerName" yaml:"customerName"`
	StartedAt    time.Time `json:"startedAt" yaml:"startedAt"`
	Timezone     string    `json:"timezone" yaml:"timezone"`
}

// CallData is a complete recorded call, used by replay sources.
type CallData struct {
	CallMeta   `yaml:",inline"`
	Transcript []Turn `json:"transcript" yaml:"transcript"`
}
