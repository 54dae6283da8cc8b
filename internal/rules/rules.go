// Package rules evaluates compliance rules against a single turn.
//
// Rules are kept in a fixed catalog order. When several rules fire on the
// same turn their events are produced in catalog order, not discovery order.
package rules

import (
	"regexp"

	"github.com/mbd888/callwatch/internal/eventlog"
	"github.com/mbd888/callwatch/internal/transcript"
)

// Rule ids.
const (
	MissingDisclosure = "missing_disclosure"
	MissingConsent    = "missing_consent"
	AmountMismatch    = "amount_mismatch"
	HarshTone         = "harsh_tone"
	LateCall          = "late_call"
)

// Suggested actions.
const (
	ActionEscalate = "Escalate"
	ActionQAFlag   = "QA flag"
	ActionRephrase = "Rephrase"
)

// Default patterns. Matching is substring based, so "si" also matches
// inside longer words.
const (
	DefaultConsentPattern = `(?i)sí|si|acepto`
	DefaultHarshPattern   = `(?i)pagar ya`
)

// Definition describes a rule as it appears in the catalog.
type Definition struct {
	ID              string            `json:"id"`
	Severity        eventlog.Severity `json:"severity"`
	SuggestedAction string            `json:"suggestedAction"`
	Description     string            `json:"description"`
	SourceOnly      bool              `json:"sourceOnly,omitempty"`
}

// Rule is a predicate over one turn.
type Rule interface {
	ID() string
	Fires(t transcript.Turn) bool
}

// ---------------------------------------------------------------------------
// MissingDisclosureRule: mini-Miranda not read
// ---------------------------------------------------------------------------

type MissingDisclosureRule struct{}

func (r *MissingDisclosureRule) ID() string { return MissingDisclosure }

func (r *MissingDisclosureRule) Fires(t transcript.Turn) bool {
	return t.ExpectedIntent == transcript.IntentMiniMiranda && t.KeywordMatchScore < 0.5
}

// ---------------------------------------------------------------------------
// MissingConsentRule: consent step without an affirmative answer
// ---------------------------------------------------------------------------

type MissingConsentRule struct {
	Affirmative *regexp.Regexp
}

func (r *MissingConsentRule) ID() string { return MissingConsent }

func (r *MissingConsentRule) Fires(t transcript.Turn) bool {
	return t.ExpectedIntent == transcript.IntentConsent && !r.Affirmative.MatchString(t.Text)
}

// ---------------------------------------------------------------------------
// AmountMismatchRule: debt amount not stated as expected
// ---------------------------------------------------------------------------

type AmountMismatchRule struct{}

func (r *AmountMismatchRule) ID() string { return AmountMismatch }

func (r *AmountMismatchRule) Fires(t transcript.Turn) bool {
	return t.ExpectedIntent == transcript.IntentAmount && t.KeywordMatchScore < 0.6
}

// ---------------------------------------------------------------------------
// HarshToneRule: agent pressures the customer
// ---------------------------------------------------------------------------

type HarshToneRule struct {
	Pattern *regexp.Regexp
}

func (r *HarshToneRule) ID() string { return HarshTone }

func (r *HarshToneRule) Fires(t transcript.Turn) bool {
	return t.Speaker.IsAgent() && r.Pattern.MatchString(t.Text)
}

type entry struct {
	def  Definition
	rule Rule // nil for source-only rules
}

// Evaluator runs the catalog against turns. It holds no mutable state and
// is safe for concurrent use.
type Evaluator struct {
	entries []entry
	index   map[string]int
}

// Option configures an Evaluator.
type Option func(*config)

type config struct {
	consent *regexp.Regexp
	harsh   *regexp.Regexp
}

// WithConsentPattern replaces the affirmative-consent pattern.
func WithConsentPattern(re *regexp.Regexp) Option {
	return func(c *config) { c.consent = re }
}

// WithHarshPattern replaces the harsh-phrasing pattern.
func WithHarshPattern(re *regexp.Regexp) Option {
	return func(c *config) { c.harsh = re }
}

var (
	defaultConsent = regexp.MustCompile(DefaultConsentPattern)
	defaultHarsh   = regexp.MustCompile(DefaultHarshPattern)
)

// NewEvaluator builds the default catalog.
func NewEvaluator(opts ...Option) *Evaluator {
	cfg := config{consent: defaultConsent, harsh: defaultHarsh}
	for _, o := range opts {
		o(&cfg)
	}

	entries := []entry{
		{
			def: Definition{ID: MissingDisclosure, Severity: eventlog.SeverityMajor, SuggestedAction: ActionEscalate,
				Description: "mini-Miranda disclosure turn with keyword match below 0.5"},
			rule: &MissingDisclosureRule{},
		},
		{
			def: Definition{ID: MissingConsent, Severity: eventlog.SeverityMajor, SuggestedAction: ActionEscalate,
				Description: "consent turn without an affirmative token"},
			rule: &MissingConsentRule{Affirmative: cfg.consent},
		},
		{
			def: Definition{ID: AmountMismatch, Severity: eventlog.SeverityMinor, SuggestedAction: ActionQAFlag,
				Description: "amount turn with keyword match below 0.6"},
			rule: &AmountMismatchRule{},
		},
		{
			def: Definition{ID: HarshTone, Severity: eventlog.SeverityMinor, SuggestedAction: ActionRephrase,
				Description: "agent utterance matching harsh phrasing"},
			rule: &HarshToneRule{Pattern: cfg.harsh},
		},
		{
			def: Definition{ID: LateCall, Severity: eventlog.SeverityMinor, SuggestedAction: ActionQAFlag,
				Description: "call placed outside permitted hours, attached by the source", SourceOnly: true},
		},
	}

	index := make(map[string]int, len(entries))
	for i, e := range entries {
		index[e.def.ID] = i
	}
	return &Evaluator{entries: entries, index: index}
}

// Catalog returns the rule definitions in catalog order.
func (e *Evaluator) Catalog() []Definition {
	out := make([]Definition, len(e.entries))
	for i, en := range e.entries {
		out[i] = en.def
	}
	return out
}

// Evaluate returns the ids of rules that fire on t, in catalog order.
func (e *Evaluator) Evaluate(t transcript.Turn) []string {
	var fired []string
	for _, en := range e.entries {
		if en.rule != nil && en.rule.Fires(t) {
			fired = append(fired, en.def.ID)
		}
	}
	return fired
}

// Union returns incoming ids, deduplicated in their original order,
// followed by fired ids not already present.
func Union(incoming, fired []string) []string {
	seen := make(map[string]bool, len(incoming)+len(fired))
	out := make([]string, 0, len(incoming)+len(fired))
	for _, ids := range [][]string{incoming, fired} {
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// Resolve maps rule ids to catalog definitions in catalog order. Ids
// outside the catalog have no severity and are skipped; they stay on the
// scored turn but never raise an event. Duplicates are dropped.
func (e *Evaluator) Resolve(ids []string) []Definition {
	known := make([]bool, len(e.entries))
	for _, id := range ids {
		if i, ok := e.index[id]; ok {
			known[i] = true
		}
	}

	var out []Definition
	for i, en := range e.entries {
		if known[i] {
			out = append(out, en.def)
		}
	}
	return out
}
