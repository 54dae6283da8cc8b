package transcript

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mbd888/callwatch/internal/validation"
)

// ErrBadClock is returned by ParseClock for malformed call-relative times.
var ErrBadClock = errors.New("timestamp must be mm:ss")

// ParseClock converts a call-relative "mm:ss" marker into seconds.
// Minutes may exceed two digits for long calls; seconds must be below 60.
func ParseClock(s string) (int, error) {
	mm, ss, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || mm == "" || len(ss) != 2 {
		return 0, ErrBadClock
	}
	minutes, err := strconv.Atoi(mm)
	if err != nil || minutes < 0 {
		return 0, ErrBadClock
	}
	seconds, err := strconv.Atoi(ss)
	if err != nil || seconds < 0 || seconds >= 60 {
		return 0, ErrBadClock
	}
	return minutes*60 + seconds, nil
}

// FormatClock renders seconds as "mm:ss".
func FormatClock(sec int) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}

// Validate checks the fields of t that scoring and rule evaluation depend on.
// It returns nil or a non-empty validation.ValidationErrors.
func (t Turn) Validate() error {
	errs := validation.Validate(
		validation.Positive("turnNumber", t.TurnNumber),
		validClock("timestamp", t.Timestamp),
		validSpeaker(t.Speaker),
		validation.MaxLength("text", t.Text, validation.MaxStringLength),
		validation.UnitInterval("confidence", t.Confidence),
		validation.UnitInterval("keywordMatchScore", t.KeywordMatchScore),
		validIntent(t.ExpectedIntent),
		validRuleIDs(t.RuleTriggered),
	)
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func validClock(field, value string) func() *validation.ValidationError {
	return func() *validation.ValidationError {
		if _, err := ParseClock(value); err != nil {
			return &validation.ValidationError{Field: field, Message: err.Error()}
		}
		return nil
	}
}

func validSpeaker(s Speaker) func() *validation.ValidationError {
	return func() *validation.ValidationError {
		if s.Canonical() == "" {
			return &validation.ValidationError{Field: "speaker", Message: "must be one of Agent, Customer"}
		}
		return nil
	}
}

func validIntent(i Intent) func() *validation.ValidationError {
	return func() *validation.ValidationError {
		if !i.Valid() {
			names := make([]string, len(Intents))
			for n, known := range Intents {
				names[n] = string(known)
			}
			return &validation.ValidationError{Field: "expectedIntent", Message: "must be one of " + strings.Join(names, ", ")}
		}
		return nil
	}
}

func validRuleIDs(ids []string) func() *validation.ValidationError {
	return func() *validation.ValidationError {
		for _, id := range ids {
			if strings.TrimSpace(id) == "" {
				return &validation.ValidationError{Field: "ruleTriggered", Message: "rule ids must be non-empty"}
			}
		}
		return nil
	}
}
