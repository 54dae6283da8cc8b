// Package replay feeds recorded call transcripts into an evaluator at a
// fixed cadence, standing in for a live transcription feed.
package replay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mbd888/callwatch/internal/transcript"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported transcript format")
	ErrEmptyTranscript   = errors.New("transcript has no turns")
)

// Format is the encoding of a transcript file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FirstTurn is the number every transcript must start at. Evaluators
// expect turn 1 first on a new call.
const FirstTurn = 1

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// LoadFile reads and checks a transcript file.
func LoadFile(path string) (*transcript.CallData, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	call, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return call, nil
}

// Parse decodes a transcript and checks that its turns can be replayed in
// order: every turn valid, numbered consecutively, with non-decreasing
// timestamps.
func Parse(data []byte, format Format) (*transcript.CallData, error) {
	var call transcript.CallData
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&call); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&call); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	if err := check(&call); err != nil {
		return nil, err
	}
	return &call, nil
}

func check(call *transcript.CallData) error {
	if len(call.Transcript) == 0 {
		return ErrEmptyTranscript
	}

	prevClock := -1
	for i, t := range call.Transcript {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		if want := FirstTurn + i; t.TurnNumber != want {
			return fmt.Errorf("turn %d: turnNumber %d, want %d", i+1, t.TurnNumber, want)
		}
		clock, _ := transcript.ParseClock(t.Timestamp)
		if clock < prevClock {
			return fmt.Errorf("turn %d: timestamp %s goes backwards", i+1, t.Timestamp)
		}
		prevClock = clock
	}
	return nil
}
