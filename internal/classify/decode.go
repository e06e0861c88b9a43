package classify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Payload is the structured verdict returned by the model tier.
type Payload struct {
	Tag             string   `json:"tag"`
	Confidence      *float64 `json:"confidence"`
	NeedsAttention  *bool    `json:"needs_attention"`
	Explanation     string   `json:"explanation"`
	SuggestedAction string   `json:"suggested_action"`
}

// DecodeError reports why model output could not be turned into a Payload.
type DecodeError struct {
	Stage string
	Err   error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("classify: decode payload (%s): %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

var errNoObject = errors.New("no JSON object in model output")

// DecodePayload decodes model output strictly first, then falls back to
// extracting and repairing the first JSON object found in the text.
func DecodePayload(raw string) (Payload, error) {
	strictOut, strictErr := decodeStrict(raw)
	if strictErr == nil {
		if err := strictOut.validate(); err != nil {
			return Payload{}, &DecodeError{Stage: "validate", Err: err}
		}
		return strictOut, nil
	}

	obj, ok := extractFirstObject(raw)
	if !ok {
		return Payload{}, &DecodeError{Stage: "extract", Err: errors.Join(strictErr, errNoObject)}
	}
	repaired, err := jsonrepair.JSONRepair(obj)
	if err != nil {
		return Payload{}, &DecodeError{Stage: "repair", Err: errors.Join(strictErr, err)}
	}
	var out Payload
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return Payload{}, &DecodeError{Stage: "lenient", Err: errors.Join(strictErr, err)}
	}
	if err := out.validate(); err != nil {
		return Payload{}, &DecodeError{Stage: "validate", Err: err}
	}
	return out, nil
}

func decodeStrict(raw string) (Payload, error) {
	var out Payload
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return Payload{}, fmt.Errorf("strict decode: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return Payload{}, errors.New("strict decode: multiple JSON values")
		}
		return Payload{}, fmt.Errorf("strict decode trailing data: %w", err)
	}
	return out, nil
}

func (p Payload) validate() error {
	if strings.TrimSpace(p.Tag) == "" {
		return errors.New("missing tag")
	}
	tag, err := ParseTag(p.Tag)
	if err != nil {
		return err
	}
	if tag == TagAIIncoherence {
		return errors.New("tag ai_incoherence is reserved")
	}
	if p.Confidence == nil {
		return errors.New("missing confidence")
	}
	if math.IsNaN(*p.Confidence) || math.IsInf(*p.Confidence, 0) {
		return errors.New("confidence is not a finite number")
	}
	if p.NeedsAttention == nil {
		return errors.New("missing needs_attention")
	}
	return nil
}

// toResult converts a validated payload. Confidence is clamped to [0,1] and
// attention-requiring tags always set NeedsAttention.
func (p Payload) toResult() Result {
	tag, _ := ParseTag(p.Tag)
	return Result{
		Tag:             tag,
		Confidence:      clamp01(*p.Confidence),
		NeedsAttention:  *p.NeedsAttention || tag.RequiresAttention(),
		Explanation:     strings.TrimSpace(p.Explanation),
		SuggestedAction: strings.TrimSpace(p.SuggestedAction),
		Source:          SourceModel,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// extractFirstObject returns the first balanced {...} in s, skipping braces
// inside strings. An unterminated object is returned up to the end of s so
// the repair step can close it.
func extractFirstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return s[start:], true
}
