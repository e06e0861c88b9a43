package classify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

const validPayload = `{"tag":"dissatisfied_guest","confidence":0.82,"needs_attention":true,"explanation":"Guest complains about cleanliness.","suggested_action":"Send the cleaner."}`

func TestDecodePayload_Strict(t *testing.T) {
	p, err := DecodePayload(validPayload)
	require.NoError(t, err)
	require.Equal(t, "dissatisfied_guest", p.Tag)
	require.InDelta(t, 0.82, *p.Confidence, 1e-9)
	require.True(t, *p.NeedsAttention)
}

func TestDecodePayload_Lenient(t *testing.T) {
	tests := map[string]string{
		"fenced":         "```json\n" + validPayload + "\n```",
		"prose":          "Here is my answer: " + validPayload + " Hope it helps.",
		"trailing comma": `{"tag":"dissatisfied_guest","confidence":0.82,"needs_attention":true,}`,
		"unknown field":  `{"tag":"dissatisfied_guest","confidence":0.82,"needs_attention":true,"reasoning":"x"}`,
		"braces in text": `note {"tag":"dissatisfied_guest","confidence":0.82,"needs_attention":true,"explanation":"said {hi}"}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			p, err := DecodePayload(raw)
			require.NoError(t, err)
			require.Equal(t, "dissatisfied_guest", p.Tag)
		})
	}
}

func TestDecodePayload_Failures(t *testing.T) {
	tests := map[string]struct {
		raw   string
		stage string
	}{
		"no object":       {raw: "I cannot classify this.", stage: "extract"},
		"unknown tag":     {raw: `{"tag":"panic","confidence":0.5,"needs_attention":true}`, stage: "validate"},
		"reserved tag":    {raw: `{"tag":"ai_incoherence","confidence":0.5,"needs_attention":true}`, stage: "validate"},
		"no confidence":   {raw: `{"tag":"none","needs_attention":false}`, stage: "validate"},
		"no attention":    {raw: `{"tag":"none","confidence":0.5}`, stage: "validate"},
		"missing tag":     {raw: `{"confidence":0.5,"needs_attention":false}`, stage: "validate"},
		"lenient invalid": {raw: "result: " + `{"tag":"none","confidence":0.5}`, stage: "validate"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePayload(tt.raw)
			require.Error(t, err)
			var decErr *DecodeError
			require.True(t, errors.As(err, &decErr))
			require.Equal(t, tt.stage, decErr.Stage)
		})
	}
}

func TestPayloadToResult(t *testing.T) {
	high, low := 1.7, -0.2
	no := false

	res := Payload{Tag: "none", Confidence: &high, NeedsAttention: &no}.toResult()
	require.Equal(t, 1.0, res.Confidence)
	require.False(t, res.NeedsAttention)
	require.Equal(t, SourceModel, res.Source)

	res = Payload{Tag: "urgent_critical", Confidence: &low, NeedsAttention: &no}.toResult()
	require.Equal(t, 0.0, res.Confidence)
	require.True(t, res.NeedsAttention, "attention tags always need a human")
}

func TestExtractFirstObject(t *testing.T) {
	obj, ok := extractFirstObject(`x {"a":{"b":"}"}} {"c":1}`)
	require.True(t, ok)
	require.Equal(t, `{"a":{"b":"}"}}`, obj)

	obj, ok = extractFirstObject(`{"a":1`)
	require.True(t, ok)
	require.Equal(t, `{"a":1`, obj)

	_, ok = extractFirstObject("nothing here")
	require.False(t, ok)
}
