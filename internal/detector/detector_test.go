package detector_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"quarantine/internal/detector"
	"quarantine/internal/services"
)

func TestDecodeJSON(t *testing.T) {
	raw := []byte(`{
  "engine": "yara",
  "version": "4.5",
  "matches": [{"rule": " Trojan_Generic ", "severity": "HIGH", "confidence": 0.9, "strings": ["$a"]}],
  "indicators": {"urls": ["http://b.example", "http://a.example", "http://b.example"], "ips": []},
  "heuristics": ["packed", "packed"],
  "extra_field": "ignored"
}`)
	result, err := detector.Decode(detector.FormatJSON, raw)
	require.NoError(t, err)
	require.Equal(t, "yara", result.Engine)
	require.Len(t, result.Matches, 1)
	require.Equal(t, "Trojan_Generic", result.Matches[0].Rule)
	require.Equal(t, "high", result.Matches[0].Severity)
	require.Equal(t, detector.SourceSignature, result.Matches[0].Source)
	require.Equal(t, []string{"http://a.example", "http://b.example"}, result.Indicators.URLs)
	require.Nil(t, result.Indicators.IPs)
	require.Equal(t, []string{"packed"}, result.Heuristics)
	require.Equal(t, 2, result.Indicators.Count())
}

func TestDecodeMsgpack(t *testing.T) {
	raw, err := msgpack.Marshal(map[string]any{
		"engine":  "clam",
		"matches": []map[string]any{{"rule": "Eicar-Test-Signature", "severity": "critical", "confidence": 1.0}},
	})
	require.NoError(t, err)

	result, err := detector.Decode(detector.FormatMsgpack, raw)
	require.NoError(t, err)
	require.Equal(t, "clam", result.Engine)
	require.Len(t, result.Matches, 1)
	require.Equal(t, "critical", result.Matches[0].Severity)
}

func TestDecodeRejectsMalformedOutput(t *testing.T) {
	cases := map[string]string{
		"empty":          "   ",
		"not json":       "Segmentation fault",
		"missing rule":   `{"matches":[{"severity":"high"}]}`,
		"bad confidence": `{"matches":[{"rule":"x","confidence":7}]}`,
		"bad severity":   `{"matches":[{"rule":"x","severity":"apocalyptic"}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := detector.Decode(detector.FormatJSON, []byte(raw))
			require.ErrorIs(t, err, services.ErrRejected)
			require.True(t, services.IsPermanent(err))
		})
	}
}

func TestDecodeRejectsNonFiniteConfidence(t *testing.T) {
	for name, value := range map[string]float64{
		"nan":  math.NaN(),
		"+inf": math.Inf(1),
		"-inf": math.Inf(-1),
	} {
		t.Run(name, func(t *testing.T) {
			raw, err := msgpack.Marshal(map[string]any{
				"matches": []map[string]any{{"rule": "x", "confidence": value}},
			})
			require.NoError(t, err)
			_, err = detector.Decode(detector.FormatMsgpack, raw)
			require.ErrorIs(t, err, services.ErrRejected)
			require.True(t, services.IsPermanent(err))
		})
	}
}

func TestDecodeUnknownFormat(t *testing.T) {
	_, err := detector.Decode("xml", []byte("<x/>"))
	require.True(t, errors.Is(err, services.ErrConfiguration))
}

func TestCanonicalIsStable(t *testing.T) {
	a, err := detector.Decode(detector.FormatJSON, []byte(`{"indicators":{"ips":["10.0.0.2","10.0.0.1"]},"matches":[]}`))
	require.NoError(t, err)
	b, err := detector.Decode(detector.FormatJSON, []byte(`{"matches":null,"indicators":{"ips":["10.0.0.1","10.0.0.2"]}}`))
	require.NoError(t, err)

	ca, err := a.Canonical()
	require.NoError(t, err)
	cb, err := b.Canonical()
	require.NoError(t, err)
	require.Equal(t, string(ca), string(cb))

	parsed, err := detector.Parse(ca)
	require.NoError(t, err)
	again, err := parsed.Canonical()
	require.NoError(t, err)
	require.Equal(t, string(ca), string(again))
}

func TestParseInvalidStoredResult(t *testing.T) {
	_, err := detector.Parse([]byte("{"))
	require.ErrorIs(t, err, services.ErrValidation)
}
