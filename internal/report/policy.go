package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"quarantine/internal/detector"
	"quarantine/internal/queue"
	"quarantine/internal/services"
)

// Recommendations attached to each risk level.
const (
	RecommendQuarantine = "quarantine"
	RecommendReview     = "review"
	RecommendRelease    = "release"
)

// Weights are the score contributions of each evidence class.
type Weights struct {
	Signature int `yaml:"signature"`
	Heuristic int `yaml:"heuristic"`
	Indicator int `yaml:"indicator"`
}

// Policy decides the risk level of a detector result.
type Policy struct {
	HighConfidence float64  `yaml:"high_confidence"`
	HighSeverities []string `yaml:"high_severities"`
	HighMarkers    []string `yaml:"high_markers"`
	Weights        Weights  `yaml:"weights"`
}

// Assessment is the outcome of applying a Policy to a result.
type Assessment struct {
	Level          queue.RiskLevel `json:"level"`
	Score          int             `json:"score"`
	Recommendation string          `json:"recommendation"`
	Reasons        []string        `json:"reasons"`
}

// DefaultPolicy returns the built-in scoring policy.
func DefaultPolicy() *Policy {
	return &Policy{
		HighConfidence: 0.8,
		HighSeverities: []string{"high", "critical"},
		HighMarkers:    []string{"malware"},
		Weights: Weights{
			Signature: 50,
			Heuristic: 35,
			Indicator: 15,
		},
	}
}

// LoadPolicy reads a YAML policy override. Fields absent from the file keep
// their default values; unknown fields are rejected. An empty path returns
// the default policy.
func LoadPolicy(path string) (*Policy, error) {
	policy := DefaultPolicy()
	if strings.TrimSpace(path) == "" {
		return policy, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "report", "load policy",
			fmt.Sprintf("Unable to read risk policy %s", path), err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(policy); err != nil && !errors.Is(err, io.EOF) {
		return nil, services.Wrap(services.ErrConfiguration, "report", "load policy",
			fmt.Sprintf("Risk policy %s is not valid YAML", path), err)
	}
	if err := policy.normalize(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "report", "load policy",
			fmt.Sprintf("Risk policy %s is invalid", path), err)
	}
	return policy, nil
}

func (p *Policy) normalize() error {
	if p.HighConfidence <= 0 || p.HighConfidence > 1 {
		return fmt.Errorf("high_confidence must be in (0,1], got %v", p.HighConfidence)
	}
	if p.Weights.Signature < 0 || p.Weights.Heuristic < 0 || p.Weights.Indicator < 0 {
		return errors.New("weights must not be negative")
	}
	p.HighSeverities = lowerAll(p.HighSeverities)
	p.HighMarkers = lowerAll(p.HighMarkers)
	return nil
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// IsHighConfidence reports whether a single match alone justifies a high
// risk level.
func (p *Policy) IsHighConfidence(m detector.Match) bool {
	if slices.Contains(p.HighSeverities, strings.ToLower(m.Severity)) {
		return true
	}
	if m.Confidence >= p.HighConfidence {
		return true
	}
	rule := strings.ToLower(m.Rule)
	for _, marker := range p.HighMarkers {
		if strings.Contains(rule, marker) {
			return true
		}
	}
	return false
}

// Assess applies the policy. The result is a pure function of its inputs.
func (p *Policy) Assess(result *detector.Result) Assessment {
	assessment := Assessment{Level: queue.RiskLow, Reasons: []string{}}
	if result == nil {
		assessment.Recommendation = RecommendRelease
		return assessment
	}

	var signatures, heuristicMatches int
	var strong []string
	for _, m := range result.Matches {
		if m.Source == detector.SourceHeuristic {
			heuristicMatches++
		} else {
			signatures++
		}
		if p.IsHighConfidence(m) {
			strong = append(strong, m.Rule)
		}
	}
	heuristics := heuristicMatches + len(result.Heuristics)
	indicators := result.Indicators.Count()

	if signatures > 0 {
		assessment.Score += p.Weights.Signature
		assessment.Reasons = append(assessment.Reasons, plural(signatures, "signature match", "signature matches"))
	}
	if heuristics > 0 {
		assessment.Score += p.Weights.Heuristic
		assessment.Reasons = append(assessment.Reasons, plural(heuristics, "heuristic finding", "heuristic findings"))
	}
	if indicators > 0 {
		assessment.Score += p.Weights.Indicator
		assessment.Reasons = append(assessment.Reasons, plural(indicators, "network indicator", "network indicators"))
	}
	if assessment.Score > 100 {
		assessment.Score = 100
	}

	switch {
	case len(strong) > 0:
		assessment.Level = queue.RiskHigh
		slices.Sort(strong)
		strong = slices.Compact(strong)
		assessment.Reasons = append(assessment.Reasons, "high-confidence match: "+strings.Join(strong, ", "))
	case signatures+heuristics+indicators > 0:
		assessment.Level = queue.RiskMedium
	default:
		assessment.Reasons = append(assessment.Reasons, "no matches")
	}
	assessment.Recommendation = recommendationFor(assessment.Level)
	return assessment
}

func recommendationFor(level queue.RiskLevel) string {
	switch level {
	case queue.RiskHigh:
		return RecommendQuarantine
	case queue.RiskMedium:
		return RecommendReview
	default:
		return RecommendRelease
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}
