// Package threat defines the optional ML threat adapter (spec §4.9): an
// opaque, fail-open interface the gateway pipeline consults before
// executing an action. Grounded on the nexus protocol's risk Scorer shape
// (rule findings + confidence), adapted to the leaf-scanning contract the
// spec describes.
package threat

import (
	"context"
	"strings"
	"time"

	"github.com/agenttrust/station/pkg/models"
)

// Analyzer scans an action's params for threats. Implementations are
// expected to be fast (the pipeline calls it synchronously); if analysis
// legitimately takes longer than the caller's context deadline, Analyze
// should return ctx.Err() so the adapter can fail open.
type Analyzer interface {
	Analyze(ctx context.Context, params map[string]interface{}, agentID string) (*models.ThreatReport, error)
}

// Adapter wraps an Analyzer so that unavailability or error fails open
// (pipeline proceeds as though safe) rather than blocking the request —
// the analyzer is opaque to the gateway, per spec §4.9.
type Adapter struct {
	analyzer Analyzer
}

// NewAdapter wraps analyzer. A nil analyzer makes every call report safe
// without doing any work, matching "if it is unavailable... proceed as
// though safe."
func NewAdapter(analyzer Analyzer) *Adapter {
	return &Adapter{analyzer: analyzer}
}

// Analyze runs the wrapped analyzer, if any, and always returns a usable
// report: on a nil analyzer or any error, it returns {safe: true}.
func (a *Adapter) Analyze(ctx context.Context, params map[string]interface{}, agentID string) *models.ThreatReport {
	if a.analyzer == nil {
		return &models.ThreatReport{Safe: true}
	}

	start := time.Now()
	report, err := a.analyzer.Analyze(ctx, params, agentID)
	if err != nil || report == nil {
		return &models.ThreatReport{Safe: true, AnalysisTimeMs: time.Since(start).Milliseconds()}
	}
	return report
}

// RuleAnalyzer is a simple, dependency-free Analyzer that recursively
// visits every string leaf in params and flags values matching a small set
// of heuristics. It exists so the gateway has something to wire by
// default; production deployments are expected to swap in a real model
// behind the same interface.
type RuleAnalyzer struct {
	PromptInjectionThreshold float64
	MaliciousURLThreshold    float64
}

// NewRuleAnalyzer returns a RuleAnalyzer with the spec's suggested default
// thresholds.
func NewRuleAnalyzer() *RuleAnalyzer {
	return &RuleAnalyzer{PromptInjectionThreshold: 0.6, MaliciousURLThreshold: 0.6}
}

var promptInjectionMarkers = []string{
	"ignore previous instructions",
	"ignore all previous",
	"disregard your instructions",
	"you are now",
	"system prompt",
}

func (r *RuleAnalyzer) Analyze(ctx context.Context, params map[string]interface{}, agentID string) (*models.ThreatReport, error) {
	start := time.Now()
	var threats []models.Threat

	walkLeaves("", params, func(field, value string) {
		if confidence := promptInjectionConfidence(value); confidence >= r.PromptInjectionThreshold {
			threats = append(threats, models.Threat{Type: models.ThreatPromptInjection, Field: field, Confidence: confidence, Value: value})
		}
		if confidence := maliciousURLConfidence(value); confidence >= r.MaliciousURLThreshold {
			threats = append(threats, models.Threat{Type: models.ThreatMaliciousURL, Field: field, Confidence: confidence, Value: value})
		}
	})

	return &models.ThreatReport{
		Safe:           len(threats) == 0,
		Threats:        threats,
		AnalysisTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

func walkLeaves(prefix string, value interface{}, visit func(field, value string)) {
	switch v := value.(type) {
	case map[string]interface{}:
		for key, val := range v {
			field := key
			if prefix != "" {
				field = prefix + "." + key
			}
			walkLeaves(field, val, visit)
		}
	case []interface{}:
		for _, val := range v {
			walkLeaves(prefix, val, visit)
		}
	case string:
		visit(prefix, v)
	}
}

func promptInjectionConfidence(value string) float64 {
	lower := strings.ToLower(value)
	for _, marker := range promptInjectionMarkers {
		if strings.Contains(lower, marker) {
			return 0.9
		}
	}
	return 0
}

func maliciousURLConfidence(value string) float64 {
	lower := strings.ToLower(value)
	if strings.Contains(lower, "http://") || strings.Contains(lower, "https://") {
		for _, marker := range []string{"bit.ly", "tinyurl", ".ru/", ".tk/", "@"} {
			if strings.Contains(lower, marker) {
				return 0.75
			}
		}
	}
	return 0
}
