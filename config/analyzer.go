package config

import (
	"strings"
	"time"
)

// AnalyzerConfig contains configuration for the external analyzer client.
type AnalyzerConfig struct {
	// BaseURL is the analyzer service endpoint.
	BaseURL string `env:"ANALYZER_BASE_URL" envDefault:"http://localhost:9090"`

	// Timeout is the per-request timeout for analyzer calls.
	Timeout time.Duration `env:"ANALYZER_TIMEOUT" envDefault:"60s"`

	// The following JMESPath expressions control how verdict fields are
	// extracted from the analyzer response. Empty values use the built-in
	// defaults, which match the analyzer's documented response shape.
	ScoreExpr           string `env:"ANALYZER_SCORE_EXPR"`
	ClassificationExpr  string `env:"ANALYZER_CLASSIFICATION_EXPR"`
	RationaleExpr       string `env:"ANALYZER_RATIONALE_EXPR"`
	MatchedCriteriaExpr string `env:"ANALYZER_MATCHED_CRITERIA_EXPR"`
	GapsExpr            string `env:"ANALYZER_GAPS_EXPR"`
}

// Sanitize applies guardrails to analyzer configuration values.
func (a *AnalyzerConfig) Sanitize() {
	a.BaseURL = strings.TrimSpace(a.BaseURL)
	if a.Timeout < time.Second {
		a.Timeout = time.Second
	}
}
