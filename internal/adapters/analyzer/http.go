// Package analyzer provides the HTTP client for the external scoring service.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"
	"github.com/scoutline/scout-api/internal/core"
	"github.com/scoutline/scout-api/internal/domain/model"
)

const defaultTimeout = 60 * time.Second

// Default JMESPath expressions for extracting verdict fields from the
// analyzer response body.
const (
	DefaultScoreExpr           = "score"
	DefaultClassificationExpr  = "classification"
	DefaultRationaleExpr       = "rationale"
	DefaultMatchedCriteriaExpr = "matched_criteria"
	DefaultGapsExpr            = "gaps"
)

// JMESPathEvaluator abstracts JMESPath operations for testability.
type JMESPathEvaluator interface {
	Validate(expr string) error
	Evaluate(expr string, data any) (any, error)
}

type jmespathLibEvaluator struct{}

func (j jmespathLibEvaluator) Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, err := jmespath.Compile(expr)
	return err
}

func (j jmespathLibEvaluator) Evaluate(expr string, data any) (any, error) {
	return jmespath.Search(expr, data)
}

// FieldMapping holds the JMESPath expressions used to pull verdict fields out
// of the analyzer response. Empty expressions fall back to the defaults.
type FieldMapping struct {
	Score           string
	Classification  string
	Rationale       string
	MatchedCriteria string
	Gaps            string
}

func (m FieldMapping) withDefaults() FieldMapping {
	if m.Score == "" {
		m.Score = DefaultScoreExpr
	}
	if m.Classification == "" {
		m.Classification = DefaultClassificationExpr
	}
	if m.Rationale == "" {
		m.Rationale = DefaultRationaleExpr
	}
	if m.MatchedCriteria == "" {
		m.MatchedCriteria = DefaultMatchedCriteriaExpr
	}
	if m.Gaps == "" {
		m.Gaps = DefaultGapsExpr
	}
	return m
}

// ClientOptions groups dependencies for the analyzer Client.
type ClientOptions struct {
	BaseURL    string
	Timeout    time.Duration
	Mapping    FieldMapping
	HTTPClient *http.Client      // Optional: defaults to a client with Timeout
	Evaluator  JMESPathEvaluator // Optional: defaults to the library evaluator
	Logger     *slog.Logger      // Optional: structured logger
}

// Client calls the external analyzer over HTTP, one prospect per request.
// The client performs no retries; a failed call is recorded as a failed item.
type Client struct {
	baseURL string
	mapping FieldMapping
	http    *http.Client
	jems    JMESPathEvaluator
	logger  *slog.Logger
}

var _ core.Analyzer = (*Client)(nil)

// NewClient constructs an analyzer Client, validating the configured field expressions.
func NewClient(opts ClientOptions) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("analyzer base URL is required")
	}

	jems := opts.Evaluator
	if jems == nil {
		jems = jmespathLibEvaluator{}
	}

	mapping := opts.Mapping.withDefaults()
	for name, expr := range map[string]string{
		"score":            mapping.Score,
		"classification":   mapping.Classification,
		"rationale":        mapping.Rationale,
		"matched_criteria": mapping.MatchedCriteria,
		"gaps":             mapping.Gaps,
	} {
		if err := jems.Validate(expr); err != nil {
			return nil, fmt.Errorf("invalid %s expression: %w", name, err)
		}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "analyzer_client")
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		mapping: mapping,
		http:    httpClient,
		jems:    jems,
		logger:  logger,
	}, nil
}

type analyzeRequest struct {
	Prospect string          `json:"prospect"`
	Profile  json.RawMessage `json:"profile"`
}

// Analyze scores one prospect against the reference profile.
func (c *Client) Analyze(ctx context.Context, prospect string, profile json.RawMessage) (*model.Analysis, error) {
	body, err := json.Marshal(analyzeRequest{Prospect: prospect, Profile: profile})
	if err != nil {
		return nil, fmt.Errorf("marshal analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call analyzer: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // response body close

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read analyzer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analyzer returned status %d", resp.StatusCode)
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode analyzer response: %w", err)
	}

	analysis, err := c.mapResponse(data)
	if err != nil {
		return nil, err
	}

	if c.logger != nil {
		c.logger.DebugContext(ctx, "prospect analyzed",
			"prospect", prospect, "classification", analysis.Classification)
	}
	return analysis, nil
}

func (c *Client) mapResponse(data any) (*model.Analysis, error) {
	score, err := c.floatField(c.mapping.Score, data)
	if err != nil {
		return nil, err
	}
	classification, err := c.stringField(c.mapping.Classification, data)
	if err != nil {
		return nil, err
	}
	if classification == "" {
		return nil, errors.New("analyzer response missing classification")
	}
	rationale, err := c.stringField(c.mapping.Rationale, data)
	if err != nil {
		return nil, err
	}
	matched, err := c.stringSliceField(c.mapping.MatchedCriteria, data)
	if err != nil {
		return nil, err
	}
	gaps, err := c.stringSliceField(c.mapping.Gaps, data)
	if err != nil {
		return nil, err
	}

	return &model.Analysis{
		Score:           score,
		Classification:  classification,
		Rationale:       rationale,
		MatchedCriteria: matched,
		Gaps:            gaps,
	}, nil
}

func (c *Client) floatField(expr string, data any) (float64, error) {
	v, err := c.jems.Evaluate(expr, data)
	if err != nil {
		return 0, fmt.Errorf("evaluate %q: %w", expr, err)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("field %q is not a number", expr)
	}
	return f, nil
}

func (c *Client) stringField(expr string, data any) (string, error) {
	v, err := c.jems.Evaluate(expr, data)
	if err != nil {
		return "", fmt.Errorf("evaluate %q: %w", expr, err)
	}
	if v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q is not a string", expr)
	}
	return s, nil
}

func (c *Client) stringSliceField(expr string, data any) ([]string, error) {
	v, err := c.jems.Evaluate(expr, data)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", expr, err)
	}
	if v == nil {
		return []string{}, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("field %q is not an array", expr)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("field %q contains a non-string element", expr)
		}
		out = append(out, s)
	}
	return out, nil
}
