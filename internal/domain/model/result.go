package model

import (
	"errors"
	"strings"
	"time"
)

// ResultStatus represents the outcome status of a single scored prospect.
type ResultStatus string

const (
	// ResultStatusCompleted indicates the prospect was scored successfully.
	ResultStatusCompleted ResultStatus = "completed"
	// ResultStatusFailed indicates the Analyzer call for the prospect failed.
	ResultStatusFailed ResultStatus = "failed"
)

// Valid returns true if the ResultStatus is valid.
func (s ResultStatus) Valid() bool {
	return s == ResultStatusCompleted || s == ResultStatusFailed
}

// Result represents the persisted outcome for one prospect within a run.
// A result is written exactly once, when its item finishes, and never updated.
type Result struct {
	ID              string       `json:"id"                       db:"id"`
	RunID           string       `json:"run_id"                   db:"run_id"`
	Prospect        string       `json:"prospect"                 db:"prospect"`
	Classification  string       `json:"classification,omitempty" db:"classification"`
	Score           *float64     `json:"score,omitempty"          db:"score"`
	Rationale       string       `json:"rationale,omitempty"      db:"rationale"`
	MatchedCriteria []string     `json:"matched_criteria"         db:"matched_criteria"`
	Gaps            []string     `json:"gaps"                     db:"gaps"`
	Status          ResultStatus `json:"status"                   db:"status"`
	Error           *string      `json:"error,omitempty"          db:"error"`
	AnalyzedAt      time.Time    `json:"analyzed_at"              db:"analyzed_at"`
}

// Analysis is the Analyzer's verdict for a single prospect.
type Analysis struct {
	Score           float64  `json:"score"`
	Classification  string   `json:"classification"`
	Rationale       string   `json:"rationale"`
	MatchedCriteria []string `json:"matched_criteria"`
	Gaps            []string `json:"gaps"`
}

// CreateResultRequest represents a request to persist one prospect outcome.
// Either Analysis (success) or Error (failure) is set, never both.
type CreateResultRequest struct {
	RunID    string
	Prospect string
	Analysis *Analysis
	Error    string
}

// Validate validates the CreateResultRequest fields.
func (r *CreateResultRequest) Validate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.Prospect) == "" {
		return errors.New("prospect is required")
	}
	if r.Analysis == nil && strings.TrimSpace(r.Error) == "" {
		return errors.New("either analysis or error is required")
	}
	if r.Analysis != nil && strings.TrimSpace(r.Error) != "" {
		return errors.New("analysis and error are mutually exclusive")
	}
	return nil
}

// Status returns the result status implied by the request.
func (r *CreateResultRequest) Status() ResultStatus {
	if r.Analysis != nil {
		return ResultStatusCompleted
	}
	return ResultStatusFailed
}

// ResultListOptions holds filters and pagination for listing results of a run.
type ResultListOptions struct {
	RunID          string
	Classification string
	Limit          int
	Offset         int
}
