// Package testutil provides testing utilities and helpers for the scout run system.
package testutil

import (
	"encoding/json"
	"fmt"

	"github.com/scoutline/scout-api/internal/domain/model"
)

// RunRequestBuilder provides a fluent interface for building CreateRunRequest objects for testing.
type RunRequestBuilder struct {
	req *model.CreateRunRequest
}

// NewRunRequest creates a new RunRequestBuilder with sensible defaults.
func NewRunRequest() *RunRequestBuilder {
	return &RunRequestBuilder{
		req: &model.CreateRunRequest{
			OwnerID:   "test-owner",
			ProfileID: "test-profile",
			Prospects: []string{"alice", "bob"},
			Profile:   json.RawMessage(`{"criteria": ["industry"]}`),
		},
	}
}

// WithOwner sets the owner identifier.
func (b *RunRequestBuilder) WithOwner(ownerID string) *RunRequestBuilder {
	b.req.OwnerID = ownerID
	return b
}

// WithProfileID sets the scoring profile identifier.
func (b *RunRequestBuilder) WithProfileID(profileID string) *RunRequestBuilder {
	b.req.ProfileID = profileID
	return b
}

// WithProspects sets the prospect list.
func (b *RunRequestBuilder) WithProspects(prospects ...string) *RunRequestBuilder {
	b.req.Prospects = prospects
	return b
}

// WithProspectCount replaces the prospect list with n generated prospects.
func (b *RunRequestBuilder) WithProspectCount(n int) *RunRequestBuilder {
	prospects := make([]string, 0, n)
	for i := range n {
		prospects = append(prospects, fmt.Sprintf("prospect-%03d", i))
	}
	b.req.Prospects = prospects
	return b
}

// WithProfile sets the scoring profile document.
func (b *RunRequestBuilder) WithProfile(profile json.RawMessage) *RunRequestBuilder {
	b.req.Profile = profile
	return b
}

// WithProfileString sets the scoring profile document from a string.
func (b *RunRequestBuilder) WithProfileString(profile string) *RunRequestBuilder {
	b.req.Profile = json.RawMessage(profile)
	return b
}

// WithGroupSize sets the fan-out group size.
func (b *RunRequestBuilder) WithGroupSize(size int) *RunRequestBuilder {
	b.req.GroupSize = size
	return b
}

// Build returns the constructed CreateRunRequest.
func (b *RunRequestBuilder) Build() *model.CreateRunRequest {
	return b.req
}

// ResultRequestBuilder provides a fluent interface for building CreateResultRequest objects for testing.
type ResultRequestBuilder struct {
	req *model.CreateResultRequest
}

// NewResultRequest creates a new ResultRequestBuilder describing a successfully scored prospect.
func NewResultRequest(runID, prospect string) *ResultRequestBuilder {
	return &ResultRequestBuilder{
		req: &model.CreateResultRequest{
			RunID:    runID,
			Prospect: prospect,
			Analysis: &model.Analysis{
				Score:           0.75,
				Classification:  "strong",
				Rationale:       "matches target industry",
				MatchedCriteria: []string{"industry"},
				Gaps:            []string{},
			},
		},
	}
}

// WithScore sets the analysis score.
func (b *ResultRequestBuilder) WithScore(score float64) *ResultRequestBuilder {
	b.ensureAnalysis()
	b.req.Analysis.Score = score
	return b
}

// WithClassification sets the analysis classification.
func (b *ResultRequestBuilder) WithClassification(classification string) *ResultRequestBuilder {
	b.ensureAnalysis()
	b.req.Analysis.Classification = classification
	return b
}

// WithRationale sets the analysis rationale.
func (b *ResultRequestBuilder) WithRationale(rationale string) *ResultRequestBuilder {
	b.ensureAnalysis()
	b.req.Analysis.Rationale = rationale
	return b
}

// WithMatchedCriteria sets the matched criteria list.
func (b *ResultRequestBuilder) WithMatchedCriteria(criteria ...string) *ResultRequestBuilder {
	b.ensureAnalysis()
	b.req.Analysis.MatchedCriteria = criteria
	return b
}

// WithGaps sets the gap list.
func (b *ResultRequestBuilder) WithGaps(gaps ...string) *ResultRequestBuilder {
	b.ensureAnalysis()
	b.req.Analysis.Gaps = gaps
	return b
}

// WithError turns the request into a failed outcome with the given message.
func (b *ResultRequestBuilder) WithError(msg string) *ResultRequestBuilder {
	b.req.Analysis = nil
	b.req.Error = msg
	return b
}

func (b *ResultRequestBuilder) ensureAnalysis() {
	if b.req.Analysis == nil {
		b.req.Analysis = &model.Analysis{}
		b.req.Error = ""
	}
}

// Build returns the constructed CreateResultRequest.
func (b *ResultRequestBuilder) Build() *model.CreateResultRequest {
	return b.req
}
