// Package metrics defines the metric emission helpers shared by the executor
// and the sweeper.
package metrics

import (
	"time"

	obserrors "github.com/scoutline/scout-api/internal/observability/errors"
	"github.com/scoutline/scout-api/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess   = "success"
	ResultError     = "error"
	ResultCancelled = "cancelled"
	ResultNoop      = "noop"
)

// RunMetric captures details about a run lifecycle event for metric emission.
type RunMetric struct {
	Transition string
	Result     string
	Duration   time.Duration
	Items      int
	Err        error
}

// EmitRunLifecycle emits standardised run lifecycle metrics.
func EmitRunLifecycle(sink statsd.Sink, in RunMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("run.transition", 1, tags)
	if in.Items > 0 {
		sink.Count("run.items", int64(in.Items), CloneTags(tags))
	}
	if in.Duration > 0 {
		sink.Timing("run.duration", in.Duration, CloneTags(tags))
	}
}

// EmitItemOutcome counts a single scored prospect, tagged by outcome.
func EmitItemOutcome(sink statsd.Sink, result string, duration time.Duration, err error) {
	if sink == nil {
		return
	}

	tags := map[string]string{"result": result}
	if err != nil && result == ResultError {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("item.analyzed", 1, tags)
	if duration > 0 {
		sink.Timing("item.duration", duration, CloneTags(tags))
	}
}

// EmitSweep records the outcome of one maintenance sweep step.
func EmitSweep(sink statsd.Sink, step string, touched int64, err error) {
	if sink == nil {
		return
	}

	result := ResultSuccess
	if err != nil {
		result = ResultError
	} else if touched == 0 {
		result = ResultNoop
	}

	tags := map[string]string{"step": step, "result": result}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("sweep.step", 1, tags)
	if touched > 0 {
		sink.Count("sweep.touched", touched, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty maps.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
