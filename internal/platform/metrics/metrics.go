// Package metrics registers the scoring counters and serves them as JSON.
package metrics

import (
	"net/http"
	"time"

	"github.com/rcrowley/go-metrics"
)

type Scoring struct {
	registry metrics.Registry

	Correct   metrics.Counter
	Incorrect metrics.Counter
	Rejected  metrics.Counter
	Faults    metrics.Counter
	Repriced  metrics.Counter
	Latency   metrics.Timer
}

func NewScoring(registry metrics.Registry) *Scoring {
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	return &Scoring{
		registry:  registry,
		Correct:   metrics.GetOrRegisterCounter("submissions.correct", registry),
		Incorrect: metrics.GetOrRegisterCounter("submissions.incorrect", registry),
		Rejected:  metrics.GetOrRegisterCounter("submissions.rejected", registry),
		Faults:    metrics.GetOrRegisterCounter("submissions.faults", registry),
		Repriced:  metrics.GetOrRegisterCounter("reprice.adjusted_scores", registry),
		Latency:   metrics.GetOrRegisterTimer("submissions.latency", registry),
	}
}

// Since records the time elapsed from start on the latency timer.
func (s *Scoring) Since(start time.Time) {
	s.Latency.UpdateSince(start)
}

func (s *Scoring) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		metrics.WriteJSONOnce(s.registry, w)
	})
}
