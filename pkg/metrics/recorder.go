// Package metrics records run and stage metrics in Prometheus format.
package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/opnlabs/relay/pkg/pipeline"
)

const namespace = "relay"

// Recorder implements pipeline.Observer using Prometheus metrics.
type Recorder struct {
	registry      *prom.Registry
	stageDuration *prom.HistogramVec
	stageResults  *prom.CounterVec
	runDuration   prom.Histogram
	runOutcome    *prom.CounterVec
	lastOutcome   *prom.GaugeVec
}

var _ pipeline.Observer = (*Recorder)(nil)

// NewRecorder registers the metrics on reg, or on a fresh registry when reg
// is nil.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}

	r := &Recorder{
		registry: reg,
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"}),
		stageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stage_results_total",
			Help:      "Stage result counts by status",
		}, []string{"stage", "status"}),
		runDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Total run duration including post hooks",
			Buckets:   prom.DefBuckets,
		}),
		runOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "run_outcomes_total",
			Help:      "Run outcomes by final status",
		}, []string{"outcome"}),
		lastOutcome: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_outcome",
			Help:      "1 for the outcome of the most recent run, 0 otherwise",
		}, []string{"outcome"}),
	}
	reg.MustRegister(r.stageDuration, r.stageResults, r.runDuration, r.runOutcome, r.lastOutcome)
	return r
}

func (r *Recorder) Registry() *prom.Registry { return r.registry }

// StageFinished skips the duration histogram for stages that never ran.
func (r *Recorder) StageFinished(name string, status pipeline.StageStatus, d time.Duration) {
	r.stageResults.WithLabelValues(name, status.String()).Inc()
	if status != pipeline.Skipped && status != pipeline.NotRun {
		r.stageDuration.WithLabelValues(name).Observe(d.Seconds())
	}
}

func (r *Recorder) RunFinished(outcome pipeline.Outcome, d time.Duration) {
	r.runDuration.Observe(d.Seconds())
	r.runOutcome.WithLabelValues(outcome.String()).Inc()

	for _, o := range []pipeline.Outcome{pipeline.Success, pipeline.Unstable, pipeline.Failure, pipeline.Aborted} {
		v := 0.0
		if o == outcome {
			v = 1
		}
		r.lastOutcome.WithLabelValues(o.String()).Set(v)
	}
}

// WriteTextfile writes the current metrics to path in the text exposition
// format, suitable for the node exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	return prom.WriteToTextfile(path, r.registry)
}
