/*
Copyright 2025 The DeepProg Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
// Package metrics records ensemble run metrics in a private Prometheus
// registry and dumps them as a text exposition file next to the run ledger.
package metrics

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

const namespace = "deepprog"

// Recorder owns the metrics of one run. A nil Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	modelsFitted   prometheus.Gauge
	modelsDropped  prometheus.Counter
	fitErrors      prometheus.Counter
	fitDuration    prometheus.Histogram
	stageDuration  *prometheus.HistogramVec
	clusterSamples *prometheus.GaugeVec
	confidence     prometheus.Histogram
	featureScores  *prometheus.CounterVec
}

// NewRecorder creates a recorder backed by a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		modelsFitted: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "models_fitted",
			Help:      "Number of weak learners kept after fitting",
		}),
		modelsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "models_dropped_total",
			Help:      "Weak learners dropped because their fit reported failure",
		}),
		fitErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "fit_errors_total",
			Help:      "Pool fits aborted by an error",
		}),
		fitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "fit_duration_seconds",
			Help:      "Wall time of a whole pool fit",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ensemble",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each ensemble stage",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"stage"}),
		clusterSamples: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "cluster_samples",
			Help:      "Samples assigned to each consensus cluster",
		}, []string{"cluster"}),
		confidence: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "confidence",
			Name:      "concordance_index",
			Help:      "Out-of-fold concordance index of each weak learner",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		featureScores: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "features",
			Name:      "scores_total",
			Help:      "Feature significance scores computed",
		}, []string{"kind"}),
	}
}

// Registry returns the registry the recorder writes to.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveFit records a completed pool fit.
func (r *Recorder) ObserveFit(fitted, dropped int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.modelsFitted.Set(float64(fitted))
	r.modelsDropped.Add(float64(dropped))
	r.fitDuration.Observe(elapsed.Seconds())
}

// RecordFitError records a pool fit aborted by an error.
func (r *Recorder) RecordFitError() {
	if r == nil {
		return
	}
	r.fitErrors.Inc()
}

// ObserveStage records the duration of a named ensemble stage.
func (r *Recorder) ObserveStage(stage string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ObserveConsensus records the cluster sizes of a consensus labelling.
func (r *Recorder) ObserveConsensus(labels []int) {
	if r == nil {
		return
	}
	counts := map[int]int{}
	for _, l := range labels {
		counts[l]++
	}
	r.clusterSamples.Reset()
	for cluster, n := range counts {
		r.clusterSamples.WithLabelValues(strconv.Itoa(cluster)).Set(float64(n))
	}
}

// ObserveConfidence records the finite concordance indexes of a weighting pass.
func (r *Recorder) ObserveConfidence(cindexes []float64) {
	if r == nil {
		return
	}
	for _, c := range cindexes {
		if !math.IsNaN(c) {
			r.confidence.Observe(c)
		}
	}
}

// AddFeatureScores counts n feature scores of the given kind.
func (r *Recorder) AddFeatureScores(kind string, n int) {
	if r == nil {
		return
	}
	r.featureScores.WithLabelValues(kind).Add(float64(n))
}

// WriteTextfile dumps every gathered metric family in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return fmt.Errorf("encoding metric %s: %w", mf.GetName(), err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing metrics %s: %w", path, err)
	}
	return nil
}
