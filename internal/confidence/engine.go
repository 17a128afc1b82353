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
// Package confidence turns per-model concordance indexes into the weights
// used by the weighted consensus strategies.
package confidence

import (
	"context"
	"errors"
	"fmt"
	"math"

	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/harel-coffee/DeepProg-auto/internal/engines/fitting"
	"github.com/harel-coffee/DeepProg-auto/internal/interfaces"
	"github.com/harel-coffee/DeepProg-auto/internal/logging"
	"github.com/harel-coffee/DeepProg-auto/internal/stats"
)

// Scope selects which labels a model's concordance index is evaluated on.
type Scope int

const (
	// TestFold evaluates each model on its held-out fold, after predicting it.
	TestFold Scope = iota
	// Full evaluates each model on every sample it has labels for.
	Full
	// Training evaluates each model on its own training samples.
	Training
)

func (s Scope) String() string {
	switch s {
	case TestFold:
		return "test fold"
	case Full:
		return "full"
	case Training:
		return "training"
	default:
		return fmt.Sprintf("Scope(%d)", int(s))
	}
}

// Report holds one concordance index per model, in pool order. Entries that
// were not available are NaN; Mean and Std ignore them.
type Report struct {
	Weights []float64
	Mean    float64
	Std     float64
}

// Engine computes per-model concordance indexes.
type Engine struct {
	backend fitting.Backend
	stats   interfaces.StatsBackend
}

// NewEngine creates an engine that runs on backend and scores with sb.
func NewEngine(backend fitting.Backend, sb interfaces.StatsBackend) *Engine {
	return &Engine{backend: backend, stats: sb}
}

// Collect returns the out-of-fold concordance index of every learner.
func (e *Engine) Collect(ctx context.Context, learners []interfaces.WeakLearner) (Report, error) {
	return e.CollectScope(ctx, learners, TestFold)
}

// CollectScope returns the concordance index of every learner on scope.
// On error the report carries NaN statistics alongside the error.
func (e *Engine) CollectScope(ctx context.Context, learners []interfaces.WeakLearner, scope Scope) (Report, error) {
	logger := ctrl.LoggerFrom(ctx)
	weights := make([]float64, len(learners))

	err := e.backend.Each(ctx, learners, func(ctx context.Context, i int, l interfaces.WeakLearner) error {
		if scope == TestFold {
			if err := l.PredictOnHoldout(ctx); err != nil {
				return fmt.Errorf("predicting held-out fold of model %d: %w", i, err)
			}
		}
		c, err := e.modelIndex(l, scope)
		if err != nil {
			return fmt.Errorf("c-index of model %d: %w", i, err)
		}
		weights[i] = c
		return nil
	})
	if err != nil {
		return Report{Weights: nanSlice(len(learners)), Mean: math.NaN(), Std: math.NaN()}, err
	}

	mean, std := stats.NaNMeanStd(weights)
	logger.V(logging.DEBUG).Info("C-index results", "scope", scope.String(), "mean", mean, "std", std)
	return Report{Weights: weights, Mean: mean, Std: std}, nil
}

func (e *Engine) modelIndex(l interfaces.WeakLearner, scope Scope) (float64, error) {
	trainLabels, err := interfaces.ReadLabels(l, interfaces.AttrLabels)
	if err != nil {
		return 0, err
	}
	trainSurv, err := interfaces.ReadSurvival(l, interfaces.DatasetSurvival)
	if err != nil {
		return 0, err
	}

	testLabels, testSurv := trainLabels, trainSurv
	switch scope {
	case TestFold:
		if testLabels, err = interfaces.ReadLabels(l, interfaces.AttrCVLabels); err != nil {
			return 0, err
		}
		if testSurv, err = interfaces.ReadSurvival(l, interfaces.DatasetSurvivalCV); err != nil {
			return 0, err
		}
	case Full:
		if testLabels, err = interfaces.ReadLabels(l, interfaces.AttrFullLabels); err != nil {
			return 0, err
		}
		if testSurv, err = interfaces.ReadSurvival(l, interfaces.DatasetSurvivalFull); err != nil {
			return 0, err
		}
	}

	c, err := e.stats.ConcordanceIndex(
		toFloats(trainLabels), trainSurv.Events, trainSurv.Days,
		toFloats(testLabels), testSurv.Events, testSurv.Days)
	return Normalize(c, err)
}

// Normalize maps a concordance result to a weight candidate: an unavailable
// result or a value outside [0, 1] becomes NaN. Other errors are returned.
func Normalize(c float64, err error) (float64, error) {
	if errors.Is(err, interfaces.ErrNotAvailable) {
		return math.NaN(), nil
	}
	if err != nil {
		return math.NaN(), err
	}
	if math.IsNaN(c) || math.IsInf(c, 0) || c < 0 || c > 1 {
		return math.NaN(), nil
	}
	return c, nil
}

func toFloats(labels []int) []float64 {
	out := make([]float64, len(labels))
	for i, l := range labels {
		out[i] = float64(l)
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
