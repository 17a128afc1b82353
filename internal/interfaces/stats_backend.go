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

package interfaces

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// ErrNotAvailable is returned by a StatsBackend when a statistic cannot be
// computed for the given input (no events, no comparable pairs, a model that
// does not converge). Callers normalize it to NaN.
var ErrNotAvailable = errors.New("statistic not available")

// StatsBackend computes the survival statistics consumed by the ensemble.
type StatsBackend interface {
	// LogRankPValue returns the significance of the association between
	// values (used as a continuous covariate) and survival, optionally
	// adjusted for additional covariates (rows = samples, may be nil).
	LogRankPValue(values, events, days []float64, covariates *mat.Dense) (float64, error)

	// ConcordanceIndex fits the risk model on the training values and
	// returns the concordance of the predicted risk ordering on the test samples.
	ConcordanceIndex(trainValues, trainEvents, trainDays, testValues, testEvents, testDays []float64) (float64, error)
}
