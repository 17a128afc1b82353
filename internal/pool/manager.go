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
// Package pool owns the weak learners of an ensemble and drives their fit
// through a fitting backend.
package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/harel-coffee/DeepProg-auto/internal/engines/fitting"
	"github.com/harel-coffee/DeepProg-auto/internal/interfaces"
	"github.com/harel-coffee/DeepProg-auto/internal/ledger"
	"github.com/harel-coffee/DeepProg-auto/internal/logging"
	"github.com/harel-coffee/DeepProg-auto/internal/metrics"
)

// ErrEnsembleFitting is returned when no weak learner survives fitting.
var ErrEnsembleFitting = errors.New("no weak learner could be fitted")

// Manager holds the pool of weak learners. Every FitAll starts from the
// submitted learners; after a successful FitAll only the learners whose fit
// succeeded remain, in submission order. A failed FitAll leaves the pool
// unchanged.
type Manager struct {
	backend   fitting.Backend
	ledger    ledger.Writer
	metrics   *metrics.Recorder
	submitted []interfaces.WeakLearner
	learners  []interfaces.WeakLearner
	now       func() time.Time
}

// NewManager creates a pool over learners. rec may be nil.
func NewManager(learners []interfaces.WeakLearner, backend fitting.Backend, l ledger.Writer, rec *metrics.Recorder) *Manager {
	submitted := append([]interfaces.WeakLearner(nil), learners...)
	return &Manager{
		backend:   backend,
		ledger:    l,
		metrics:   rec,
		submitted: submitted,
		learners:  submitted,
		now:       time.Now,
	}
}

// Learners returns the current pool.
func (m *Manager) Learners() []interfaces.WeakLearner {
	return append([]interfaces.WeakLearner(nil), m.learners...)
}

// Len returns the pool size.
func (m *Manager) Len() int {
	return len(m.learners)
}

// Backend returns the fitting backend the pool runs on.
func (m *Manager) Backend() fitting.Backend {
	return m.backend
}

// FitAll fits the pool and returns the number of learners kept. With
// sources, learner i is fitted from sources[i]; when there are fewer sources
// than learners the pool is truncated to the number of sources.
func (m *Manager) FitAll(ctx context.Context, sources []string) (int, error) {
	logger := ctrl.LoggerFrom(ctx)
	start := m.now()

	learners := m.submitted
	if len(sources) > 0 {
		if len(sources) < len(learners) {
			logger.Info("Fewer pretrained label files than model instances, truncating the pool",
				"files", len(sources),
				"instances", len(learners))
			learners = learners[:len(sources)]
		}
		sources = sources[:len(learners)]
	} else {
		sources = nil
	}

	logger.Info("Fitting models", "count", len(learners), "pretrained", sources != nil)
	results, err := m.backend.FitAll(ctx, learners, sources)
	if err != nil {
		m.fail(err)
		return 0, err
	}

	kept := make([]interfaces.WeakLearner, 0, len(learners))
	for i, ok := range results {
		if ok {
			kept = append(kept, learners[i])
		} else {
			logger.V(logging.DEBUG).Info("Dropping model whose fit failed", "index", i)
		}
	}
	m.ledger.Set(ledger.KeyNbModels, len(kept))
	logger.Info("Models fitted", "fitted", len(kept), "dropped", len(learners)-len(kept))

	if len(kept) == 0 {
		err := fmt.Errorf("%w: %d model(s) attempted", ErrEnsembleFitting, len(learners))
		m.fail(err)
		return 0, err
	}
	m.learners = kept

	elapsed := m.now().Sub(start)
	m.ledger.Set(ledger.KeySuccess, true)
	m.ledger.Set(ledger.KeyFitTime, elapsed.Seconds())
	m.metrics.ObserveFit(len(kept), len(learners)-len(kept), elapsed)
	return len(kept), nil
}

func (m *Manager) fail(err error) {
	m.ledger.Set(ledger.KeyFailure, err.Error())
	m.metrics.RecordFitError()
}
