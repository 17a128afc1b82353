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
package fitting

import (
	"context"
	"fmt"

	"github.com/harel-coffee/DeepProg-auto/internal/interfaces"
)

// Backend runs weak-learner operations over a pool. Both implementations
// return per-learner results in submission order.
type Backend interface {
	// FitAll fits every learner. With sources, learner i is fitted from
	// sources[i] and len(sources) must be >= len(learners). Any error aborts
	// the call and no partial results are returned.
	FitAll(ctx context.Context, learners []interfaces.WeakLearner, sources []string) ([]bool, error)

	// Each calls fn for every learner and returns the first error by learner order.
	Each(ctx context.Context, learners []interfaces.WeakLearner, fn func(ctx context.Context, i int, l interfaces.WeakLearner) error) error
}

// Strategy is an enumeration of the execution strategies of a Backend
type Strategy int

// enumeration of Strategy
const (
	LocalStrategy Strategy = iota
	DistributedStrategy
)

func (s Strategy) String() string {
	switch s {
	case LocalStrategy:
		return "local"
	case DistributedStrategy:
		return "distributed"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// StrategyFor returns the strategy selected by the distribute flag.
func StrategyFor(distribute bool) Strategy {
	if distribute {
		return DistributedStrategy
	}
	return LocalStrategy
}

// Options carries what a backend needs beyond its strategy.
type Options struct {
	// Runtime is required by the distributed strategy and must be started.
	Runtime *Runtime
}

// NewBackend is a factory that creates a Backend for the given strategy
func NewBackend(strategy Strategy, opts Options) (Backend, error) {
	switch strategy {
	case LocalStrategy:
		return &LocalBackend{}, nil
	case DistributedStrategy:
		if !opts.Runtime.Ready() {
			return nil, ErrRuntimeNotReady
		}
		return &DispatchBackend{runtime: opts.Runtime}, nil
	default:
		return nil, fmt.Errorf("unsupported fitting strategy: %v", strategy)
	}
}

func checkSources(learners []interfaces.WeakLearner, sources []string) error {
	if sources != nil && len(sources) < len(learners) {
		return fmt.Errorf("got %d label sources for %d learners", len(sources), len(learners))
	}
	return nil
}

// fitOne runs the fit of learner i, converting a panic into an error.
func fitOne(ctx context.Context, i int, l interfaces.WeakLearner, sources []string) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("learner %d panicked: %v", i, r)
		}
	}()
	if sources != nil {
		ok, err = l.FitFromPretrainedLabels(ctx, sources[i])
	} else {
		ok, err = l.Fit(ctx)
	}
	if err != nil {
		return false, fmt.Errorf("learner %d: %w", i, err)
	}
	return ok, nil
}

func callOne(ctx context.Context, i int, l interfaces.WeakLearner, fn func(context.Context, int, interfaces.WeakLearner) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("learner %d panicked: %v", i, r)
		}
	}()
	return fn(ctx, i, l)
}
