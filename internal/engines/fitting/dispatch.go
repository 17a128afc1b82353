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
	"sync"

	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/harel-coffee/DeepProg-auto/internal/interfaces"
	"github.com/harel-coffee/DeepProg-auto/internal/logging"
)

// DispatchBackend queues one task per learner on a Runtime and blocks until
// every task completed. There is no timeout: a hung learner hangs the call.
type DispatchBackend struct {
	runtime *Runtime
}

var _ Backend = &DispatchBackend{}

// FitAll implements Backend.
func (b *DispatchBackend) FitAll(ctx context.Context, learners []interfaces.WeakLearner, sources []string) ([]bool, error) {
	if err := checkSources(learners, sources); err != nil {
		return nil, err
	}
	results := make([]bool, len(learners))
	err := b.dispatch(ctx, len(learners), func(ctx context.Context, i int) error {
		ok, err := fitOne(ctx, i, learners[i], sources)
		results[i] = ok
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Each implements Backend.
func (b *DispatchBackend) Each(ctx context.Context, learners []interfaces.WeakLearner, fn func(context.Context, int, interfaces.WeakLearner) error) error {
	return b.dispatch(ctx, len(learners), func(ctx context.Context, i int) error {
		return callOne(ctx, i, learners[i], fn)
	})
}

// dispatch submits n tasks and waits for all of them. Each task writes only
// its own error slot; the first error by index is returned.
func (b *DispatchBackend) dispatch(ctx context.Context, n int, task func(context.Context, int) error) error {
	if !b.runtime.Ready() {
		return ErrRuntimeNotReady
	}
	logger := ctrl.LoggerFrom(ctx)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		err := b.runtime.Submit(ctx, func() {
			defer wg.Done()
			errs[i] = task(ctx, i)
		})
		if err != nil {
			wg.Done()
			errs[i] = err
			break
		}
	}
	logger.V(logging.DEBUG).Info("Dispatched tasks, waiting for completion", "tasks", n, "workers", b.runtime.Workers())
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
