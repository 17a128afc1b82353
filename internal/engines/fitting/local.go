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

	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/harel-coffee/DeepProg-auto/internal/interfaces"
	"github.com/harel-coffee/DeepProg-auto/internal/logging"
)

// LocalBackend calls every learner in-process, one after another.
type LocalBackend struct{}

var _ Backend = &LocalBackend{}

// FitAll implements Backend.
func (b *LocalBackend) FitAll(ctx context.Context, learners []interfaces.WeakLearner, sources []string) ([]bool, error) {
	if err := checkSources(learners, sources); err != nil {
		return nil, err
	}
	logger := ctrl.LoggerFrom(ctx)
	results := make([]bool, len(learners))
	for i, l := range learners {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := fitOne(ctx, i, l, sources)
		if err != nil {
			return nil, err
		}
		logger.V(logging.DEBUG).Info("Fitted weak learner", "index", i, "ok", ok)
		results[i] = ok
	}
	return results, nil
}

// Each implements Backend.
func (b *LocalBackend) Each(ctx context.Context, learners []interfaces.WeakLearner, fn func(context.Context, int, interfaces.WeakLearner) error) error {
	for i, l := range learners {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := callOne(ctx, i, l, fn); err != nil {
			return err
		}
	}
	return nil
}
