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
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrRuntimeNotReady is returned when the distributed strategy is used
// without a started Runtime.
var ErrRuntimeNotReady = errors.New("distributed runtime is not initialized")

// Runtime is a started pool of worker goroutines fed by a task queue.
type Runtime struct {
	workers int

	mu      sync.RWMutex
	started bool
	tasks   chan func()
	group   *errgroup.Group
}

// NewRuntime creates a runtime with the given number of workers (at least one).
func NewRuntime(workers int) *Runtime {
	if workers < 1 {
		workers = 1
	}
	return &Runtime{workers: workers}
}

// Workers returns the number of worker goroutines.
func (r *Runtime) Workers() int {
	return r.workers
}

// Start launches the workers. Starting a started runtime is a no-op.
func (r *Runtime) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.tasks = make(chan func())
	r.group = &errgroup.Group{}
	for w := 0; w < r.workers; w++ {
		tasks := r.tasks
		r.group.Go(func() error {
			for task := range tasks {
				task()
			}
			return nil
		})
	}
	r.started = true
}

// Ready reports whether the runtime accepts tasks. A nil runtime is never ready.
func (r *Runtime) Ready() bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.started
}

// Submit queues a task, blocking until a worker takes it or ctx is done.
func (r *Runtime) Submit(ctx context.Context, task func()) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.started {
		return ErrRuntimeNotReady
	}
	select {
	case r.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks and waits for the running ones.
func (r *Runtime) Shutdown() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	close(r.tasks)
	group := r.group
	r.mu.Unlock()
	return group.Wait()
}
