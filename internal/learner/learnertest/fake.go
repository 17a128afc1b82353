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
// Package learnertest provides an in-memory weak learner for tests.
package learnertest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harel-coffee/DeepProg-auto/internal/interfaces"
)

// Fake is a scripted weak learner. Its exported fields are read by the
// learner methods and must be set before use.
type Fake struct {
	FitOK      bool
	FitErr     error
	FitPanic   any
	PredictErr error
	Delay      time.Duration

	Attrs map[interfaces.Attribute]any
	Data  map[interfaces.DatasetAttribute]any

	FitCalls        atomic.Int32
	PretrainedCalls atomic.Int32
	PredictCalls    atomic.Int32

	mu      sync.Mutex
	sources []string
	written []interfaces.LabelFile
}

var _ interfaces.WeakLearner = &Fake{}

// New returns a fake whose fit succeeds.
func New() *Fake {
	return &Fake{
		FitOK: true,
		Attrs: map[interfaces.Attribute]any{},
		Data:  map[interfaces.DatasetAttribute]any{},
	}
}

func (f *Fake) fit(ctx context.Context) (bool, error) {
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	if f.FitPanic != nil {
		panic(f.FitPanic)
	}
	return f.FitOK, f.FitErr
}

// Fit implements interfaces.WeakLearner.
func (f *Fake) Fit(ctx context.Context) (bool, error) {
	f.FitCalls.Add(1)
	return f.fit(ctx)
}

// FitFromPretrainedLabels implements interfaces.WeakLearner.
func (f *Fake) FitFromPretrainedLabels(ctx context.Context, source string) (bool, error) {
	f.PretrainedCalls.Add(1)
	f.mu.Lock()
	f.sources = append(f.sources, source)
	f.mu.Unlock()
	return f.fit(ctx)
}

// PredictOnHoldout implements interfaces.WeakLearner.
func (f *Fake) PredictOnHoldout(ctx context.Context) error {
	f.PredictCalls.Add(1)
	return f.PredictErr
}

// Attribute implements interfaces.WeakLearner.
func (f *Fake) Attribute(name interfaces.Attribute) (any, error) {
	v, ok := f.Attrs[name]
	if !ok {
		return nil, fmt.Errorf("fake learner has no attribute %q", name)
	}
	return v, nil
}

// DatasetAttribute implements interfaces.WeakLearner.
func (f *Fake) DatasetAttribute(name interfaces.DatasetAttribute) (any, error) {
	v, ok := f.Data[name]
	if !ok {
		return nil, fmt.Errorf("fake learner has no dataset attribute %q", name)
	}
	return v, nil
}

// WriteLabels implements interfaces.WeakLearner.
func (f *Fake) WriteLabels(ctx context.Context, file interfaces.LabelFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, file)
	return nil
}

// Sources returns the label sources the fake was fitted from.
func (f *Fake) Sources() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sources...)
}

// Written returns the label files the fake was asked to write.
func (f *Fake) Written() []interfaces.LabelFile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interfaces.LabelFile(nil), f.written...)
}

// Learners converts fakes to the interface slice the engine consumes.
func Learners(fakes ...*Fake) []interfaces.WeakLearner {
	out := make([]interfaces.WeakLearner, len(fakes))
	for i, f := range fakes {
		out[i] = f
	}
	return out
}
