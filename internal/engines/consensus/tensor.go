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
package consensus

import (
	"errors"
	"fmt"
	"math"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/harel-coffee/DeepProg-auto/internal/interfaces"
)

// ErrDuplicateSample is returned when a model reports the same sample twice
// under the ErrorOnDuplicate policy.
var ErrDuplicateSample = errors.New("duplicate sample in model probabilities")

// DuplicatePolicy decides what happens when one model reports a sample twice.
type DuplicatePolicy int

const (
	// KeepFirst keeps the first vector reported for a sample and drops the rest.
	KeepFirst DuplicatePolicy = iota
	// ErrorOnDuplicate rejects the model's probabilities.
	ErrorOnDuplicate
)

// Tensor is a models x samples x clusters probability tensor. A sample a
// model did not report is absent for that model and never contributes.
type Tensor struct {
	sampleIDs []string
	models    int
	clusters  int
	values    []float64
	present   []bool
}

// NewTensor creates an empty tensor where every entry is absent.
func NewTensor(models int, sampleIDs []string, clusters int) *Tensor {
	n := len(sampleIDs)
	return &Tensor{
		sampleIDs: append([]string(nil), sampleIDs...),
		models:    models,
		clusters:  clusters,
		values:    make([]float64, models*n*clusters),
		present:   make([]bool, models*n),
	}
}

// Models returns the size of the model axis.
func (t *Tensor) Models() int { return t.models }

// Samples returns the size of the sample axis.
func (t *Tensor) Samples() int { return len(t.sampleIDs) }

// Clusters returns the size of the cluster axis.
func (t *Tensor) Clusters() int { return t.clusters }

// SampleIDs returns the sample identifiers in tensor order.
func (t *Tensor) SampleIDs() []string {
	return append([]string(nil), t.sampleIDs...)
}

// Set stores the probability vector of a model for a sample and marks it present.
func (t *Tensor) Set(model, sample int, proba []float64) error {
	if len(proba) != t.clusters {
		return fmt.Errorf("probability vector has %d clusters, expected %d", len(proba), t.clusters)
	}
	base := (model*len(t.sampleIDs) + sample) * t.clusters
	copy(t.values[base:base+t.clusters], proba)
	t.present[model*len(t.sampleIDs)+sample] = true
	return nil
}

// Present reports whether the model reported the sample.
func (t *Tensor) Present(model, sample int) bool {
	return t.present[model*len(t.sampleIDs)+sample]
}

// At returns the probability of a cluster for a sample under a model.
// Absent entries read as 0.
func (t *Tensor) At(model, sample, cluster int) float64 {
	return t.values[(model*len(t.sampleIDs)+sample)*t.clusters+cluster]
}

// BuildTensor collects every model's per-sample probabilities into a tensor.
// Samples are ordered by first appearance across models. NaN probabilities
// are stored as 0.
func BuildTensor(perModel [][]interfaces.SampleProba, clusters int, policy DuplicatePolicy) (*Tensor, error) {
	var order []string
	seen := sets.New[string]()
	for _, probas := range perModel {
		for _, sp := range probas {
			if !seen.Has(sp.SampleID) {
				seen.Insert(sp.SampleID)
				order = append(order, sp.SampleID)
			}
		}
	}
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}

	t := NewTensor(len(perModel), order, clusters)
	for m, probas := range perModel {
		reported := sets.New[string]()
		for _, sp := range probas {
			if reported.Has(sp.SampleID) {
				if policy == ErrorOnDuplicate {
					return nil, fmt.Errorf("%w: model %d reported %q more than once", ErrDuplicateSample, m, sp.SampleID)
				}
				continue
			}
			reported.Insert(sp.SampleID)

			cleaned := make([]float64, len(sp.Proba))
			for c, p := range sp.Proba {
				if !math.IsNaN(p) {
					cleaned[c] = p
				}
			}
			if err := t.Set(m, pos[sp.SampleID], cleaned); err != nil {
				return nil, fmt.Errorf("model %d sample %q: %w", m, sp.SampleID, err)
			}
		}
	}
	return t, nil
}
