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
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Survival holds the observed time and event flag of a set of samples.
// Days[i] and Events[i] describe the same sample; Events is 1 for an observed
// event and 0 for a censored sample.
type Survival struct {
	Days   []float64
	Events []float64
}

// Len returns the number of samples.
func (s Survival) Len() int {
	return len(s.Days)
}

// Validate checks that both vectors have the same length.
func (s Survival) Validate() error {
	if len(s.Days) != len(s.Events) {
		return fmt.Errorf("survival days (%d) and events (%d) differ in length", len(s.Days), len(s.Events))
	}
	return nil
}

// Subset returns the survival of the samples at the given positions.
func (s Survival) Subset(index []int) Survival {
	out := Survival{
		Days:   make([]float64, len(index)),
		Events: make([]float64, len(index)),
	}
	for i, j := range index {
		out.Days[i] = s.Days[j]
		out.Events[i] = s.Events[j]
	}
	return out
}

// Append concatenates two survival records.
func (s Survival) Append(other Survival) Survival {
	return Survival{
		Days:   append(append([]float64{}, s.Days...), other.Days...),
		Events: append(append([]float64{}, s.Events...), other.Events...),
	}
}

// SampleProba is one model's cluster-probability vector for one sample.
type SampleProba struct {
	SampleID string
	Proba    []float64
}

// FeatureMatrix is a samples x features matrix with its row and column names.
type FeatureMatrix struct {
	SampleIDs []string
	Features  []string
	Values    *mat.Dense
}

// Validate checks the matrix shape against its names.
func (m FeatureMatrix) Validate() error {
	if m.Values == nil {
		return fmt.Errorf("feature matrix has no values")
	}
	rows, cols := m.Values.Dims()
	if rows != len(m.SampleIDs) {
		return fmt.Errorf("feature matrix has %d rows but %d sample ids", rows, len(m.SampleIDs))
	}
	if cols != len(m.Features) {
		return fmt.Errorf("feature matrix has %d columns but %d feature names", cols, len(m.Features))
	}
	return nil
}

// Reorder returns a copy of the matrix whose rows follow sampleIDs.
func (m FeatureMatrix) Reorder(sampleIDs []string) (FeatureMatrix, error) {
	pos := make(map[string]int, len(m.SampleIDs))
	for i, id := range m.SampleIDs {
		if _, seen := pos[id]; !seen {
			pos[id] = i
		}
	}
	_, cols := m.Values.Dims()
	out := mat.NewDense(len(sampleIDs), cols, nil)
	for i, id := range sampleIDs {
		j, ok := pos[id]
		if !ok {
			return FeatureMatrix{}, fmt.Errorf("sample %q is missing from the feature matrix", id)
		}
		out.SetRow(i, m.Values.RawRowView(j))
	}
	return FeatureMatrix{
		SampleIDs: append([]string{}, sampleIDs...),
		Features:  m.Features,
		Values:    out,
	}, nil
}
